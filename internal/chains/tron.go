package chains

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

const (
	tronContractSuccess      = "SUCCESS"
	tronTransferContract     = "TransferContract"
	tronTriggerSmartContract = "TriggerSmartContract"
	tronAddressPrefix        = 0x41
	tronAddressLength        = 21 // prefix + 20 bytes
)

// tronTransaction mirrors the subset of /wallet/gettransactionbyid used for verification.
type tronTransaction struct {
	TxID string `json:"txID"`
	Ret  []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount          int64  `json:"amount"`
					CallValue       int64  `json:"call_value"`
					OwnerAddress    string `json:"owner_address"`
					ToAddress       string `json:"to_address"`
					ContractAddress string `json:"contract_address"`
					Data            string `json:"data"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
		Timestamp int64 `json:"timestamp"`
	} `json:"raw_data"`
}

type tronTransactionInfo struct {
	ID             string `json:"id"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimeStamp int64  `json:"blockTimeStamp"`
}

type tronBlock struct {
	BlockHeader struct {
		RawData struct {
			Number    uint64 `json:"number"`
			Timestamp int64  `json:"timestamp"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

// TronAdapter verifies TRX and TRC20 transfers through a TronGrid-compatible HTTP API.
type TronAdapter struct {
	logger         *slog.Logger
	explorer       *explorerClient
	tokenContracts contractSet
}

func NewTronAdapter(logger *slog.Logger, baseURL string, cfg config.Explorer) *TronAdapter {
	return &TronAdapter{
		logger:         logger,
		explorer:       newExplorerClient(logger, entities.NetworkTRC20, baseURL, cfg),
		tokenContracts: newContractSet(cfg.TokenContracts, NormalizeTronAddress),
	}
}

func (a *TronAdapter) Network() entities.Network {
	return entities.NetworkTRC20
}

func (a *TronAdapter) FetchTransaction(ctx context.Context, hash, _ string) (*entities.Transaction, error) {
	raw, err := a.getTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}

	if len(raw.RawData.Contract) == 0 {
		return nil, fmt.Errorf("tron transaction %s has no contract: %w", hash, entities.ErrServiceUnavailable)
	}

	contract := raw.RawData.Contract[0]
	value := contract.Parameter.Value

	tx := &entities.Transaction{
		Hash:    raw.TxID,
		Network: entities.NetworkTRC20,
		From:    NormalizeTronAddress(value.OwnerAddress),
		Status:  entities.TxStatusPending,
	}

	switch contract.Type {
	case tronTransferContract:
		tx.To = NormalizeTronAddress(value.ToAddress)
		tx.Value = SunToTRX(big.NewInt(value.Amount))
	case tronTriggerSmartContract:
		tx.To = NormalizeTronAddress(value.ContractAddress)
		tx.Value = SunToTRX(big.NewInt(value.CallValue))
		if !a.tokenContracts.contains(value.ContractAddress) {
			a.logger.WarnContext(ctx, "Ignoring call to unlisted token contract",
				"tx_hash", hash,
				"contract", tx.To)
			break
		}

		to, amount, err := decodeTransferCall(value.Data)
		if err != nil {
			a.logger.WarnContext(ctx, "Unsupported smart contract call",
				"tx_hash", hash,
				"contract", tx.To,
				"error", err)
			break
		}
		tx.To = tronAddressFromEVM(to)
		tx.Value = SunToTRX(amount)
	default:
		a.logger.WarnContext(ctx, "Unsupported tron contract type", "tx_hash", hash, "type", contract.Type)
		tx.Value = decimal.Zero
	}

	if len(raw.Ret) > 0 && raw.Ret[0].ContractRet != "" && raw.Ret[0].ContractRet != tronContractSuccess {
		tx.Status = entities.TxStatusFailed
	}

	info, err := a.getTransactionInfo(ctx, hash)
	if err != nil {
		return nil, err
	}

	if info.BlockNumber > 0 {
		head, err := a.headBlock(ctx)
		if err != nil {
			return nil, err
		}

		tx.BlockNumber = pointy.Uint64(info.BlockNumber)
		minedAt := time.UnixMilli(info.BlockTimeStamp).UTC()
		tx.Timestamp = &minedAt
		tx.Confirmations = confirmationsBetween(head, info.BlockNumber)

		if tx.Status != entities.TxStatusFailed && len(raw.Ret) > 0 && raw.Ret[0].ContractRet == tronContractSuccess {
			tx.Status = entities.TxStatusConfirmed
		}
	}

	return tx, nil
}

func (a *TronAdapter) CountConfirmations(ctx context.Context, hash string) (uint64, error) {
	info, err := a.getTransactionInfo(ctx, hash)
	if err != nil {
		return 0, err
	}
	if info.BlockNumber == 0 {
		return 0, nil
	}

	head, err := a.headBlock(ctx)
	if err != nil {
		return 0, err
	}

	return confirmationsBetween(head, info.BlockNumber), nil
}

func (a *TronAdapter) getTransaction(ctx context.Context, hash string) (*tronTransaction, error) {
	var raw tronTransaction
	payload := map[string]any{"value": hash, "visible": true}
	if err := a.explorer.postJSON(ctx, "/wallet/gettransactionbyid", payload, &raw); err != nil {
		return nil, fmt.Errorf("gettransactionbyid %s: %w", hash, err)
	}

	// TronGrid answers unknown ids with an empty object
	if raw.TxID == "" {
		return nil, fmt.Errorf("tron transaction %s: %w", hash, entities.ErrTransactionNotFound)
	}

	return &raw, nil
}

func (a *TronAdapter) getTransactionInfo(ctx context.Context, hash string) (*tronTransactionInfo, error) {
	var info tronTransactionInfo
	if err := a.explorer.postJSON(ctx, "/wallet/gettransactioninfobyid", map[string]any{"value": hash}, &info); err != nil {
		return nil, fmt.Errorf("gettransactioninfobyid %s: %w", hash, err)
	}
	return &info, nil
}

func (a *TronAdapter) headBlock(ctx context.Context) (uint64, error) {
	var block tronBlock
	if err := a.explorer.postJSON(ctx, "/wallet/getnowblock", map[string]any{}, &block); err != nil {
		return 0, fmt.Errorf("getnowblock: %w", err)
	}
	if block.BlockHeader.RawData.Number == 0 {
		return 0, fmt.Errorf("getnowblock returned empty header: %w", entities.ErrServiceUnavailable)
	}
	return block.BlockHeader.RawData.Number, nil
}

// decodeTransferCall extracts recipient and amount from transfer(address,uint256) calldata given as hex.
func decodeTransferCall(data string) ([]byte, *big.Int, error) {
	payload, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid calldata: %w", err)
	}
	if len(payload) < 68 || !bytes.Equal(payload[:4], transferSig) {
		return nil, nil, fmt.Errorf("calldata is not a token transfer")
	}

	recipient := payload[16:36]
	amount := new(big.Int).SetBytes(payload[36:68])

	return recipient, amount, nil
}

// NormalizeTronAddress converts a hex address (41...) to its base58check form.
// Base58 input is returned unchanged.
func NormalizeTronAddress(address string) string {
	address = strings.TrimSpace(address)
	raw, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil || len(raw) != tronAddressLength || raw[0] != tronAddressPrefix {
		return address
	}
	return encodeBase58Check(raw)
}

func tronAddressFromEVM(addr []byte) string {
	raw := make([]byte, 0, tronAddressLength)
	raw = append(raw, tronAddressPrefix)
	raw = append(raw, addr...)
	return encodeBase58Check(raw)
}

func encodeBase58Check(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	buf := make([]byte, 0, len(payload)+4)
	buf = append(buf, payload...)
	buf = append(buf, second[:4]...)

	return base58.Encode(buf)
}
