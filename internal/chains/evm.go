package chains

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.openly.dev/pointy"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

// Define the ERC-20 transfer method signature
var (
	transferSig = []byte{0xa9, 0x05, 0x9c, 0xbb} // keccak256("transfer(address,uint256)")[0:4]
)

const (
	receiptStatusSuccess = 1
	rpcInvalidParams     = -32602
)

// etherscanEnvelope covers both the JSON-RPC proxy answers and the classic status/message errors.
type etherscanEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type evmReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
}

type evmTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

// EVMAdapter verifies Ethereum (ERC20) and BNB Smart Chain (BEP20) payments through an
// Etherscan-compatible proxy API. Both networks share this code path.
type EVMAdapter struct {
	logger         *slog.Logger
	network        entities.Network
	explorer       *explorerClient
	tokenDecimals  int32
	tokenContracts contractSet
}

func NewEVMAdapter(logger *slog.Logger, network entities.Network, baseURL string, cfg config.Explorer) *EVMAdapter {
	return &EVMAdapter{
		logger:         logger,
		network:        network,
		explorer:       newExplorerClient(logger, network, baseURL, cfg),
		tokenDecimals:  cfg.TokenDecimals,
		tokenContracts: newContractSet(cfg.TokenContracts, strings.ToLower),
	}
}

func (a *EVMAdapter) Network() entities.Network {
	return a.network
}

func (a *EVMAdapter) FetchTransaction(ctx context.Context, hash, _ string) (*entities.Transaction, error) {
	if !isEVMHash(hash) {
		return nil, fmt.Errorf("%s transaction %q is not a 32-byte hex hash: %w", a.network, hash, entities.ErrTransactionNotFound)
	}

	var receipt evmReceipt
	mined, err := a.proxy(ctx, "eth_getTransactionReceipt", hash, &receipt)
	if err != nil {
		return nil, err
	}

	var body evmTransaction
	found, err := a.proxy(ctx, "eth_getTransactionByHash", hash, &body)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s transaction %s: %w", a.network, hash, entities.ErrTransactionNotFound)
	}

	tx := &entities.Transaction{
		Hash:    body.Hash.Hex(),
		Network: a.network,
		From:    body.From.Hex(),
		Value:   WeiToEther(body.Value.ToInt()),
		Status:  entities.TxStatusPending,
	}
	if body.To != nil {
		tx.To = body.To.Hex()
	}

	isTransferCall := tx.Value.IsZero() && len(body.Input) >= 68 && bytes.Equal(body.Input[:4], transferSig)
	switch {
	case isTransferCall && !a.tokenContracts.contains(tx.To):
		a.logger.WarnContext(ctx, "Ignoring transfer call to unlisted token contract",
			"tx_hash", hash,
			"network", a.network,
			"contract", tx.To)
	case isTransferCall:
		recipient := common.BytesToAddress(body.Input[16:36])
		amount := new(big.Int).SetBytes(body.Input[36:68])

		a.logger.DebugContext(ctx, "Decoded token transfer",
			"tx_hash", hash,
			"network", a.network,
			"contract", tx.To,
			"to", recipient.Hex())

		tx.To = recipient.Hex()
		tx.Value = FromSmallestUnit(amount, a.tokenDecimals)
	}

	if !mined {
		return tx, nil
	}

	if uint64(receipt.Status) == receiptStatusSuccess {
		tx.Status = entities.TxStatusConfirmed
	} else {
		tx.Status = entities.TxStatusFailed
	}
	tx.BlockNumber = pointy.Uint64(uint64(receipt.BlockNumber))

	head, err := a.blockNumber(ctx)
	if err != nil {
		return nil, err
	}
	tx.Confirmations = confirmationsBetween(head, uint64(receipt.BlockNumber))

	return tx, nil
}

func (a *EVMAdapter) CountConfirmations(ctx context.Context, hash string) (uint64, error) {
	if !isEVMHash(hash) {
		return 0, fmt.Errorf("%s transaction %q is not a 32-byte hex hash: %w", a.network, hash, entities.ErrTransactionNotFound)
	}

	var receipt evmReceipt
	mined, err := a.proxy(ctx, "eth_getTransactionReceipt", hash, &receipt)
	if err != nil {
		return 0, err
	}
	if !mined {
		return 0, nil
	}

	head, err := a.blockNumber(ctx)
	if err != nil {
		return 0, err
	}

	return confirmationsBetween(head, uint64(receipt.BlockNumber)), nil
}

func (a *EVMAdapter) blockNumber(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	found, err := a.proxy(ctx, "eth_blockNumber", "", &head)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%s eth_blockNumber returned no result: %w", a.network, entities.ErrServiceUnavailable)
	}
	return uint64(head), nil
}

// proxy calls module=proxy&action=<action>. It reports found=false when the explorer answers null.
func (a *EVMAdapter) proxy(ctx context.Context, action, hash string, out any) (bool, error) {
	query := url.Values{}
	query.Set("module", "proxy")
	query.Set("action", action)
	if hash != "" {
		query.Set("txhash", hash)
	}
	if a.explorer.apiKey != "" {
		query.Set("apikey", a.explorer.apiKey)
	}

	var envelope etherscanEnvelope
	if err := a.explorer.getJSON(ctx, "", query, &envelope); err != nil {
		return false, fmt.Errorf("%s %s: %w", a.network, action, err)
	}

	if envelope.Error != nil && envelope.Error.Code == rpcInvalidParams {
		return false, fmt.Errorf("%s %s: rpc error %d %s: %w",
			a.network, action, envelope.Error.Code, envelope.Error.Message, entities.ErrTransactionNotFound)
	}
	if envelope.Error != nil {
		return false, fmt.Errorf("%s %s: rpc error %d %s: %w",
			a.network, action, envelope.Error.Code, envelope.Error.Message, entities.ErrServiceUnavailable)
	}
	if envelope.Status == "0" {
		return false, fmt.Errorf("%s %s: %s %s: %w",
			a.network, action, envelope.Message, truncate(envelope.Result), entities.ErrServiceUnavailable)
	}

	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return false, nil
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return false, fmt.Errorf("failed to decode %s %s result: %w: %w", a.network, action, entities.ErrServiceUnavailable, err)
	}

	return true, nil
}

func isEVMHash(hash string) bool {
	raw, err := hexutil.Decode(hash)
	return err == nil && len(raw) == common.HashLength
}
