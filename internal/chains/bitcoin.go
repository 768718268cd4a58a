package chains

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.openly.dev/pointy"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

const bitcoinTxIDLength = 32

type esploraTransaction struct {
	TxID string `json:"txid"`
	Vin  []struct {
		IsCoinbase bool `json:"is_coinbase"`
		Prevout    *struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		ScriptPubKeyType    string `json:"scriptpubkey_type"`
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}

// BitcoinAdapter verifies BTC payments through an Esplora-compatible API.
type BitcoinAdapter struct {
	logger   *slog.Logger
	explorer *explorerClient
}

func NewBitcoinAdapter(logger *slog.Logger, baseURL string, cfg config.Explorer) *BitcoinAdapter {
	return &BitcoinAdapter{
		logger:   logger,
		explorer: newExplorerClient(logger, entities.NetworkBitcoin, baseURL, cfg),
	}
}

func (a *BitcoinAdapter) Network() entities.Network {
	return entities.NetworkBitcoin
}

// FetchTransaction returns the payment made to expectedAddress. Outputs paying that address are
// summed; when none match, the largest output is reported so the caller sees the mismatch.
func (a *BitcoinAdapter) FetchTransaction(ctx context.Context, hash, expectedAddress string) (*entities.Transaction, error) {
	raw, err := a.getTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}

	tx := &entities.Transaction{
		Hash:    raw.TxID,
		Network: entities.NetworkBitcoin,
		Status:  entities.TxStatusPending,
	}

	for _, in := range raw.Vin {
		if in.Prevout != nil && in.Prevout.Address != "" {
			tx.From = in.Prevout.Address
			break
		}
	}

	expected := strings.TrimSpace(expectedAddress)
	var matched int64
	var largest int64 = -1
	var largestAddress string

	for _, out := range raw.Vout {
		if out.ScriptPubKeyAddress != "" && strings.EqualFold(out.ScriptPubKeyAddress, expected) {
			matched += out.Value
			tx.To = out.ScriptPubKeyAddress
		}
		if out.Value > largest && out.ScriptPubKeyAddress != "" {
			largest = out.Value
			largestAddress = out.ScriptPubKeyAddress
		}
	}

	if tx.To != "" {
		tx.Value = SatoshiToBTC(matched)
	} else {
		a.logger.DebugContext(ctx, "No output pays the expected address",
			"tx_hash", hash,
			"expected_address", expected,
			"outputs", len(raw.Vout))
		tx.To = largestAddress
		tx.Value = SatoshiToBTC(max(largest, 0))
	}

	if !raw.Status.Confirmed {
		return tx, nil
	}

	tip, err := a.tipHeight(ctx)
	if err != nil {
		return nil, err
	}

	minedAt := time.Unix(raw.Status.BlockTime, 0).UTC()
	tx.Status = entities.TxStatusConfirmed
	tx.BlockNumber = pointy.Uint64(raw.Status.BlockHeight)
	tx.Timestamp = &minedAt
	tx.Confirmations = confirmationsBetween(tip, raw.Status.BlockHeight)

	return tx, nil
}

func (a *BitcoinAdapter) CountConfirmations(ctx context.Context, hash string) (uint64, error) {
	raw, err := a.getTransaction(ctx, hash)
	if err != nil {
		return 0, err
	}
	if !raw.Status.Confirmed {
		return 0, nil
	}

	tip, err := a.tipHeight(ctx)
	if err != nil {
		return 0, err
	}

	return confirmationsBetween(tip, raw.Status.BlockHeight), nil
}

func (a *BitcoinAdapter) getTransaction(ctx context.Context, hash string) (*esploraTransaction, error) {
	// Esplora rejects malformed ids with 400, which is indistinguishable from an outage
	if raw, err := hex.DecodeString(hash); err != nil || len(raw) != bitcoinTxIDLength {
		return nil, fmt.Errorf("bitcoin txid %q is malformed: %w", hash, entities.ErrTransactionNotFound)
	}

	var raw esploraTransaction
	if err := a.explorer.getJSON(ctx, "/tx/"+hash, nil, &raw); err != nil {
		return nil, fmt.Errorf("bitcoin tx %s: %w", hash, err)
	}
	if raw.TxID == "" {
		return nil, fmt.Errorf("bitcoin tx %s: %w", hash, entities.ErrTransactionNotFound)
	}

	return &raw, nil
}

func (a *BitcoinAdapter) tipHeight(ctx context.Context) (uint64, error) {
	body, err := a.explorer.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, fmt.Errorf("bitcoin tip height: %w", err)
	}

	height, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bitcoin tip height %q: %w: %w", body, entities.ErrServiceUnavailable, err)
	}

	return height, nil
}
