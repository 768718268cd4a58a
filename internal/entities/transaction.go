package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the on-chain state of a normalized transaction.
type TxStatus string

// Стандартизированные статусы транзакций
const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction is the chain-independent view of a payment produced by a chain adapter.
// Value is always in the chain's canonical coin unit (BTC, ETH, TRX), never in wei/satoshi/sun.
type Transaction struct {
	Hash          string          `json:"hash"`
	Network       Network         `json:"network"`
	From          string          `json:"fromAddress"`
	To            string          `json:"toAddress"`
	Value         decimal.Decimal `json:"value"`
	Confirmations uint64          `json:"confirmations"`
	Status        TxStatus        `json:"status"`
	BlockNumber   *uint64         `json:"blockNumber,omitempty"` // set once mined
	Timestamp     *time.Time      `json:"timestamp,omitempty"`   // set once mined
}

// IsMined reports whether the transaction was included in a block.
func (t *Transaction) IsMined() bool {
	return t.BlockNumber != nil
}
