package entities

import (
	"time"

	"github.com/google/uuid"
)

// BacklogStatus is the lifecycle state of a queued verification.
type BacklogStatus string

const (
	BacklogPending BacklogStatus = "pending"
	BacklogValid   BacklogStatus = "valid"
	BacklogInvalid BacklogStatus = "invalid"
	BacklogFailed  BacklogStatus = "failed"
)

// PendingVerification is a queued verification re-checked by the background worker.
type PendingVerification struct {
	ID              uuid.UUID     `db:"id"               json:"id"`
	TxHash          string        `db:"tx_hash"          json:"transactionHash"`
	Network         string        `db:"network"          json:"network"`
	Coin            string        `db:"coin"             json:"coin"`
	ExpectedAddress string        `db:"expected_address" json:"expectedAddress"`
	ExpectedAmount  string        `db:"expected_amount"  json:"expectedAmount"`
	Status          BacklogStatus `db:"status"           json:"status"`
	Attempts        int           `db:"attempts"         json:"attempts"`
	Confirmations   int64         `db:"confirmations"    json:"confirmations"`
	LastError       *string       `db:"last_error"       json:"lastError"`
	NextCheckAt     time.Time     `db:"next_check_at"    json:"nextCheckAt"`
	CreatedAt       time.Time     `db:"created_at"       json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at"       json:"updatedAt"`
}

// RecheckOutcome is what the worker persists after one verification attempt.
type RecheckOutcome struct {
	Status        BacklogStatus
	Confirmations uint64
	LastError     *string
	NextCheckAt   time.Time
}
