package entities

import (
	"github.com/shopspring/decimal"
)

// User-visible failure texts. All of them originate in the verification service.
const (
	MsgTransactionNotFound = "Transaction not found"
	MsgServiceUnavailable  = "Verification service unavailable"
	MsgUnsupportedNetwork  = "Unsupported network: %s"
	MsgInvalidRequest      = "Invalid verification request: %s"
)

// FailureReason classifies a lookup failure so callers can decide whether to retry.
type FailureReason string

const (
	ReasonUnsupportedNetwork FailureReason = "unsupported_network"
	ReasonNotFound           FailureReason = "transaction_not_found"
	ReasonServiceUnavailable FailureReason = "service_unavailable"
	ReasonInvalidRequest     FailureReason = "invalid_request"
)

// VerifyRequest is the input of a single verification.
type VerifyRequest struct {
	TxHash          string          `json:"transactionHash" validate:"required,max=128"`
	ExpectedAddress string          `json:"expectedAddress" validate:"required,max=128"`
	ExpectedAmount  decimal.Decimal `json:"expectedAmount"`
	Network         string          `json:"network"         validate:"required"`
	Coin            string          `json:"coin"`
}

// VerificationResult is the verdict returned to callers.
// Error is nil unless the lookup itself failed; mismatches are reported through the flags.
type VerificationResult struct {
	IsValid               bool          `json:"isValid"`
	Transaction           *Transaction  `json:"transaction"`
	Confirmations         uint64        `json:"confirmations"`
	RequiredConfirmations uint64        `json:"requiredConfirmations"`
	AmountMatch           bool          `json:"amountMatch"`
	AddressMatch          bool          `json:"addressMatch"`
	Error                 *string       `json:"error"`
	Reason                FailureReason `json:"reason,omitempty"`
	Retryable             bool          `json:"retryable"`
}

// Failed reports whether the lookup did not produce a transaction.
func (r *VerificationResult) Failed() bool {
	return r.Error != nil
}
