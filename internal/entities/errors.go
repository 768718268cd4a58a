package entities

import "errors"

// Adapter and repository errors. Wrap with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	ErrUnsupportedNetwork   = errors.New("unsupported network")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrServiceUnavailable   = errors.New("explorer service unavailable")
	ErrVerificationNotFound = errors.New("verification not found")
)
