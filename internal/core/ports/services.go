package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

// ChainAdapter fetches and normalizes transactions of one network family.
// Implementations return entities.ErrTransactionNotFound or entities.ErrServiceUnavailable (wrapped).
type ChainAdapter interface {
	Network() entities.Network
	FetchTransaction(ctx context.Context, hash, expectedAddress string) (*entities.Transaction, error)
	CountConfirmations(ctx context.Context, hash string) (uint64, error)
}

// Verifier produces verdicts. A nil result with a non-nil error means the caller's context ended.
type Verifier interface {
	Verify(ctx context.Context, req entities.VerifyRequest) (*entities.VerificationResult, error)
	VerifyBatch(ctx context.Context, reqs []entities.VerifyRequest) ([]*entities.VerificationResult, error)
}

// PriceOracle returns the USD price of a coin, zero when unknown.
type PriceOracle interface {
	GetPrice(ctx context.Context, coin string) decimal.Decimal
}

// VerificationsRepository persists the re-check backlog.
type VerificationsRepository interface {
	Create(ctx context.Context, req entities.VerifyRequest, nextCheckAt time.Time) (*entities.PendingVerification, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entities.PendingVerification, error)
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]entities.PendingVerification, error)
	SaveOutcome(ctx context.Context, id uuid.UUID, outcome entities.RecheckOutcome) error
}
