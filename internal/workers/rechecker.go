package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/metrics"
)

const (
	defaultRecheckInterval = time.Minute
	defaultBatchSize       = 50
	defaultMaxAttempts     = 20
	defaultBackoffBase     = 30 * time.Second
	defaultBackoffMax      = 30 * time.Minute
)

// Rechecker periodically re-verifies queued payments until they become valid, invalid or run out of attempts.
type Rechecker struct {
	logger   *slog.Logger
	repo     ports.VerificationsRepository
	verifier ports.Verifier
	metrics  metrics.Recorder

	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	now func() time.Time
}

func NewRechecker(
	logger *slog.Logger,
	cfg config.Workers,
	repo ports.VerificationsRepository,
	verifier ports.Verifier,
	recorder metrics.Recorder,
) *Rechecker {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	rc := &Rechecker{
		logger:      logger,
		repo:        repo,
		verifier:    verifier,
		metrics:     recorder,
		interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		backoffMax:  time.Duration(cfg.BackoffMaxSeconds) * time.Second,
		now:         time.Now,
	}

	if rc.interval <= 0 {
		rc.interval = defaultRecheckInterval
	}
	if rc.batchSize <= 0 {
		rc.batchSize = defaultBatchSize
	}
	if rc.maxAttempts <= 0 {
		rc.maxAttempts = defaultMaxAttempts
	}
	if rc.backoffBase <= 0 {
		rc.backoffBase = defaultBackoffBase
	}
	if rc.backoffMax <= 0 {
		rc.backoffMax = defaultBackoffMax
	}

	return rc
}

// Start runs the re-check loop until ctx is cancelled.
func (rc *Rechecker) Start(ctx context.Context) {
	rc.logger.Info("Starting verification rechecker worker",
		"interval", rc.interval.String(),
		"batch_size", rc.batchSize,
		"max_attempts", rc.maxAttempts)

	// Run an initial pass immediately
	if _, err := rc.RunOnce(ctx); err != nil {
		rc.logger.Error("Initial recheck failed", "error", err)
	}

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("Verification rechecker worker stopped")
			return
		case <-ticker.C:
			if _, err := rc.RunOnce(ctx); err != nil {
				rc.logger.Error("Recheck failed", "error", err)
			}
		}
	}
}

// RunOnce claims one batch of due verifications, verifies them and stores the outcomes.
// It returns the number of processed rows.
func (rc *Rechecker) RunOnce(ctx context.Context) (int, error) {
	due, err := rc.repo.ClaimDue(ctx, rc.batchSize, ports.RecheckLease)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		rc.logger.Debug("No verifications due")
		return 0, nil
	}

	processed := 0
	checkable := make([]entities.PendingVerification, 0, len(due))
	reqs := make([]entities.VerifyRequest, 0, len(due))
	for _, v := range due {
		amount, err := decimal.NewFromString(v.ExpectedAmount)
		if err != nil {
			rc.logger.Warn("Stored expected amount is not a number", "verification_id", v.ID, "amount", v.ExpectedAmount)
			outcome := entities.RecheckOutcome{
				Status:      entities.BacklogInvalid,
				NextCheckAt: rc.now(),
				LastError:   pointy.String(fmt.Sprintf("expected amount %q is not a number", v.ExpectedAmount)),
			}
			if rc.store(ctx, v, outcome) {
				processed++
			}
			continue
		}

		checkable = append(checkable, v)
		reqs = append(reqs, entities.VerifyRequest{
			TxHash:          v.TxHash,
			ExpectedAddress: v.ExpectedAddress,
			ExpectedAmount:  amount,
			Network:         v.Network,
			Coin:            v.Coin,
		})
	}
	if len(reqs) == 0 {
		return processed, nil
	}

	results, err := rc.verifier.VerifyBatch(ctx, reqs)
	if err != nil {
		// claimed rows become due again once their lease expires
		return processed, err
	}

	for i, v := range checkable {
		if rc.store(ctx, v, rc.decide(v, results[i])) {
			processed++
		}
	}

	return processed, nil
}

func (rc *Rechecker) store(ctx context.Context, v entities.PendingVerification, outcome entities.RecheckOutcome) bool {
	if err := rc.repo.SaveOutcome(ctx, v.ID, outcome); err != nil {
		rc.logger.Error("Failed to save recheck outcome", "verification_id", v.ID, "error", err)
		return false
	}

	rc.metrics.IncCounter(metrics.RechecksTotal, map[string]string{
		"network": v.Network,
		"outcome": string(outcome.Status),
	})

	rc.logger.Info("Verification rechecked",
		"verification_id", v.ID,
		"tx_hash", v.TxHash,
		"network", v.Network,
		"status", outcome.Status,
		"attempt", v.Attempts+1,
		"confirmations", outcome.Confirmations,
		"next_check_at", outcome.NextCheckAt)

	return true
}

// decide maps a verdict to the stored backlog state.
func (rc *Rechecker) decide(v entities.PendingVerification, result *entities.VerificationResult) entities.RecheckOutcome {
	now := rc.now()
	attempt := v.Attempts + 1

	outcome := entities.RecheckOutcome{
		Status:      entities.BacklogPending,
		NextCheckAt: now.Add(rc.backoff(attempt)),
		LastError:   result.Error,
	}
	if !result.Failed() {
		outcome.Confirmations = result.Confirmations
	}

	switch {
	case result.IsValid:
		outcome.Status = entities.BacklogValid
		outcome.NextCheckAt = now
		return outcome
	case result.Reason == entities.ReasonUnsupportedNetwork, result.Reason == entities.ReasonInvalidRequest:
		outcome.Status = entities.BacklogInvalid
		outcome.NextCheckAt = now
		return outcome
	case result.Transaction != nil && result.Transaction.Status == entities.TxStatusFailed:
		outcome.Status = entities.BacklogInvalid
		outcome.LastError = pointy.String("transaction failed on chain")
		outcome.NextCheckAt = now
		return outcome
	case result.Transaction != nil && result.Transaction.Status == entities.TxStatusConfirmed &&
		(!result.AddressMatch || !result.AmountMatch):
		outcome.Status = entities.BacklogInvalid
		outcome.LastError = pointy.String(mismatchReason(result))
		outcome.NextCheckAt = now
		return outcome
	}

	// not found, service unavailable or waiting for confirmations
	if attempt >= rc.maxAttempts {
		outcome.Status = entities.BacklogFailed
		outcome.NextCheckAt = now
		switch {
		case outcome.LastError != nil:
		case result.Transaction != nil && !result.Transaction.IsMined():
			outcome.LastError = pointy.String("transaction not mined before attempts ran out")
		default:
			outcome.LastError = pointy.String("confirmations not reached before attempts ran out")
		}
	}

	return outcome
}

// backoff returns base * 2^(attempt-1), capped at backoffMax.
func (rc *Rechecker) backoff(attempt int) time.Duration {
	delay := rc.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= rc.backoffMax {
			return rc.backoffMax
		}
	}
	return min(delay, rc.backoffMax)
}

func mismatchReason(result *entities.VerificationResult) string {
	switch {
	case !result.AddressMatch && !result.AmountMatch:
		return "address and amount mismatch"
	case !result.AddressMatch:
		return "address mismatch"
	default:
		return "amount mismatch"
	}
}
