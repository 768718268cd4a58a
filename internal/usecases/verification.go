package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"
	"golang.org/x/sync/semaphore"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/metrics"
)

var _ ports.Verifier = (*VerificationService)(nil)

// Verification outcomes used as metric labels
const (
	outcomeValid       = "valid"
	outcomeInvalid     = "invalid"
	outcomeNotFound    = "not_found"
	outcomeUnavailable = "unavailable"
	outcomeUnsupported = "unsupported"
	outcomeBadRequest  = "bad_request"
	outcomeCancelled   = "cancelled"
)

// VerificationService turns a payment claim into a verdict by asking the chain adapter of the
// claimed network. It holds no per-call state and is safe for concurrent use.
type VerificationService struct {
	logger     *slog.Logger
	adapters   map[entities.Network]ports.ChainAdapter
	policy     *Policy
	comparator *AmountComparator
	validate   *validator.Validate
	metrics    metrics.Recorder
	timeout    time.Duration

	pools    map[entities.Network]*semaphore.Weighted
	fallback *semaphore.Weighted
	poolSum  int
}

func NewVerificationService(
	logger *slog.Logger,
	cfg config.Verification,
	adapters []ports.ChainAdapter,
	recorder metrics.Recorder,
) *VerificationService {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = ports.DefaultVerifyTimeout
	}

	s := &VerificationService{
		logger:     logger,
		adapters:   make(map[entities.Network]ports.ChainAdapter, len(adapters)),
		policy:     NewPolicy(cfg.Confirmations),
		comparator: NewAmountComparator(decimal.NewFromFloat(cfg.AmountTolerance)),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    recorder,
		timeout:    timeout,
		pools:      make(map[entities.Network]*semaphore.Weighted, len(adapters)),
		fallback:   semaphore.NewWeighted(ports.DefaultPoolSize),
		poolSum:    ports.DefaultPoolSize,
	}

	sizes := make(map[entities.Network]int, len(cfg.PoolSizes))
	for name, size := range cfg.PoolSizes {
		sizes[entities.ParseNetwork(name)] = size
	}

	for _, adapter := range adapters {
		network := adapter.Network()
		s.adapters[network] = adapter

		size := sizes[network]
		if size <= 0 {
			size = ports.DefaultPoolSize
		}
		s.pools[network] = semaphore.NewWeighted(int64(size))
		s.poolSum += size
	}

	return s
}

// Policy exposes the confirmation table the service applies.
func (s *VerificationService) Policy() *Policy {
	return s.policy
}

// SupportedNetworks lists networks that have an adapter, sorted.
func (s *VerificationService) SupportedNetworks() []entities.Network {
	networks := make([]entities.Network, 0, len(s.adapters))
	for _, network := range s.policy.Networks() {
		if _, ok := s.adapters[network]; ok {
			networks = append(networks, network)
		}
	}
	for network := range s.adapters {
		if _, ok := s.policy.thresholds[network]; !ok {
			networks = append(networks, network)
		}
	}
	return networks
}

// Verify checks that req.TxHash pays at least req.ExpectedAmount to req.ExpectedAddress on
// req.Network with enough confirmations. Lookup failures are reported inside the result; the
// returned error is non-nil only when ctx ends before a verdict exists.
func (s *VerificationService) Verify(ctx context.Context, req entities.VerifyRequest) (result *entities.VerificationResult, err error) {
	traceID := uuid.NewString()
	network := entities.ParseNetwork(req.Network)
	start := time.Now()

	logger := s.logger.With(
		"trace_id", traceID,
		"tx_hash", req.TxHash,
		"network", network)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Verification panicked", "panic", fmt.Sprint(r))
			result, err = s.unavailable(network), nil
		}
		s.observe(network, result, err, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	adapter, ok := s.adapters[network]
	if !ok {
		logger.WarnContext(ctx, "Unsupported network requested", "requested", req.Network)
		return failure(fmt.Sprintf(entities.MsgUnsupportedNetwork, strings.TrimSpace(req.Network)),
			entities.ReasonUnsupportedNetwork, s.policy.Required(network)), nil
	}

	if err := s.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "Rejected verification request", "error", err)
		return failure(fmt.Sprintf(entities.MsgInvalidRequest, describeValidation(err)),
			entities.ReasonInvalidRequest, s.policy.Required(network)), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, fetchErr := adapter.FetchTransaction(callCtx, strings.TrimSpace(req.TxHash), strings.TrimSpace(req.ExpectedAddress))
	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.InfoContext(ctx, "Verification abandoned by caller", "error", ctxErr)
			return nil, ctxErr
		}

		if errors.Is(fetchErr, entities.ErrTransactionNotFound) {
			logger.InfoContext(ctx, "Transaction not found", "error", fetchErr)
			return failure(entities.MsgTransactionNotFound, entities.ReasonNotFound, s.policy.Required(network)), nil
		}

		logger.ErrorContext(ctx, "Explorer lookup failed", "error", fetchErr)
		return s.unavailable(network), nil
	}

	result = s.verdict(network, tx, req)

	logger.InfoContext(ctx, "Verification completed",
		"is_valid", result.IsValid,
		"address_match", result.AddressMatch,
		"amount_match", result.AmountMatch,
		"confirmations", result.Confirmations,
		"required_confirmations", result.RequiredConfirmations,
		"status", tx.Status,
		"duration", time.Since(start).String())

	return result, nil
}

// verdict is the only place where IsValid is computed.
func (s *VerificationService) verdict(network entities.Network, tx *entities.Transaction, req entities.VerifyRequest) *entities.VerificationResult {
	required := s.policy.Required(network)

	addressMatch := tx.To != "" && strings.EqualFold(strings.TrimSpace(tx.To), strings.TrimSpace(req.ExpectedAddress))
	amountMatch := s.comparator.Matches(tx.Value, req.ExpectedAmount)

	return &entities.VerificationResult{
		IsValid:               addressMatch && amountMatch && tx.Confirmations >= required && tx.Status == entities.TxStatusConfirmed,
		Transaction:           tx,
		Confirmations:         tx.Confirmations,
		RequiredConfirmations: required,
		AmountMatch:           amountMatch,
		AddressMatch:          addressMatch,
	}
}

func (s *VerificationService) unavailable(network entities.Network) *entities.VerificationResult {
	res := failure(entities.MsgServiceUnavailable, entities.ReasonServiceUnavailable, s.policy.Required(network))
	res.Retryable = true
	return res
}

func failure(message string, reason entities.FailureReason, required uint64) *entities.VerificationResult {
	return &entities.VerificationResult{
		RequiredConfirmations: required,
		Error:                 pointy.String(message),
		Reason:                reason,
	}
}

func (s *VerificationService) observe(network entities.Network, result *entities.VerificationResult, err error, elapsed time.Duration) {
	labels := map[string]string{
		"network": network.String(),
		"outcome": outcomeOf(result, err),
	}
	s.metrics.IncCounter(metrics.VerificationsTotal, labels)
	s.metrics.ObserveLatency(metrics.VerificationLatency, elapsed, labels)
}

func outcomeOf(result *entities.VerificationResult, err error) string {
	switch {
	case err != nil || result == nil:
		return outcomeCancelled
	case result.IsValid:
		return outcomeValid
	case result.Reason == entities.ReasonNotFound:
		return outcomeNotFound
	case result.Reason == entities.ReasonServiceUnavailable:
		return outcomeUnavailable
	case result.Reason == entities.ReasonUnsupportedNetwork:
		return outcomeUnsupported
	case result.Reason == entities.ReasonInvalidRequest:
		return outcomeBadRequest
	default:
		return outcomeInvalid
	}
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}
