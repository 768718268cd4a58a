package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/pkg/database"
)

const verificationsTable = "verifications"

var verificationColumns = []string{
	"id",
	"tx_hash",
	"network",
	"coin",
	"expected_address",
	"expected_amount::text AS expected_amount",
	"status",
	"attempts",
	"confirmations",
	"last_error",
	"next_check_at",
	"created_at",
	"updated_at",
}

var _ ports.VerificationsRepository = (*VerificationsRepository)(nil)

// VerificationsRepository stores queued verifications re-checked by the worker.
type VerificationsRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
	psql       sq.StatementBuilderType
}

func NewVerificationsRepository(logger *slog.Logger, pg *database.Postgres) *VerificationsRepository {
	return &VerificationsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		psql:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create queues a verification that becomes due at nextCheckAt.
func (r *VerificationsRepository) Create(ctx context.Context, req entities.VerifyRequest, nextCheckAt time.Time) (*entities.PendingVerification, error) {
	id := uuid.New()

	query, args, err := r.psql.
		Insert(verificationsTable).
		Columns("id", "tx_hash", "network", "coin", "expected_address", "expected_amount", "status", "next_check_at").
		Values(
			id,
			strings.TrimSpace(req.TxHash),
			entities.ParseNetwork(req.Network).String(),
			strings.ToUpper(strings.TrimSpace(req.Coin)),
			strings.TrimSpace(req.ExpectedAddress),
			req.ExpectedAmount.String(),
			entities.BacklogPending,
			nextCheckAt,
		).
		Suffix("RETURNING " + strings.Join(verificationColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert verification query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert verification: %w", err)
	}

	created, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.PendingVerification])
	if err != nil {
		return nil, fmt.Errorf("failed to collect inserted verification: %w", err)
	}

	r.logger.InfoContext(ctx, "Verification queued",
		"verification_id", created.ID,
		"tx_hash", created.TxHash,
		"network", created.Network)

	return &created, nil
}

func (r *VerificationsRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.PendingVerification, error) {
	query, args, err := r.psql.
		Select(verificationColumns...).
		From(verificationsTable).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build find verification query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification: %w", err)
	}

	found, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.PendingVerification])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrVerificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect verification: %w", err)
	}

	return &found, nil
}

// ClaimDue locks up to limit due pending rows and pushes their next_check_at forward by lease,
// so that concurrent workers do not pick the same rows.
func (r *VerificationsRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]entities.PendingVerification, error) {
	var claimed []entities.PendingVerification

	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := r.psql.
			Select(verificationColumns...).
			From(verificationsTable).
			Where(sq.Eq{"status": entities.BacklogPending}).
			Where(sq.LtOrEq{"next_check_at": time.Now()}).
			OrderBy("next_check_at").
			Limit(uint64(limit)).
			Suffix("FOR UPDATE SKIP LOCKED").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build claim query: %w", err)
		}

		rows, err := r.db(ctx).Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query due verifications: %w", err)
		}

		claimed, err = pgx.CollectRows(rows, pgx.RowToStructByName[entities.PendingVerification])
		if err != nil {
			return fmt.Errorf("failed to collect due verifications: %w", err)
		}

		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(claimed))
		for _, v := range claimed {
			ids = append(ids, v.ID.String())
		}

		update, args, err := r.psql.
			Update(verificationsTable).
			Set("next_check_at", time.Now().Add(lease)).
			Set("updated_at", sq.Expr("now()")).
			Where(sq.Eq{"id": ids}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build lease query: %w", err)
		}

		if _, err = r.db(ctx).Exec(ctx, update, args...); err != nil {
			return fmt.Errorf("failed to lease due verifications: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// SaveOutcome records the result of one re-check attempt.
func (r *VerificationsRepository) SaveOutcome(ctx context.Context, id uuid.UUID, outcome entities.RecheckOutcome) error {
	query, args, err := r.psql.
		Update(verificationsTable).
		Set("status", outcome.Status).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("confirmations", int64(outcome.Confirmations)).
		Set("last_error", outcome.LastError).
		Set("next_check_at", outcome.NextCheckAt).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build save outcome query: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save verification outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrVerificationNotFound
	}

	return nil
}
