package usecases

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

type fakeAdapter struct {
	network   entities.Network
	tx        *entities.Transaction
	err       error
	panicWith any
	block     bool
	delay     time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeAdapter) Network() entities.Network {
	return f.network
}

func (f *fakeAdapter) FetchTransaction(ctx context.Context, _, _ string) (*entities.Transaction, error) {
	f.calls.Add(1)

	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if current <= seen || f.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.panicWith != nil {
		panic(f.panicWith)
	}

	if f.block {
		<-ctx.Done()
		return nil, fmt.Errorf("explorer call: %w: %w", entities.ErrServiceUnavailable, ctx.Err())
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("explorer call: %w: %w", entities.ErrServiceUnavailable, ctx.Err())
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	copied := *f.tx
	return &copied, nil
}

func (f *fakeAdapter) CountConfirmations(context.Context, string) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.tx.Confirmations, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func confirmedTx(network entities.Network, to, value string, confirmations uint64) *entities.Transaction {
	block := uint64(1000)
	return &entities.Transaction{
		Hash:          "0xabc",
		Network:       network,
		From:          "sender",
		To:            to,
		Value:         decimal.RequireFromString(value),
		Confirmations: confirmations,
		Status:        entities.TxStatusConfirmed,
		BlockNumber:   &block,
	}
}

func newTestService(cfg config.Verification, adapters ...ports.ChainAdapter) *VerificationService {
	return NewVerificationService(testLogger(), cfg, adapters, nil)
}
