package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

func TestVerifyBatch_PreservesOrder(t *testing.T) {
	svc := newTestService(config.Verification{},
		&fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 6), delay: 20 * time.Millisecond},
		&fakeAdapter{network: entities.NetworkTRC20, tx: confirmedTx(entities.NetworkTRC20, merchant, "1", 1)},
	)

	results, err := svc.VerifyBatch(t.Context(), []entities.VerifyRequest{
		request("BITCOIN", "1"),
		request("DOGE", "1"),
		request("TRC20", "1"),
		request("BITCOIN", "5"),
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].IsValid)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "Unsupported network: DOGE", *results[1].Error)
	assert.False(t, results[2].IsValid, "TRC20 needs 19 confirmations")
	assert.True(t, results[2].AmountMatch)
	assert.False(t, results[3].AmountMatch)
}

func TestVerifyBatch_BoundedPerNetwork(t *testing.T) {
	bitcoin := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 6), delay: 20 * time.Millisecond}
	svc := newTestService(config.Verification{PoolSizes: map[string]int{"bitcoin": 2}}, bitcoin)

	reqs := make([]entities.VerifyRequest, 10)
	for i := range reqs {
		reqs[i] = request("BITCOIN", "1")
	}

	results, err := svc.VerifyBatch(t.Context(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 10)

	assert.EqualValues(t, 10, bitcoin.calls.Load())
	assert.LessOrEqual(t, bitcoin.maxInFlight.Load(), int32(2))
	assert.Positive(t, bitcoin.maxInFlight.Load())
}

func TestVerifyBatch_Cancellation(t *testing.T) {
	svc := newTestService(config.Verification{TimeoutSeconds: 30},
		&fakeAdapter{network: entities.NetworkERC20, block: true},
	)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	results, err := svc.VerifyBatch(ctx, []entities.VerifyRequest{request("ERC20", "1"), request("ERC20", "2")})
	require.Error(t, err)
	assert.Nil(t, results)
}

func TestVerifyBatch_Empty(t *testing.T) {
	svc := newTestService(config.Verification{})

	results, err := svc.VerifyBatch(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
