package usecases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

const merchant = "MerchantAddress"

func request(network, amount string) entities.VerifyRequest {
	return entities.VerifyRequest{
		TxHash:          "0xabc",
		ExpectedAddress: merchant,
		ExpectedAmount:  decimal.RequireFromString(amount),
		Network:         network,
		Coin:            "USDT",
	}
}

func TestVerify_ValidOnEveryNetwork(t *testing.T) {
	for network, required := range DefaultConfirmationThresholds {
		t.Run(network.String(), func(t *testing.T) {
			adapter := &fakeAdapter{network: network, tx: confirmedTx(network, merchant, "100", required)}
			svc := newTestService(config.Verification{}, adapter)

			result, err := svc.Verify(t.Context(), request(network.String(), "100"))
			require.NoError(t, err)

			assert.True(t, result.IsValid)
			assert.True(t, result.AddressMatch)
			assert.True(t, result.AmountMatch)
			assert.Equal(t, required, result.Confirmations)
			assert.Equal(t, required, result.RequiredConfirmations)
			assert.Nil(t, result.Error)
			assert.NotNil(t, result.Transaction)
		})
	}
}

func TestVerify_NetworkIsCaseInsensitive(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkTRC20, tx: confirmedTx(entities.NetworkTRC20, merchant, "5", 19)}
	svc := newTestService(config.Verification{}, adapter)

	result, err := svc.Verify(t.Context(), request(" trc20 ", "5"))
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestVerify_AddressMismatch(t *testing.T) {
	for network, required := range DefaultConfirmationThresholds {
		t.Run(network.String(), func(t *testing.T) {
			adapter := &fakeAdapter{network: network, tx: confirmedTx(network, "SomeoneElse", "100", required+5)}
			svc := newTestService(config.Verification{}, adapter)

			result, err := svc.Verify(t.Context(), request(network.String(), "100"))
			require.NoError(t, err)

			assert.False(t, result.AddressMatch)
			assert.True(t, result.AmountMatch)
			assert.False(t, result.IsValid)
		})
	}
}

func TestVerify_AddressComparisonIgnoresCase(t *testing.T) {
	to := "0xAbCdEf0000000000000000000000000000000001"
	adapter := &fakeAdapter{network: entities.NetworkERC20, tx: confirmedTx(entities.NetworkERC20, to, "1", 12)}
	svc := newTestService(config.Verification{}, adapter)

	req := request("ERC20", "1")
	req.ExpectedAddress = "0xabcdef0000000000000000000000000000000001"

	result, err := svc.Verify(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, result.AddressMatch)
	assert.True(t, result.IsValid)
}

func TestVerify_AmountTolerance(t *testing.T) {
	tests := []struct {
		received string
		want     bool
	}{
		{"100.05", true},
		{"101.00", false},
	}

	for _, tt := range tests {
		t.Run(tt.received, func(t *testing.T) {
			adapter := &fakeAdapter{network: entities.NetworkERC20, tx: confirmedTx(entities.NetworkERC20, merchant, tt.received, 12)}
			svc := newTestService(config.Verification{AmountTolerance: 0.001}, adapter)

			result, err := svc.Verify(t.Context(), request("ERC20", "100.00"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.AmountMatch)
			assert.Equal(t, tt.want, result.IsValid)
		})
	}
}

func TestVerify_ZeroExpectedAmountNeverMatches(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "0", 6)}
	svc := newTestService(config.Verification{}, adapter)

	result, err := svc.Verify(t.Context(), request("BITCOIN", "0"))
	require.NoError(t, err)
	assert.False(t, result.AmountMatch)
	assert.False(t, result.IsValid)
}

func TestVerify_ConfirmationBoundary(t *testing.T) {
	tests := []struct {
		confirmations uint64
		want          bool
	}{
		{5, false},
		{6, true},
		{7, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.confirmations), func(t *testing.T) {
			adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "0.01", tt.confirmations)}
			svc := newTestService(config.Verification{}, adapter)

			result, err := svc.Verify(t.Context(), request("BITCOIN", "0.01"))
			require.NoError(t, err)
			assert.True(t, result.AddressMatch)
			assert.True(t, result.AmountMatch)
			assert.Equal(t, tt.want, result.IsValid)
		})
	}
}

func TestVerify_ConfigurableThreshold(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 2)}
	svc := newTestService(config.Verification{Confirmations: map[string]uint64{"BITCOIN": 2}}, adapter)

	result, err := svc.Verify(t.Context(), request("BITCOIN", "1"))
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.EqualValues(t, 2, result.RequiredConfirmations)
}

func TestVerify_NonConfirmedStatusIsInvalid(t *testing.T) {
	for _, status := range []entities.TxStatus{entities.TxStatusPending, entities.TxStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			tx := confirmedTx(entities.NetworkERC20, merchant, "1", 50)
			tx.Status = status
			svc := newTestService(config.Verification{}, &fakeAdapter{network: entities.NetworkERC20, tx: tx})

			result, err := svc.Verify(t.Context(), request("ERC20", "1"))
			require.NoError(t, err)
			assert.True(t, result.AddressMatch)
			assert.True(t, result.AmountMatch)
			assert.False(t, result.IsValid)
		})
	}
}

func TestVerify_UnsupportedNetwork(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 6)}
	svc := newTestService(config.Verification{}, adapter)

	result, err := svc.Verify(t.Context(), request("DOGE", "1"))
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, "Unsupported network: DOGE", *result.Error)
	assert.Equal(t, entities.ReasonUnsupportedNetwork, result.Reason)
	assert.False(t, result.IsValid)
	assert.False(t, result.Retryable)
	assert.Nil(t, result.Transaction)
	assert.Zero(t, adapter.calls.Load())
}

func TestVerify_TransactionNotFound(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkTRC20, err: fmt.Errorf("lookup: %w", entities.ErrTransactionNotFound)}
	svc := newTestService(config.Verification{}, adapter)

	result, err := svc.Verify(t.Context(), request("TRC20", "1"))
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, "Transaction not found", *result.Error)
	assert.False(t, result.IsValid)
	assert.False(t, result.Retryable)
}

func TestVerify_ServiceUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		adapter *fakeAdapter
	}{
		{"explorer error", &fakeAdapter{network: entities.NetworkERC20, err: fmt.Errorf("http: %w", entities.ErrServiceUnavailable)}},
		{"unclassified error", &fakeAdapter{network: entities.NetworkERC20, err: fmt.Errorf("boom")}},
		{"timeout", &fakeAdapter{network: entities.NetworkERC20, block: true}},
		{"panic", &fakeAdapter{network: entities.NetworkERC20, panicWith: "nil map write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(config.Verification{TimeoutSeconds: 1}, tt.adapter)

			var (
				result *entities.VerificationResult
				err    error
			)
			require.NotPanics(t, func() {
				result, err = svc.Verify(t.Context(), request("ERC20", "1"))
			})
			require.NoError(t, err)

			require.NotNil(t, result.Error)
			assert.Equal(t, "Verification service unavailable", *result.Error)
			assert.False(t, result.IsValid)
			assert.True(t, result.Retryable)
		})
	}
}

func TestVerify_CallerCancellationIsNotAVerdict(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, block: true}
	svc := newTestService(config.Verification{TimeoutSeconds: 30}, adapter)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	result, err := svc.Verify(ctx, request("BITCOIN", "1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, result)
}

func TestVerify_AlreadyCancelledMakesNoCalls(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 6)}
	svc := newTestService(config.Verification{}, adapter)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	result, err := svc.Verify(ctx, request("BITCOIN", "1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Zero(t, adapter.calls.Load())
}

func TestVerify_InvalidRequest(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin, tx: confirmedTx(entities.NetworkBitcoin, merchant, "1", 6)}
	svc := newTestService(config.Verification{}, adapter)

	req := request("BITCOIN", "1")
	req.TxHash = ""

	result, err := svc.Verify(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "Invalid verification request")
	assert.Contains(t, *result.Error, "TxHash")
	assert.Equal(t, entities.ReasonInvalidRequest, result.Reason)
	assert.Zero(t, adapter.calls.Load())
}

func TestVerify_NetworkResolvedBeforeValidation(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBitcoin}
	svc := newTestService(config.Verification{}, adapter)

	req := request("DOGE", "1")
	req.TxHash = ""

	result, err := svc.Verify(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, "Unsupported network: DOGE", *result.Error)
	assert.Equal(t, entities.ReasonUnsupportedNetwork, result.Reason)

	req.Network = ""
	result, err = svc.Verify(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, entities.ReasonUnsupportedNetwork, result.Reason)
	assert.Zero(t, adapter.calls.Load())
}

func TestVerify_Idempotent(t *testing.T) {
	adapter := &fakeAdapter{network: entities.NetworkBEP20, tx: confirmedTx(entities.NetworkBEP20, merchant, "42", 20)}
	svc := newTestService(config.Verification{}, adapter)

	first, err := svc.Verify(t.Context(), request("BEP20", "42"))
	require.NoError(t, err)
	second, err := svc.Verify(t.Context(), request("BEP20", "42"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
	assert.NotSame(t, first.Transaction, second.Transaction)
}

func TestSupportedNetworks(t *testing.T) {
	svc := newTestService(config.Verification{},
		&fakeAdapter{network: entities.NetworkTRC20},
		&fakeAdapter{network: entities.NetworkBitcoin},
	)

	assert.Equal(t, []entities.Network{entities.NetworkBitcoin, entities.NetworkTRC20}, svc.SupportedNetworks())
}
