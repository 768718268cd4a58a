package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/usecases"
)

type stubVerifier struct {
	result *entities.VerificationResult
	err    error
	got    []entities.VerifyRequest
}

func (s *stubVerifier) Verify(_ context.Context, req entities.VerifyRequest) (*entities.VerificationResult, error) {
	s.got = append(s.got, req)
	return s.result, s.err
}

func (s *stubVerifier) VerifyBatch(_ context.Context, reqs []entities.VerifyRequest) ([]*entities.VerificationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*entities.VerificationResult, len(reqs))
	for i := range reqs {
		out[i] = s.result
	}
	return out, nil
}

type stubCatalog struct{}

func (stubCatalog) SupportedNetworks() []entities.Network {
	return []entities.Network{entities.NetworkBitcoin, entities.NetworkTRC20}
}

func (stubCatalog) Policy() *usecases.Policy {
	return usecases.NewPolicy(nil)
}

type stubRepo struct {
	created *entities.PendingVerification
	stored  map[uuid.UUID]*entities.PendingVerification
}

func (s *stubRepo) Create(_ context.Context, req entities.VerifyRequest, next time.Time) (*entities.PendingVerification, error) {
	s.created = &entities.PendingVerification{
		ID:              uuid.New(),
		TxHash:          req.TxHash,
		Network:         entities.ParseNetwork(req.Network).String(),
		ExpectedAddress: req.ExpectedAddress,
		ExpectedAmount:  req.ExpectedAmount.String(),
		Status:          entities.BacklogPending,
		NextCheckAt:     next,
	}
	return s.created, nil
}

func (s *stubRepo) FindByID(_ context.Context, id uuid.UUID) (*entities.PendingVerification, error) {
	if v, ok := s.stored[id]; ok {
		return v, nil
	}
	return nil, entities.ErrVerificationNotFound
}

func (s *stubRepo) ClaimDue(context.Context, int, time.Duration) ([]entities.PendingVerification, error) {
	return nil, nil
}

func (s *stubRepo) SaveOutcome(context.Context, uuid.UUID, entities.RecheckOutcome) error {
	return nil
}

type stubPrices struct{}

func (stubPrices) GetPrice(_ context.Context, coin string) decimal.Decimal {
	if coin == "BTC" {
		return decimal.RequireFromString("65000.5")
	}
	return decimal.Zero
}

func newRouter(verifier *stubVerifier, repo *stubRepo) *mux.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHTTPHandler(logger, verifier, stubCatalog{}, nil, stubPrices{})
	if repo != nil {
		h = NewHTTPHandler(logger, verifier, stubCatalog{}, repo, stubPrices{})
	}

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVerifyHandler(t *testing.T) {
	verifier := &stubVerifier{result: &entities.VerificationResult{
		IsValid:               true,
		AddressMatch:          true,
		AmountMatch:           true,
		Confirmations:         7,
		RequiredConfirmations: 6,
	}}
	router := newRouter(verifier, nil)

	rec := do(t, router, http.MethodPost, "/verify",
		`{"transactionHash":"abc","expectedAddress":"bc1q","expectedAmount":"0.01","network":"bitcoin","coin":"BTC"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["isValid"])
	assert.Nil(t, body["error"])
	assert.Nil(t, body["transaction"])
	assert.EqualValues(t, 7, body["confirmations"])

	require.Len(t, verifier.got, 1)
	assert.True(t, decimal.RequireFromString("0.01").Equal(verifier.got[0].ExpectedAmount))
}

func TestVerifyHandler_FailureIsStillAVerdict(t *testing.T) {
	router := newRouter(&stubVerifier{result: &entities.VerificationResult{
		Error:  pointy.String("Unsupported network: DOGE"),
		Reason: entities.ReasonUnsupportedNetwork,
	}}, nil)

	rec := do(t, router, http.MethodPost, "/verify", `{"transactionHash":"a","expectedAddress":"b","expectedAmount":1,"network":"DOGE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Unsupported network: DOGE"`)
	assert.Contains(t, rec.Body.String(), `"isValid":false`)
}

func TestVerifyHandler_Errors(t *testing.T) {
	router := newRouter(&stubVerifier{err: context.Canceled}, nil)

	rec := do(t, router, http.MethodPost, "/verify", `{"transactionHash":"a","expectedAddress":"b","expectedAmount":1,"network":"TRC20"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodPost, "/verify", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyBatchHandler(t *testing.T) {
	router := newRouter(&stubVerifier{result: &entities.VerificationResult{IsValid: true}}, nil)

	rec := do(t, router, http.MethodPost, "/verify/batch",
		`[{"transactionHash":"a","expectedAddress":"b","expectedAmount":1,"network":"TRC20"},
		  {"transactionHash":"c","expectedAddress":"d","expectedAmount":2,"network":"BITCOIN"}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 2)
}

func TestEnqueueAndGetVerification(t *testing.T) {
	repo := &stubRepo{stored: map[uuid.UUID]*entities.PendingVerification{}}
	router := newRouter(&stubVerifier{}, repo)

	rec := do(t, router, http.MethodPost, "/verifications",
		`{"transactionHash":"abc","expectedAddress":"T9yD","expectedAmount":"25","network":"trc20","coin":"USDT"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, "TRC20", repo.created.Network)

	repo.stored[repo.created.ID] = repo.created

	rec = do(t, router, http.MethodGet, "/verifications/"+repo.created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	rec = do(t, router, http.MethodGet, "/verifications/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/verifications/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueVerification_Rejects(t *testing.T) {
	router := newRouter(&stubVerifier{}, &stubRepo{})

	tests := []struct {
		name string
		body string
	}{
		{"unsupported network", `{"transactionHash":"a","expectedAddress":"b","expectedAmount":1,"network":"DOGE"}`},
		{"missing hash", `{"expectedAddress":"b","expectedAmount":1,"network":"TRC20"}`},
		{"zero amount", `{"transactionHash":"a","expectedAddress":"b","expectedAmount":0,"network":"TRC20"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/verifications", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEnqueueVerification_BacklogDisabled(t *testing.T) {
	router := newRouter(&stubVerifier{}, nil)

	rec := do(t, router, http.MethodPost, "/verifications", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetNetworks(t *testing.T) {
	router := newRouter(&stubVerifier{}, nil)

	rec := do(t, router, http.MethodGet, "/networks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []networkInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []networkInfo{
		{Network: entities.NetworkBitcoin, RequiredConfirmations: 6},
		{Network: entities.NetworkTRC20, RequiredConfirmations: 19},
	}, body)
}

func TestGetPriceAndHealth(t *testing.T) {
	router := newRouter(&stubVerifier{}, nil)

	rec := do(t, router, http.MethodGet, "/prices/btc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"coin":"BTC","usd":"65000.5"}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
