package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/usecases"
)

const (
	maxBatchSize    = 100
	maxRequestBytes = 1 << 20
)

var _ NetworkCatalog = (*usecases.VerificationService)(nil)

type HTTPHandler struct {
	logger        *slog.Logger
	verifier      ports.Verifier
	catalog       NetworkCatalog
	verifications ports.VerificationsRepository
	prices        ports.PriceOracle
}

// NewHTTPHandler wires the API. verifications may be nil when the backlog store is disabled.
func NewHTTPHandler(
	logger *slog.Logger,
	verifier ports.Verifier,
	catalog NetworkCatalog,
	verifications ports.VerificationsRepository,
	prices ports.PriceOracle,
) *HTTPHandler {
	return &HTTPHandler{
		logger:        logger,
		verifier:      verifier,
		catalog:       catalog,
		verifications: verifications,
		prices:        prices,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Verification
	router.HandleFunc("/verify", h.Verify).Methods("POST")
	router.HandleFunc("/verify/batch", h.VerifyBatch).Methods("POST")

	// Backlog
	router.HandleFunc("/verifications", h.EnqueueVerification).Methods("POST")
	router.HandleFunc("/verifications/{id}", h.GetVerification).Methods("GET")

	// Reference data
	router.HandleFunc("/networks", h.GetNetworks).Methods("GET")
	router.HandleFunc("/prices/{coin}", h.GetPrice).Methods("GET")

	// Service
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req entities.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.verifier.Verify(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "[Verify] Verification outcome unknown", "tx_hash", req.TxHash, "error", err)
		writeError(w, http.StatusServiceUnavailable, "verification outcome unknown")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []entities.VerifyRequest
	if !h.decode(w, r, &reqs) {
		return
	}

	if len(reqs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch is too large")
		return
	}

	results, err := h.verifier.VerifyBatch(r.Context(), reqs)
	if err != nil {
		h.logger.WarnContext(r.Context(), "[Verify Batch] Verification outcome unknown", "size", len(reqs), "error", err)
		writeError(w, http.StatusServiceUnavailable, "verification outcome unknown")
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (h *HTTPHandler) EnqueueVerification(w http.ResponseWriter, r *http.Request) {
	if h.verifications == nil {
		writeError(w, http.StatusServiceUnavailable, "verification backlog is disabled")
		return
	}

	var req entities.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.TxHash) == "" || strings.TrimSpace(req.ExpectedAddress) == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters: transactionHash and expectedAddress")
		return
	}
	if !req.ExpectedAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "expectedAmount must be positive")
		return
	}
	if !h.isSupported(entities.ParseNetwork(req.Network)) {
		writeError(w, http.StatusBadRequest, "Unsupported network: "+req.Network)
		return
	}

	created, err := h.verifications.Create(r.Context(), req, time.Now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "[Enqueue Verification] Error creating verification", "error", err, "tx_hash", req.TxHash)
		writeError(w, http.StatusInternalServerError, "failed to queue verification")
		return
	}

	writeJSON(w, http.StatusAccepted, created)
}

func (h *HTTPHandler) GetVerification(w http.ResponseWriter, r *http.Request) {
	if h.verifications == nil {
		writeError(w, http.StatusServiceUnavailable, "verification backlog is disabled")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid verification id")
		return
	}

	found, err := h.verifications.FindByID(r.Context(), id)
	if errors.Is(err, entities.ErrVerificationNotFound) {
		writeError(w, http.StatusNotFound, "verification not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "[Get Verification] Error loading verification", "error", err, "verification_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load verification")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

type networkInfo struct {
	Network               entities.Network `json:"network"`
	RequiredConfirmations uint64           `json:"requiredConfirmations"`
}

func (h *HTTPHandler) GetNetworks(w http.ResponseWriter, r *http.Request) {
	policy := h.catalog.Policy()
	networks := h.catalog.SupportedNetworks()

	out := make([]networkInfo, 0, len(networks))
	for _, network := range networks {
		out = append(out, networkInfo{Network: network, RequiredConfirmations: policy.Required(network)})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(mux.Vars(r)["coin"])
	price := h.prices.GetPrice(r.Context(), coin)

	writeJSON(w, http.StatusOK, map[string]any{
		"coin": coin,
		"usd":  price,
	})
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) isSupported(network entities.Network) bool {
	for _, supported := range h.catalog.SupportedNetworks() {
		if supported == network {
			return true
		}
	}
	return false
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(out); err != nil {
		h.logger.DebugContext(r.Context(), "Malformed request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
