package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

const (
	defaultStreamPollInterval = 5 * time.Second
	writeWait                 = 10 * time.Second
)

// Manager upgrades HTTP connections to WebSocket.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

// WebSocketHandler streams the state of a queued verification until it reaches a terminal status.
type WebSocketHandler struct {
	logger           *slog.Logger
	verifications    ports.VerificationsRepository
	websocketManager *Manager
	pollInterval     time.Duration
}

func NewWebSocketHandler(
	logger *slog.Logger,
	verifications ports.VerificationsRepository,
	websocketManager *Manager,
	pollInterval time.Duration,
) *WebSocketHandler {
	if pollInterval <= 0 {
		pollInterval = defaultStreamPollInterval
	}
	return &WebSocketHandler{
		logger:           logger,
		verifications:    verifications,
		websocketManager: websocketManager,
		pollInterval:     pollInterval,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/verifications/{id}", h.HandleConnection)
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid verification id", http.StatusBadRequest)
		return
	}

	current, err := h.verifications.FindByID(r.Context(), id)
	if errors.Is(err, entities.ErrVerificationNotFound) {
		http.Error(w, "Verification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load verification", http.StatusInternalServerError)
		return
	}

	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("New WebSocket connection", "verification_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detect client disconnects
	go func() {
		defer cancel()
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	if err = h.stream(ctx, conn, current); err != nil {
		h.logger.Info("WebSocket stream closed", "verification_id", id, "error", err)
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "verification finished"),
		time.Now().Add(writeWait))
}

func (h *WebSocketHandler) stream(ctx context.Context, conn *websocket.Conn, current *entities.PendingVerification) error {
	send := func(v *entities.PendingVerification) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	if err := send(current); err != nil {
		return err
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for current.Status == entities.BacklogPending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		next, err := h.verifications.FindByID(ctx, current.ID)
		if err != nil {
			return err
		}

		if next.Status != current.Status || next.Confirmations != current.Confirmations || next.Attempts != current.Attempts {
			if err = send(next); err != nil {
				return err
			}
		}
		current = next
	}

	return nil
}
