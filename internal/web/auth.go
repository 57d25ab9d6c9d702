package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blockedby/tgsaver/internal/telegram"
)

// TelegramAuth is the part of telegram.Manager the login endpoints use.
type TelegramAuth interface {
	StartQR(ctx context.Context, onQRCode func(url string)) error
	CancelQR()
	IsQRInProgress() bool
	GetStatus() telegram.Status
}

// Broadcaster sends a message to every websocket client; Hub implements it.
type Broadcaster interface {
	Broadcast(msg []byte) bool
}

// AuthHandler handles authentication related requests
type AuthHandler struct {
	client TelegramAuth
	hub    Broadcaster
}

// NewAuthHandler creates a new AuthHandler. hub may be nil.
func NewAuthHandler(client TelegramAuth, hub Broadcaster) *AuthHandler {
	return &AuthHandler{
		client: client,
		hub:    hub,
	}
}

// GetStatus returns the current Telegram authentication status
func (h *AuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.client.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         string(status),
		"is_ready":       status == telegram.StatusReady,
		"qr_in_progress": h.client.IsQRInProgress(),
	})
}

// StartQR initiates the QR code login flow. The login url and the outcome
// arrive over the websocket.
func (h *AuthHandler) StartQR(w http.ResponseWriter, r *http.Request) {
	if h.client.GetStatus() == telegram.StatusReady {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already logged in"})
		return
	}
	if h.client.IsQRInProgress() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already in progress"})
		return
	}

	go func() {
		err := h.client.StartQR(context.Background(), func(url string) {
			h.broadcast(map[string]string{"type": "tg_qr", "url": url})
		})
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, telegram.ErrPasswordNeeded):
			h.broadcast(map[string]string{"type": "tg_password_needed", "message": err.Error()})
		case err != nil:
			h.broadcast(map[string]string{"type": "error", "message": err.Error()})
		default:
			h.broadcast(map[string]string{"type": "tg_auth_success"})
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// CancelQR aborts a running QR login.
func (h *AuthHandler) CancelQR(w http.ResponseWriter, r *http.Request) {
	h.client.CancelQR()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// StatusChanged pushes a session state change to websocket clients.
// Register it with telegram.Manager.OnStatusChange.
func (h *AuthHandler) StatusChanged(s telegram.Status) {
	h.broadcast(map[string]string{"type": "tg_status", "status": string(s)})
}

func (h *AuthHandler) broadcast(msg map[string]string) {
	if h.hub == nil {
		return
	}
	b, _ := json.Marshal(msg)
	h.hub.Broadcast(b)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		_ = err // Client disconnected
	}
}
