// Package http exposes the gateway callback endpoint. The messaging gateway
// posts here when a subscriber texts STOP; requests are authenticated with
// an HMAC signature upstream of this handler.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"spikealerts/internal/audit"
)

// Unsubscriber deactivates subscriptions for a gateway identity.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, contactMethod, apiID string) (int64, error)
}

// Handler serves POST /api/v1/subscriptions/stop.
type Handler struct {
	store   Unsubscriber
	auditor audit.Logger
	logger  *zap.Logger
}

// NewHandler constructs a handler. auditor may be nil.
func NewHandler(store Unsubscriber, auditor audit.Logger, logger *zap.Logger) (*Handler, error) {
	if store == nil {
		return nil, errors.New("stop handler: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, auditor: auditor, logger: logger}, nil
}

type stopRequest struct {
	ContactMethod string `json:"contact_method"`
	APIID         string `json:"api_id"`
}

type stopResponse struct {
	Deactivated int64 `json:"deactivated"`
}

// ServeHTTP handles a STOP callback.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.ContactMethod == "" || req.APIID == "" {
		http.Error(w, "contact_method and api_id are required", http.StatusBadRequest)
		return
	}

	count, err := h.store.Unsubscribe(r.Context(), req.ContactMethod, req.APIID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("subscriber opt-out",
		zap.String("contact_method", req.ContactMethod),
		zap.Int64("deactivated", count))
	if h.auditor != nil {
		_ = h.auditor.Log(r.Context(), audit.Entry{
			Actor:        "gateway",
			Action:       "subscription.stop",
			ResourceType: "subscriber",
			ResourceID:   req.ContactMethod,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stopResponse{Deactivated: count})
}
