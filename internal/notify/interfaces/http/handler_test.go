package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type stubUnsubscriber struct {
	contactMethod string
	apiID         string
	count         int64
	err           error
}

func (s *stubUnsubscriber) Unsubscribe(_ context.Context, contactMethod, apiID string) (int64, error) {
	s.contactMethod, s.apiID = contactMethod, apiID
	return s.count, s.err
}

func TestStopDeactivatesSubscriptions(t *testing.T) {
	store := &stubUnsubscriber{count: 2}
	handler, err := NewHandler(store, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	body := `{"contact_method":"sms","api_id":"+16125550100"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/stop", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	if store.contactMethod != "sms" || store.apiID != "+16125550100" {
		t.Fatalf("unsubscribed (%q, %q)", store.contactMethod, store.apiID)
	}
	var got stopResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Deactivated != 2 {
		t.Fatalf("deactivated = %d, want 2", got.Deactivated)
	}
}

func TestStopRejectsMissingIdentity(t *testing.T) {
	handler, err := NewHandler(&stubUnsubscriber{}, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/stop",
		strings.NewReader(`{"contact_method":"sms"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestStopSurfacesStoreError(t *testing.T) {
	handler, err := NewHandler(&stubUnsubscriber{err: errors.New("db down")}, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/stop",
		strings.NewReader(`{"contact_method":"sms","api_id":"+16125550100"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
}

func TestStopMethodNotAllowed(t *testing.T) {
	handler, err := NewHandler(&stubUnsubscriber{}, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/stop", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
}
