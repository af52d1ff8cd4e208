package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GatewayAuthMiddleware validates HMAC signatures on callbacks from the
// messaging gateway, such as subscriber STOP requests.
type GatewayAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
}

// NewGatewayAuthMiddleware constructs gateway callback auth middleware.
func NewGatewayAuthMiddleware(secret []byte, maxSkew time.Duration) *GatewayAuthMiddleware {
	return &GatewayAuthMiddleware{Secret: secret, MaxSkew: maxSkew}
}

// Wrap enforces gateway signature validation.
func (m *GatewayAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "gateway auth not configured", http.StatusUnauthorized)
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get("X-Gateway-Timestamp"))
		signature := strings.TrimSpace(r.Header.Get("X-Gateway-Signature"))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing gateway signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid gateway timestamp", http.StatusUnauthorized)
			return
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "gateway signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := ComputeGatewaySignature(m.Secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid gateway signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// ComputeGatewaySignature derives the expected hex signature for a callback.
func ComputeGatewaySignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
