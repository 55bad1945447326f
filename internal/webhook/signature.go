package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/ratelimit"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-AB-Signature"

// Sign computes the hex signature for a payload under secret. Exposed so
// senders, the CLI and tests build signatures the same way the gateway
// verifies them.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature guards the goal endpoint. A disabled endpoint answers 403
// before any signature work; a missing or wrong signature answers 401 with
// the truncated attempt in the audit log. The raw body is restored for the
// next handler.
func VerifySignature(enabled bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				respond(w, http.StatusForbidden, map[string]interface{}{
					"success": false,
					"error":   "Webhook endpoint disabled",
				})
				return
			}

			provided := r.Header.Get(SignatureHeader)
			if provided == "" {
				respond(w, http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "Missing signature",
					"message": SignatureHeader + " header is required",
				})
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respond(w, http.StatusBadRequest, map[string]interface{}{
					"success": false,
					"error":   "Unreadable body",
				})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			expected := Sign(body, secret)
			if !hmac.Equal([]byte(expected), []byte(provided)) {
				logging.Warn("webhook signature verification failed",
					logging.String("ip", ratelimit.ClientIP(r)),
					logging.String("provided", truncate(provided, 10)+"..."),
				)
				respond(w, http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "Invalid signature",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
