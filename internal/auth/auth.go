// Package auth guards the report endpoints. Three modes: open, HTTP basic
// against a bcrypt hash, or a signed HS256 bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ab-gateway/internal/common/logging"
)

// Mode selects the report auth scheme.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeBasic Mode = "basic"
	ModeToken Mode = "token"
)

// Config holds the credentials for the selected mode.
type Config struct {
	Mode         Mode
	Username     string
	PasswordHash string
	TokenSecret  string
}

// Middleware returns the guard for the configured mode.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	switch cfg.Mode {
	case ModeBasic:
		return basicAuth(cfg.Username, cfg.PasswordHash)
	case ModeToken:
		return tokenAuth(cfg.TokenSecret)
	default:
		return func(next http.Handler) http.Handler { return next }
	}
}

func basicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="ab-gateway reports"`)
				unauthorized(w, "credentials required")
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passErr := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass))
			if !userMatch || passErr != nil {
				logging.Warn("report basic auth failed", logging.String("user", user))
				unauthorized(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "bearer token required")
				return
			}

			tokenString := strings.TrimPrefix(header, "Bearer ")
			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logging.Warn("report token auth failed", logging.Err(err))
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken mints a report access token, used by the CLI to call a
// token-guarded gateway.
func IssueToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ab-gateway-report",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Unauthorized",
		"message": message,
	})
}
