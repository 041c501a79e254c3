package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"emberline/pkg/logger"
	"emberline/pkg/utils"
)

// SecConfig drives CORS, rate limiting and token verification behavior.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	// Secrets are the accepted token signing keys; the first one mints.
	Secrets []string
}

type ctxUserKey struct{}

// Middleware returns the request gateway: CORS headers, per-identity rate
// limiting, and bearer-token verification. The verified user id is injected
// into the request context; handlers read it via UserIDFromContext. Health
// and metrics probes pass through unauthenticated.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// open endpoints: probes, registration, login, attachment
			// downloads, docs. Mutating ones are rate-limited by client ip.
			if openPath(r) {
				if r.Method == http.MethodPost && !limiters.Allow(clientIP(r)) {
					utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			tok := bearerToken(r)
			if tok == "" {
				utils.JSONError(w, http.StatusUnauthorized, "missing token")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			userID, err := VerifyToken(tok, cfg.Secrets)
			if err != nil {
				utils.JSONError(w, http.StatusUnauthorized, "invalid token")
				logger.Warn("request_token_rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				return
			}

			if !limiters.Allow(userID) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "user", userID, "path", r.URL.Path)
				return
			}

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path, "user", userID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, userID)))
		})
	}
}

// UserIDFromContext returns the verified user id or empty string.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BearerToken extracts the caller-supplied token from the Authorization
// header or, for websocket handshakes, the token query parameter.
func BearerToken(r *http.Request) string { return bearerToken(r) }

func bearerToken(r *http.Request) string {
	a := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func openPath(r *http.Request) bool {
	p := r.URL.Path
	if (p == "/healthz" || p == "/readyz" || p == "/metrics") && r.Method == http.MethodGet {
		return true
	}
	if p == "/v1/users" && r.Method == http.MethodPost {
		return true
	}
	if p == "/v1/auth/login" && r.Method == http.MethodPost {
		return true
	}
	if strings.HasPrefix(p, "/uploads/") && r.Method == http.MethodGet {
		return true
	}
	if strings.HasPrefix(p, "/docs") || p == "/openapi.yaml" {
		return true
	}
	return false
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
