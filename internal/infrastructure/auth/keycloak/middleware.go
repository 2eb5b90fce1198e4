package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

type contextKey struct{}

var claimsKey = contextKey{}

var (
	ErrMissingAuthHeader = errors.New(errors.CodeUnauthorized, "missing authorization header")
	ErrInvalidAuthFormat = errors.New(errors.CodeUnauthorized, "invalid authorization format")
	ErrMissingRole       = errors.New(errors.CodeForbidden, "missing required role")
)

// Authenticate returns middleware that rejects requests without a valid
// bearer token. Paths listed in skip pass through untouched.
func Authenticate(v TokenVerifier, logger logging.Logger, skip ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if err == nil {
				var claims *Claims
				claims, err = v.VerifyToken(r.Context(), token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}
			}

			logger.Warn("authentication failed",
				logging.String("path", r.URL.Path),
				logging.String("remote", r.RemoteAddr),
				logging.Err(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="molcore"`)
			writeError(w, err)
		})
	}
}

// RequireRole returns middleware that answers 403 unless the authenticated
// token carries role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.HasRole(role) {
				writeError(w, ErrMissingRole.WithDetail(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingAuthHeader
	}
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", ErrInvalidAuthFormat
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}

// writeError uses the API's error envelope. Keycloak outages surface as
// 503, every other failure as its own status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.CodeUnauthorized
	}
	msg := errors.DefaultMessageForCode(code)
	if code == errors.CodeUnauthorized && err == ErrTokenExpired {
		msg = "access token has expired"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusForCode(code))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": string(code), "message": msg},
	})
}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}
