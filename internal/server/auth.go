// Package server provides the HTTP API server, middleware, and handlers.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/requestctx"
	"github.com/wardenhq/warden/internal/tenant"
)

// SetTenantID stores tenant_id in the request context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return requestctx.WithTenantID(ctx, tenantID)
}

// TenantIDFromContext returns the tenant_id from context, or "" if not set.
func TenantIDFromContext(ctx context.Context) string {
	return requestctx.TenantID(ctx)
}

// AuthMiddleware returns a middleware that validates X-Warden-Key or
// Authorization: Bearer <key> and sets tenant_id in context. apiKeys maps
// key -> tenant_id.
func AuthMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Warden-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			var tenantID string
			for k, t := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					tenantID = t
					break
				}
			}
			if tenantID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			ctx := requestctx.WithTenantID(r.Context(), tenantID)
			ctx = requestctx.WithKeyFingerprint(ctx, keyFingerprint(key))
			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}

// keyFingerprint returns a short non-reversible identifier for an API key,
// safe to include in logs.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// RateLimitMiddleware returns a middleware that calls
// registry.ValidateRequest(tenantID) and returns 429 with Retry-After when
// the tenant's limit is exceeded, 403 for unknown tenants.
func RateLimitMiddleware(registry *tenant.Registry) func(http.Handler) http.Handler {
	if registry == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := TenantIDFromContext(r.Context())
			if tenantID == "" {
				next.ServeHTTP(w, r)
				return
			}
			err := registry.ValidateRequest(tenantID)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, tenant.ErrRateLimitExceeded):
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit_exceeded",
					"message": err.Error(),
				})
			case errors.Is(err, tenant.ErrTenantNotFound):
				writeError(w, http.StatusForbidden, "forbidden", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
			}
		})
	}
}

// writeError writes a JSON error response. Defined here so AuthMiddleware can
// use it; handlers.go uses the same helper.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
