// Package requestctx carries request-scoped identity values set by the
// server's auth middleware: the resolved tenant and a non-reversible
// fingerprint of the API key that authenticated it. Handlers read the
// tenant to scope every operation; log events carry the fingerprint so
// key misuse can be traced without ever logging the key itself.
package requestctx

import "context"

type tenantIDKey struct{}
type keyFingerprintKey struct{}

// WithTenantID stores the authenticated tenant in the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// TenantID returns the authenticated tenant, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey{}).(string)
	return v
}

// WithKeyFingerprint stores the API-key fingerprint in the context.
func WithKeyFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, keyFingerprintKey{}, fp)
}

// KeyFingerprint returns the API-key fingerprint, or "" if not set.
func KeyFingerprint(ctx context.Context) string {
	v, _ := ctx.Value(keyFingerprintKey{}).(string)
	return v
}
