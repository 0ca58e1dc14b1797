package middleware

import (
	"context"
	"net/http"
)

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// RequireTenant is middleware that extracts the tenant ID from the
// X-Tenant-ID header and stores it in the request context. Every tenant-scoped
// route needs it; requests without the header are rejected.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			http.Error(w, `{"error":"X-Tenant-ID header required"}`, http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantIDFromContext returns the tenant ID stored in ctx, or "" if absent.
func TenantIDFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(tenantCtxKey{}).(string)
	return tid
}
