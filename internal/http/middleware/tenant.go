package middleware

import (
	"net/http"
	"strings"

	"github.com/vittaclinic/agenda-platform/internal/tenancy"
)

const tenantHeader = "X-Tenant-Id"

// RequireTenant enforces the multi-tenancy header for API requests and
// stores the tenant id in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}
