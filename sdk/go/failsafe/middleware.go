package failsafe

import (
	"encoding/json"
	"net/http"

	"github.com/opsline/failsafe/internal/scope"
)

// ScopeFunc maps an inbound request to the scope that gates it, e.g.
// the tenant extracted from the path or an auth claim. Returning a zero
// Ref skips gating for that request.
type ScopeFunc func(r *http.Request) scope.Ref

// Middleware returns an http.Handler wrapper that rejects requests
// whose scope is blocked. Blocked requests receive 503 with a JSON body
// and a Retry-After hint; the check is O(1) against the cached snapshot.
func Middleware(b Blocker, scopeOf ScopeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref := scopeOf(r)
			if ref.Kind == "" || !b.IsBlocked(ref) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked": true,
				"scope":   ref.String(),
				"reason":  "emergency restriction active",
			})
		})
	}
}
