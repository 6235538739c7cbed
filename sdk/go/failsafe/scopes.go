package failsafe

import "github.com/opsline/failsafe/internal/scope"

// Scope aliases the control plane's scope reference so embedders outside
// this module can construct and inspect scopes.
type Scope = scope.Ref

// Scope constructors, mirroring the control plane's scope union.
var GlobalScope = scope.Global

func TenantScope(id string) Scope     { return scope.Tenant(id) }
func ServiceScope(name string) Scope  { return scope.Service(name) }
func FeatureScope(name string) Scope  { return scope.Feature(name) }
func RateLimitScope(key string) Scope { return scope.RateLimitTarget(key) }

// ParseScope decodes the canonical kind:value encoding.
func ParseScope(s string) (Scope, error) { return scope.Parse(s) }
