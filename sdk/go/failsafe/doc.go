// Package failsafe provides the read-only gating surface request-serving
// components embed: "is this scope blocked?" answered in O(1) on every
// inbound unit of work.
//
// Two modes:
//
// In-process, for components running inside the control-plane process,
// wrapping the state store's published snapshot directly:
//
//	gate := failsafe.NewGate(store)
//	if gate.IsBlocked(failsafe.TenantScope("42")) { ... }
//
// Remote, for services elsewhere on the platform, polling the control
// plane's status endpoint and serving IsBlocked from the cached
// snapshot:
//
//	client, err := failsafe.NewClient("http://failsafe:8787",
//	    failsafe.WithPollInterval(5*time.Second))
//	handler = failsafe.Middleware(client, tenantFromRequest)(handler)
package failsafe
