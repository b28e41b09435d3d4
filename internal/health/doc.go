// Package health provides Kubernetes-compatible liveness and readiness
// probes for the key gateway.
//
// Liveness reports only that the process is running. Readiness runs the
// registered dependency checks (record store, rate-limit backend, secrets
// provider) in parallel with a bounded timeout and returns 503 when any
// fails.
//
// Checks can be wrapped with TimeoutHealthCheck to bound a single slow
// dependency and with CachedHealthCheck to keep probe traffic from
// hammering backends.
package health
