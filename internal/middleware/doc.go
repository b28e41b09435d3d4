// Package middleware provides the gin middleware chain for keygate: request
// identification, logging, recovery, tracing, prometheus metrics, per-client
// throttling of the management plane, and the API key gateway chain
// (extract, validate, rate-limit) that protects downstream services.
package middleware
