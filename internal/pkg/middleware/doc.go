// Package middleware provides HTTP middleware for the advisor server.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using token bucket algorithm
//   - APIKeyAuth: Header-based key check for observability routes
//   - CORS: Configurable cross-origin headers
package middleware
