// Package httpclient builds the outbound HTTP clients used by switchyard:
// the platform collaborator client, the plugin hook deliverer and the target
// transport.
//
// Every client created by New:
//   - sets a User-Agent header when the caller did not
//   - injects W3C trace context from the request context
//   - logs each request with a sanitized URL (debug on success, warn on 4xx/5xx)
//   - enforces TLS 1.2 as the minimum version
//
// # Retry Behavior
//
// Retries are opt-in (RetryAttempts > 0) and apply only to idempotent
// methods (GET, HEAD, OPTIONS). 5xx, 408, 429 and transient network errors
// are retried with exponential backoff and jitter; Retry-After is honoured
// when it is shorter than the computed delay.
//
// Target dispatch builds its client with RetryAttempts = 0: target calls are
// never retried.
package httpclient
