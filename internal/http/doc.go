// Package http provides a retrying HTTP client for the product hub.
//
// The client retries transient failures (connection errors, 5xx) with
// exponential backoff and jitter, and maps permanent failures to typed
// errors (ErrNotFound, ErrUnauthorized, ...) so callers can tell a
// missing product from a credential problem.
//
// Basic auth credentials are attached to every request when configured;
// the Copernicus hub requires them even for the guest account.
package http
