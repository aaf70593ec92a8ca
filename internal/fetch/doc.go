// Package fetch downloads image payloads from upstream HTTP(S) servers.
//
// A Fetcher issues a single GET per request (with Accept-Encoding: gzip),
// retries connection-level failures with exponential backoff, inflates
// gzip-encoded bodies and reports download progress as (total, loaded)
// pairs. Non-2xx responses and body read failures are not retried.
package fetch
