// Package loader coordinates image requests across the cache tiers.
//
// A Manager answers Submit from the memory tier when it can and otherwise
// queues the request onto a worker pool. Workers coalesce requests that
// share a fingerprint so that at most one fetch and one decode run per key,
// consult the persistent tier before the network, and deliver results to
// listeners and (through a single-goroutine Sink) to bindings.
package loader
