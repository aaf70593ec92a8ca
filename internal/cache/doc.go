// Package cache defines the tier contract shared by every cache layer and
// ships its implementations: MemoryTier keeps decoded images in process with
// least-recently-accessed eviction, while FileTier (go-billy filesystem) and
// ObjectTier (S3-compatible bucket) durably hold the raw encoded bytes keyed
// by fingerprint. Durable writes are atomic (temp file + rename, or a single
// object PUT) so readers never observe partially written payloads. The
// loader treats all tiers polymorphically through Tier[V].
package cache
