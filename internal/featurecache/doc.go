// Package featurecache stores computed feature vectors keyed by content
// fingerprint and feature-set descriptor. Entries carry a TTL and the store
// enforces a byte budget: exceeding max_size triggers immediate eviction
// down to cleanup_threshold, removing TTL-expired entries first and
// least-recently-used entries after that. The cache is strictly an
// optimization; every failure path reports a miss so the features stage can
// recompute.
package featurecache
