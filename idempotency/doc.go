// Package idempotency provides implementations of
// [github.com/quemgr/sqsrun/types.IdempotencyStore]: a process-local map
// for single-instance deployments and tests, a Redis-backed store for
// deduplication across consumer replicas, and a DynamoDB-backed store
// using table-enforced TTL expiry.
//
// Entries map a message ID to an expiry instant. An entry visible to
// HasProcessed always has an expiry in the future; expired entries are
// logically absent even when a backend reclaims them lazily.
package idempotency
