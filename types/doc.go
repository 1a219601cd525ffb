// Package types defines the shared contracts of the sqsrun runtime: the
// message envelope and per-delivery metadata handed to handlers, the
// handler outcome vocabulary, the idempotency and backoff store
// interfaces, and the logger interface consumed by every component.
//
// Implementations live in their own packages (idempotency, backoff,
// logging, sqsclient, consumer, aggregator) and depend only on the
// contracts here, so store backends and loggers can be swapped without
// touching the runtime.
package types
