// Package backoff provides implementations of
// [github.com/quemgr/sqsrun/types.BackoffStore]: a process-local map for
// single-instance deployments and tests, and a Redis-backed store whose
// entries survive across consumer replicas.
//
// A store entry records how many times a message has failed and when it
// last failed. The next retry instant follows from the configured
// strategy: fixed (lastFailure + baseDelay) or exponential
// (lastFailure + baseDelay * 2^(retryCount-1), so the first backoff
// equals the base delay). Delays are deterministic; no jitter is added.
package backoff
