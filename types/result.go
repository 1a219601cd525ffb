package types

import "context"

// HandlerFunc processes a single message delivery. The returned error
// determines the message's fate:
//
//   - nil: processed successfully; the message is deleted and recorded in
//     the idempotency store.
//   - *RetryableError (or any unrecognized error): transient fault; the
//     message is left in the queue, a failure is recorded in the backoff
//     store, and SQS redelivers it after the visibility timeout.
//   - *PermanentError: the message can never be processed (malformed
//     input, violated invariant); it is deleted and its idempotency entry
//     is retained so redeliveries are suppressed.
//
// Unrecognized errors map to retry on purpose: it is the conservative
// default for faults the handler did not classify.
type HandlerFunc func(ctx context.Context, msg Message, meta MessageMetadata) error

// RetryableError signals a transient processing fault. Use Retry to
// construct one.
type RetryableError struct {
	Reason string
}

func (e *RetryableError) Error() string {
	if e.Reason == "" {
		return "retryable processing error"
	}
	return "retryable processing error: " + e.Reason
}

// Retry returns an error that classifies the current delivery as a
// transient failure to be retried.
func Retry(reason string) error {
	return &RetryableError{Reason: reason}
}

// PermanentError signals a fault that no amount of retrying will resolve.
// Use Permanent to construct one.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	if e.Reason == "" {
		return "permanent processing error"
	}
	return "permanent processing error: " + e.Reason
}

// Permanent returns an error that classifies the current delivery as a
// permanent failure: the message is disposed of and never reprocessed.
func Permanent(reason string) error {
	return &PermanentError{Reason: reason}
}
