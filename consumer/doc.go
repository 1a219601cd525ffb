// Package consumer implements the sqsrun message-processing runtime: a
// polling loop that receives batches from a queue client, dispatches each
// message to a caller-supplied handler, and applies the per-message
// lifecycle contracts — duplicate suppression through an idempotency
// store, failure cool-downs through a backoff store, permanent-failure
// disposal, and batched deletion of terminal messages.
//
// # Lifecycle
//
// A Consumer moves through Idle -> Running -> Stopping -> Idle. Start
// validates the configuration (refusing to run on invalid options),
// spawns the polling goroutine, and returns. Stop flips the state; the
// loop finishes its in-flight batch and exits. Cancelling the context
// passed to Start stops the loop the same way.
//
//	c := consumer.New(client, handler, logger,
//	    consumer.WithIdempotencyStore(idem),
//	    consumer.WithBackoffStore(backoffStore),
//	)
//	if err := c.Start(ctx); err != nil {
//	    logger.Fatalf("invalid consumer configuration: %v", err)
//	}
//	...
//	c.Stop(context.Background())
//
// # Outcomes
//
// The handler's returned error selects one of three terminal outcomes
// per delivery (see [github.com/quemgr/sqsrun/types.HandlerFunc]):
// success and permanent failure delete the message in a single batched
// call per receive; retry leaves it in the queue for redelivery, paced by
// the larger of the SQS visibility timeout and the backoff store's
// cool-down. Errors the handler did not classify, including panics, are
// treated as retryable.
//
// # Dispatch modes
//
// Messages of one batch are processed sequentially in arrival order by
// default. With [WithParallelProcessing] they are dispatched
// concurrently and the loop waits for the whole batch before polling
// again; outcome bookkeeping is serialized either way, and exactly one
// delete batch is issued per receive. No ordering is guaranteed across
// batches (standard-queue semantics).
package consumer
