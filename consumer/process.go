package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quemgr/sqsrun/types"
)

type bucket int

const (
	// bucketNone means the message was skipped entirely (backoff gate):
	// it is left undeleted and redelivers when SQS makes it visible.
	bucketNone bucket = iota
	bucketSuccessful
	bucketRetry
	bucketPermanentFailure
)

type retryItem struct {
	msg   types.Message
	delay time.Duration
}

// batchBuckets collects per-message outcomes. Appends are serialized so
// parallel dispatch can share one collector.
type batchBuckets struct {
	mu         sync.Mutex
	successful []types.Message
	retries    []retryItem
	failed     []types.Message
}

func (b *batchBuckets) add(msg types.Message, out bucket, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch out {
	case bucketSuccessful:
		b.successful = append(b.successful, msg)
	case bucketRetry:
		b.retries = append(b.retries, retryItem{msg: msg, delay: delay})
	case bucketPermanentFailure:
		b.failed = append(b.failed, msg)
	case bucketNone:
	}
}

// processBatch runs the per-message pipeline over one received batch and
// then issues the batch-level queue calls: a single delete for the
// terminal messages and, when a backoff store is configured, a
// visibility change per retried message.
func (c *Consumer) processBatch(ctx context.Context, msgs []types.Message) {
	extender := c.startExtender(ctx, msgs)

	buckets := &batchBuckets{}

	if c.opts.processInParallel {
		var g errgroup.Group
		for _, msg := range msgs {
			g.Go(func() error {
				out, delay := c.processMessage(ctx, msg)
				buckets.add(msg, out, delay)
				extender.done(msg.MessageID)
				return nil
			})
		}
		// Workers never return errors; Wait is just the batch barrier.
		_ = g.Wait()
	} else {
		for _, msg := range msgs {
			out, delay := c.processMessage(ctx, msg)
			buckets.add(msg, out, delay)
			extender.done(msg.MessageID)
		}
	}

	extender.stop()

	terminal := make([]types.Message, 0, len(buckets.successful)+len(buckets.failed))
	terminal = append(terminal, buckets.successful...)
	terminal = append(terminal, buckets.failed...)

	if len(terminal) > 0 {
		if err := c.client.DeleteBatch(ctx, terminal); err != nil {
			// Not fatal: undeleted messages redeliver and the
			// idempotency store suppresses reprocessing.
			c.logger.Errorf("Error deleting message batch, affected messages will redeliver: %v", err)
		}
	}

	if c.opts.backoffStore != nil {
		for _, r := range buckets.retries {
			if r.delay <= 0 {
				continue
			}
			if err := c.client.ChangeVisibility(ctx, r.msg, r.delay); err != nil {
				// The default visibility timeout still governs
				// redelivery; the backoff gate rechecks on arrival.
				c.logger.WithField("message_id", r.msg.MessageID).
					Warnf("Failed to align visibility with backoff delay: %v", err)
			}
		}
	}
}

// processMessage runs one message through the gate, dedup, dispatch, and
// bookkeeping steps and returns its classification. A retry outcome also
// carries the backoff delay to apply, if any.
func (c *Consumer) processMessage(ctx context.Context, msg types.Message) (bucket, time.Duration) {
	logger := c.logger.WithField("message_id", msg.MessageID)

	if c.opts.backoffStore != nil {
		ok, err := c.opts.backoffStore.CanProcess(ctx, msg.MessageID)
		if err != nil {
			// Availability over pacing: a broken store must not wedge
			// the queue.
			logger.Warnf("Backoff store lookup failed, proceeding: %v", err)
			ok = true
		}
		if !ok {
			logger.Debug("Message is cooling down, leaving for redelivery")
			return bucketNone, 0
		}
	}

	if c.opts.idempotencyStore != nil {
		seen, err := c.opts.idempotencyStore.HasProcessed(ctx, msg.MessageID)
		if err != nil {
			logger.Warnf("Idempotency store lookup failed, proceeding: %v", err)
			seen = false
		}
		if seen {
			logger.Debug("Duplicate delivery suppressed")
			return bucketSuccessful, 0
		}

		if c.opts.preMark {
			if err = c.opts.idempotencyStore.MarkProcessed(ctx, msg.MessageID, c.opts.idempotencyTTL); err != nil {
				logger.Warnf("Failed to pre-mark message as processed: %v", err)
			}
		}
	}

	meta := types.MessageMetadata{
		RetryCount:    msg.ReceiveCount(),
		IsLastAttempt: c.opts.maxReceiveCount > 0 && msg.ReceiveCount() >= c.opts.maxReceiveCount,
	}

	err := c.dispatch(ctx, msg, meta)

	switch classify(err) {
	case bucketSuccessful:
		if c.opts.idempotencyStore != nil && !c.opts.preMark {
			if markErr := c.opts.idempotencyStore.MarkProcessed(ctx, msg.MessageID, c.opts.idempotencyTTL); markErr != nil {
				logger.Warnf("Failed to mark message as processed: %v", markErr)
			}
		}
		if c.opts.backoffStore != nil {
			if clearErr := c.opts.backoffStore.Clear(ctx, msg.MessageID); clearErr != nil {
				logger.Warnf("Failed to clear backoff entry: %v", clearErr)
			}
		}
		return bucketSuccessful, 0

	case bucketPermanentFailure:
		logger.Errorf("Message failed permanently, disposing: %v", err)
		// The idempotency entry is kept (pre-mark) or set so a
		// redelivery of an undeleted copy is suppressed.
		if c.opts.idempotencyStore != nil && !c.opts.preMark {
			if markErr := c.opts.idempotencyStore.MarkProcessed(ctx, msg.MessageID, c.opts.idempotencyTTL); markErr != nil {
				logger.Warnf("Failed to mark failed message as processed: %v", markErr)
			}
		}
		return bucketPermanentFailure, 0

	default:
		logger.Warnf("Message processing failed, will retry: %v", err)

		if c.opts.idempotencyStore != nil && c.opts.preMark {
			if rmErr := c.opts.idempotencyStore.Remove(ctx, msg.MessageID); rmErr != nil {
				logger.Warnf("Failed to retract idempotency pre-mark: %v", rmErr)
			}
		}

		var delay time.Duration
		if c.opts.backoffStore != nil {
			next, recErr := c.opts.backoffStore.RecordFailure(ctx, msg.MessageID, c.opts.backoffBaseDelay, c.opts.retryStrategy)
			if recErr != nil {
				logger.Warnf("Failed to record failure in backoff store: %v", recErr)
			} else {
				delay = time.Until(next)
			}
		}
		return bucketRetry, delay
	}
}

// dispatch invokes the handler, converting a panic into an unclassified
// error so it follows the conservative retry path.
func (c *Consumer) dispatch(ctx context.Context, msg types.Message, meta types.MessageMetadata) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return c.handler(ctx, msg, meta)
}

// classify maps a handler error onto the outcome vocabulary. Anything
// unrecognized is a retry.
func classify(err error) bucket {
	if err == nil {
		return bucketSuccessful
	}

	var perm *types.PermanentError
	if errors.As(err, &perm) {
		return bucketPermanentFailure
	}

	return bucketRetry
}
