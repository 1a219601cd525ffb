package consumer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quemgr/sqsrun/types"
)

// extendConcurrency caps concurrent visibility-change calls per tick.
const extendConcurrency = 3

type inFlightMessage struct {
	msg        types.Message
	receivedAt time.Time
}

// batchExtender keeps the messages of one in-flight batch hidden from
// other consumers: while processing is underway it re-arms each
// message's visibility timeout at half-window intervals.
//
// Extension is best-effort. A message whose extension fails, or that has
// been held for the configured maximum, is dropped from tracking and
// becomes visible again after its current timeout; the idempotency store
// is the defense against the resulting duplicate delivery.
type batchExtender struct {
	enabled      bool
	client       queueClient
	logger       types.Logger
	visibility   time.Duration
	maxExtension time.Duration

	mu       sync.Mutex
	inFlight map[string]inFlightMessage

	stopCh chan struct{}
	doneCh chan struct{}
}

// startExtender begins visibility extension for msgs. When the feature
// is disabled it returns an inert extender whose methods are no-ops.
func (c *Consumer) startExtender(ctx context.Context, msgs []types.Message) *batchExtender {
	if c.opts.visibilityExtension <= 0 {
		return &batchExtender{}
	}

	e := &batchExtender{
		enabled:      true,
		client:       c.client,
		logger:       c.logger.WithField("component", "extender"),
		visibility:   c.opts.visibilityTimeout,
		maxExtension: c.opts.visibilityExtension,
		inFlight:     make(map[string]inFlightMessage, len(msgs)),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	now := time.Now()
	for _, m := range msgs {
		e.inFlight[m.MessageID] = inFlightMessage{msg: m, receivedAt: now}
	}

	go e.run(ctx)

	return e
}

// done removes a message from extension tracking once its processing has
// completed and its fate is recorded in the outcome buckets.
func (e *batchExtender) done(messageID string) {
	if !e.enabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, messageID)
}

// stop terminates the extension loop and waits for it to exit.
func (e *batchExtender) stop() {
	if !e.enabled {
		return
	}

	close(e.stopCh)
	<-e.doneCh
}

func (e *batchExtender) run(ctx context.Context) {
	defer close(e.doneCh)

	interval := max(e.visibility/2, time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.extendInFlight(ctx)
		}
	}
}

func (e *batchExtender) extendInFlight(ctx context.Context) {
	e.mu.Lock()
	pending := make([]inFlightMessage, 0, len(e.inFlight))
	for id, m := range e.inFlight {
		if time.Since(m.receivedAt)+e.visibility >= e.maxExtension {
			e.logger.WithField("message_id", id).
				Error("Message reached the maximum visibility extension limit, dropping from tracking")
			delete(e.inFlight, id)
			continue
		}
		pending = append(pending, m)
	}
	e.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	// A handful of messages is extended inline; larger sets fan out with
	// a bounded number of concurrent API calls.
	if len(pending) < extendConcurrency {
		for _, m := range pending {
			e.extendOne(ctx, m.msg)
		}
		return
	}

	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(extendConcurrency)

	for _, m := range pending {
		wg.Go(func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			e.extendOne(ctx, m.msg)
		})
	}

	wg.Wait()
}

func (e *batchExtender) extendOne(ctx context.Context, msg types.Message) {
	if err := e.client.ChangeVisibility(ctx, msg, e.visibility); err != nil {
		if ctx.Err() != nil {
			return
		}

		e.logger.WithField("message_id", msg.MessageID).
			Warnf("Failed to extend message visibility, dropping from tracking: %v", err)

		e.mu.Lock()
		delete(e.inFlight, msg.MessageID)
		e.mu.Unlock()
	}
}
