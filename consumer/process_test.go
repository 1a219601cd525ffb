//nolint:testpackage // Tests drive the unexported batch pipeline directly
package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quemgr/sqsrun/backoff"
	"github.com/quemgr/sqsrun/idempotency"
	"github.com/quemgr/sqsrun/logging"
	"github.com/quemgr/sqsrun/types"
)

func testMessage(id string, receiveCount string) types.Message {
	msg := types.Message{
		MessageID:     id,
		ReceiptHandle: "rh-" + id,
		Body:          `{"postId":"1","content":"Hello"}`,
	}
	if receiveCount != "" {
		msg.Attributes = map[string]string{types.AttributeReceiveCount: receiveCount}
	}
	return msg
}

func TestProcessBatchHappyPath(t *testing.T) {
	client := &mockQueueClient{}

	var gotMeta types.MessageMetadata
	var invocations atomic.Int32

	handler := func(_ context.Context, _ types.Message, meta types.MessageMetadata) error {
		invocations.Add(1)
		gotMeta = meta
		return nil
	}

	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	assert.Equal(t, int32(1), invocations.Load())
	assert.Equal(t, 0, gotMeta.RetryCount)
	assert.False(t, gotMeta.IsLastAttempt)

	deletes := client.deletedBatches()
	require.Len(t, deletes, 1)
	require.Len(t, deletes[0], 1)
	assert.Equal(t, "rh-m-1", deletes[0][0].ReceiptHandle)
}

func TestProcessBatchTransientRetry(t *testing.T) {
	client := &mockQueueClient{}

	var gotMeta types.MessageMetadata
	handler := func(_ context.Context, _ types.Message, meta types.MessageMetadata) error {
		gotMeta = meta
		return types.Retry("downstream unavailable")
	}

	// No backoff store configured.
	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "2")})

	assert.Equal(t, 2, gotMeta.RetryCount)
	assert.Empty(t, client.deletedBatches())
	assert.Empty(t, client.visibilityChanges())
}

func TestProcessBatchPermanentFailure(t *testing.T) {
	client := &mockQueueClient{}
	idem := idempotency.NewMemoryStore()

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		return types.Permanent("malformed body")
	}

	c := New(client, handler, logging.NewDiscard(), WithIdempotencyStore(idem))

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	deletes := client.deletedBatches()
	require.Len(t, deletes, 1)
	require.Len(t, deletes[0], 1)

	// The idempotency entry survives disposal so a redelivery of an
	// undeleted copy stays suppressed.
	seen, err := idem.HasProcessed(t.Context(), "m-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestProcessBatchDuplicateSuppression(t *testing.T) {
	client := &mockQueueClient{}
	idem := idempotency.NewMemoryStore()
	require.NoError(t, idem.MarkProcessed(t.Context(), "msg-duplicate-1", time.Hour))

	invoked := false
	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		invoked = true
		return nil
	}

	c := New(client, handler, logging.NewDiscard(), WithIdempotencyStore(idem))

	c.processBatch(t.Context(), []types.Message{testMessage("msg-duplicate-1", "")})

	assert.False(t, invoked)

	// The duplicate is still deleted to suppress further redeliveries.
	deletes := client.deletedBatches()
	require.Len(t, deletes, 1)
	assert.Equal(t, "msg-duplicate-1", deletes[0][0].MessageID)
}

func TestProcessBatchBackoffGating(t *testing.T) {
	client := &mockQueueClient{}
	back := backoff.NewMemoryStore()

	_, err := back.RecordFailure(t.Context(), "m-B", 5*time.Second, types.StrategyExponential)
	require.NoError(t, err)

	invoked := false
	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		invoked = true
		return nil
	}

	c := New(client, handler, logging.NewDiscard(), WithBackoffStore(back))

	// Immediate redelivery: gated, not dispatched, not deleted.
	c.processBatch(t.Context(), []types.Message{testMessage("m-B", "2")})
	assert.False(t, invoked)
	assert.Empty(t, client.deletedBatches())

	// Clearing the entry stands in for the cool-down elapsing; the next
	// delivery goes through.
	require.NoError(t, back.Clear(t.Context(), "m-B"))

	c.processBatch(t.Context(), []types.Message{testMessage("m-B", "3")})
	assert.True(t, invoked)
	assert.Len(t, client.deletedBatches(), 1)
}

func TestProcessBatchRecordsBackoffAndAlignsVisibility(t *testing.T) {
	client := &mockQueueClient{}
	back := backoff.NewMemoryStore()

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		return types.Retry("transient")
	}

	c := New(client, handler, logging.NewDiscard(),
		WithBackoffStore(back),
		WithBackoffBaseDelay(8*time.Second),
	)

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "1")})

	n, err := back.RetryCount(t.Context(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	changes := client.visibilityChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, "m-1", changes[0].msg.MessageID)
	assert.InDelta(t, (8 * time.Second).Seconds(), changes[0].timeout.Seconds(), 1.0)

	assert.Empty(t, client.deletedBatches())
}

func TestProcessBatchSuccessClearsBackoff(t *testing.T) {
	client := &mockQueueClient{}
	back := backoff.NewMemoryStore()

	_, err := back.RecordFailure(t.Context(), "m-1", time.Millisecond, types.StrategyFixed)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		return nil
	}

	c := New(client, handler, logging.NewDiscard(), WithBackoffStore(back))

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "2")})

	n, err := back.RetryCount(t.Context(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessBatchLastAttemptFlag(t *testing.T) {
	client := &mockQueueClient{}

	var gotMeta types.MessageMetadata
	handler := func(_ context.Context, _ types.Message, meta types.MessageMetadata) error {
		gotMeta = meta
		return nil
	}

	c := New(client, handler, logging.NewDiscard(), WithMaxReceiveCount(5))

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "5")})

	assert.Equal(t, 5, gotMeta.RetryCount)
	assert.True(t, gotMeta.IsLastAttempt)
}

func TestProcessBatchUnrecognizedErrorRetries(t *testing.T) {
	client := &mockQueueClient{}

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		return errors.New("something unexpected")
	}

	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	assert.Empty(t, client.deletedBatches())
}

func TestProcessBatchPanicRetries(t *testing.T) {
	client := &mockQueueClient{}

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		panic("handler bug")
	}

	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	assert.Empty(t, client.deletedBatches())
}

func TestProcessBatchPreMark(t *testing.T) {
	client := &mockQueueClient{}
	idem := idempotency.NewMemoryStore()

	var seenDuringDispatch bool
	handler := func(ctx context.Context, msg types.Message, _ types.MessageMetadata) error {
		seenDuringDispatch, _ = idem.HasProcessed(ctx, msg.MessageID)
		return types.Retry("not this time")
	}

	c := New(client, handler, logging.NewDiscard(),
		WithIdempotencyStore(idem),
		WithIdempotencyPreMark(),
	)

	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	// The mark existed while the handler ran (the dedup barrier) and was
	// retracted on the retry outcome.
	assert.True(t, seenDuringDispatch)

	seen, err := idem.HasProcessed(t.Context(), "m-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestProcessBatchMixedOutcomesSingleDelete(t *testing.T) {
	client := &mockQueueClient{}

	handler := func(_ context.Context, msg types.Message, _ types.MessageMetadata) error {
		switch msg.MessageID {
		case "m-ok":
			return nil
		case "m-retry":
			return types.Retry("transient")
		default:
			return types.Permanent("broken")
		}
	}

	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{
		testMessage("m-ok", ""),
		testMessage("m-retry", ""),
		testMessage("m-bad", ""),
	})

	deletes := client.deletedBatches()
	require.Len(t, deletes, 1)

	ids := make([]string, 0, len(deletes[0]))
	for _, m := range deletes[0] {
		ids = append(ids, m.MessageID)
	}

	assert.ElementsMatch(t, []string{"m-ok", "m-bad"}, ids)
}

func TestProcessBatchSequentialOrder(t *testing.T) {
	client := &mockQueueClient{}

	var mu sync.Mutex
	var order []string
	handler := func(_ context.Context, msg types.Message, _ types.MessageMetadata) error {
		mu.Lock()
		order = append(order, msg.MessageID)
		mu.Unlock()
		return nil
	}

	c := New(client, handler, logging.NewDiscard())

	c.processBatch(t.Context(), []types.Message{
		testMessage("m-1", ""),
		testMessage("m-2", ""),
		testMessage("m-3", ""),
	})

	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, order)
}

func TestProcessBatchParallel(t *testing.T) {
	client := &mockQueueClient{}

	var invocations atomic.Int32
	release := make(chan struct{})

	handler := func(_ context.Context, msg types.Message, _ types.MessageMetadata) error {
		invocations.Add(1)
		// Block until every handler has started, proving concurrency.
		<-release
		if msg.MessageID == "m-bad" {
			return types.Permanent("broken")
		}
		return nil
	}

	c := New(client, handler, logging.NewDiscard(), WithParallelProcessing())

	msgs := []types.Message{
		testMessage("m-1", ""),
		testMessage("m-2", ""),
		testMessage("m-bad", ""),
		testMessage("m-4", ""),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.processBatch(t.Context(), msgs)
	}()

	require.Eventually(t, func() bool {
		return invocations.Load() == int32(len(msgs))
	}, time.Second, time.Millisecond, "all handlers should run concurrently")

	close(release)
	<-done

	// One delete call regardless of dispatch mode, covering all
	// terminal outcomes.
	deletes := client.deletedBatches()
	require.Len(t, deletes, 1)
	assert.Len(t, deletes[0], len(msgs))
}

func TestProcessBatchDeleteErrorIsNotFatal(t *testing.T) {
	client := &mockQueueClient{deleteErr: errors.New("throttled")}

	handler := func(_ context.Context, _ types.Message, _ types.MessageMetadata) error {
		return nil
	}

	c := New(client, handler, logging.NewDiscard())

	// Must not panic or escalate; affected messages simply redeliver.
	c.processBatch(t.Context(), []types.Message{testMessage("m-1", "")})

	assert.Len(t, client.deletedBatches(), 1)
}
