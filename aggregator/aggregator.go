package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quemgr/sqsrun/types"
)

// ErrStopped is returned by Set and Update after Stop has been called.
var ErrStopped = errors.New("aggregator is stopped")

// FlushFunc receives the contents of the flush buffer. The map must not
// be retained after the call returns; the aggregator reuses it.
type FlushFunc[K comparable, V any] func(ctx context.Context, batch map[K]V) error

// ReduceFunc combines the previous buffered value for a key with an
// incoming one.
type ReduceFunc[V any] func(prev, incoming V) V

// Aggregator accumulates keyed values and emits them in bulk through a
// FlushFunc. All methods are safe for concurrent use.
type Aggregator[K comparable, V any] struct {
	flushFn FlushFunc[K, V]
	opts    *Options
	logger  types.Logger

	mu       sync.Mutex
	flushed  *sync.Cond // signaled when an in-flight flush completes
	active   map[K]V
	standby  map[K]V
	inFlight bool
	started  bool
	stopped  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an Aggregator that emits batches through flushFn. The
// flush interval is mandatory (see [WithFlushInterval]); a size
// threshold is optional.
func New[K comparable, V any](flushFn FlushFunc[K, V], logger types.Logger, opts ...Option) (*Aggregator[K, V], error) {
	if flushFn == nil {
		return nil, errors.New("flush callback cannot be nil")
	}

	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("invalid aggregator options: %w", err)
	}

	a := &Aggregator[K, V]{
		flushFn: flushFn,
		opts:    options,
		logger:  logger.WithField("component", "aggregator"),
		active:  make(map[K]V),
		standby: make(map[K]V),
	}
	a.flushed = sync.NewCond(&a.mu)

	return a, nil
}

// Start schedules the periodic flush timer. Starting an already-started
// aggregator logs a warning and is otherwise a no-op. The context
// governs timer-triggered flush callbacks.
func (a *Aggregator[K, V]) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started || a.stopped {
		a.logger.Warn("Start called on an aggregator that is not idle, ignoring")
		return
	}

	a.started = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})

	go a.runTimer(ctx, a.stopCh, a.doneCh)
}

func (a *Aggregator[K, V]) runTimer(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(a.opts.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A timer trigger has no caller to propagate to; the data
			// stays buffered for the next attempt.
			if err := a.flush(ctx); err != nil {
				a.logger.Errorf("Periodic flush failed, keeping data buffered: %v", err)
			}
		}
	}
}

// Stop cancels the timer, waits out any in-flight flush, and performs a
// final synchronous flush of whatever remains. Subsequent Set and Update
// calls return [ErrStopped].
func (a *Aggregator[K, V]) Stop(ctx context.Context) error {
	a.mu.Lock()

	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true

	started := a.started
	stopCh, doneCh := a.stopCh, a.doneCh

	a.mu.Unlock()

	if started {
		close(stopCh)
		<-doneCh
	}

	// A flush triggered just before Stop may still be running; the final
	// flush must not be swallowed by the in-flight guard.
	a.mu.Lock()
	for a.inFlight {
		a.flushed.Wait()
	}
	a.mu.Unlock()

	// After an earlier flush failure data can sit in both buffers, so a
	// single flush is not enough to drain.
	for {
		a.mu.Lock()
		empty := len(a.active) == 0 && len(a.standby) == 0
		a.mu.Unlock()

		if empty {
			return nil
		}

		if err := a.flush(ctx); err != nil {
			return err
		}
	}
}

// Set writes v into the active buffer, replacing any previous value for
// k. If the write fills the buffer to the configured size threshold, the
// resulting flush runs synchronously and its error is returned.
func (a *Aggregator[K, V]) Set(ctx context.Context, k K, v V) error {
	a.mu.Lock()

	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}

	a.active[k] = v
	trigger := a.sizeTriggerLocked()

	a.mu.Unlock()

	if trigger {
		return a.flush(ctx)
	}

	return nil
}

// Update writes v for k, combining it with the previously buffered value
// through reduce when one exists. Size-threshold semantics match [Set].
func (a *Aggregator[K, V]) Update(ctx context.Context, k K, v V, reduce ReduceFunc[V]) error {
	a.mu.Lock()

	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}

	if prev, ok := a.active[k]; ok && reduce != nil {
		a.active[k] = reduce(prev, v)
	} else {
		a.active[k] = v
	}
	trigger := a.sizeTriggerLocked()

	a.mu.Unlock()

	if trigger {
		return a.flush(ctx)
	}

	return nil
}

func (a *Aggregator[K, V]) sizeTriggerLocked() bool {
	return a.opts.maxBufferSize > 0 && len(a.active) >= a.opts.maxBufferSize
}

// Size returns the number of distinct keys in the active buffer.
func (a *Aggregator[K, V]) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.active)
}

// ForceFlush flushes the active buffer immediately. Like all triggers it
// is coalesced: if a flush is already in progress the call returns nil
// without flushing again.
func (a *Aggregator[K, V]) ForceFlush(ctx context.Context) error {
	return a.flush(ctx)
}

// flush runs the swap-and-emit protocol. The callback executes outside
// the lock, so concurrent writes land in the other buffer and no flush
// ever observes a write made after its swap point.
func (a *Aggregator[K, V]) flush(ctx context.Context) error {
	a.mu.Lock()

	if a.inFlight || len(a.active) == 0 {
		a.mu.Unlock()
		return nil
	}

	a.inFlight = true
	a.active, a.standby = a.standby, a.active
	batch := a.standby

	a.mu.Unlock()

	err := a.flushFn(ctx, batch)

	a.mu.Lock()

	if err != nil {
		// Swap back: the unwritten batch returns to the active side and
		// interim writes stay on the other buffer. Nothing is lost; the
		// next flush may simply carry more.
		a.active, a.standby = a.standby, a.active
	} else {
		clear(a.standby)
	}

	a.inFlight = false
	a.flushed.Broadcast()

	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("flush callback failed: %w", err)
	}

	return nil
}
