package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quemgr/sqsrun/types"
)

const defaultDelayAfterReceiveError = 5 * time.Second

// queueClient is the transport contract the runtime needs; satisfied by
// [github.com/quemgr/sqsrun/sqsclient.Client]. Narrow on purpose so
// tests can substitute a mock.
type queueClient interface {
	Receive(ctx context.Context, max, waitSeconds, visibilitySeconds int32) ([]types.Message, error)
	DeleteBatch(ctx context.Context, msgs []types.Message) error
	ChangeVisibility(ctx context.Context, msg types.Message, timeout time.Duration) error
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Consumer runs the polling loop and the per-message pipeline. Create
// one with [New]; Start and Stop are safe for concurrent use.
type Consumer struct {
	client  queueClient
	handler types.HandlerFunc
	opts    *Options
	logger  types.Logger

	delayAfterReceiveError time.Duration

	mu     sync.Mutex
	state  state
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Consumer that pulls from client and dispatches each
// message to handler. The configuration is validated by
// [Consumer.Start], not here.
func New(client queueClient, handler types.HandlerFunc, logger types.Logger, opts ...Option) *Consumer {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Consumer{
		client:                 client,
		handler:                handler,
		opts:                   options,
		logger:                 logger.WithField("component", "consumer"),
		delayAfterReceiveError: defaultDelayAfterReceiveError,
	}
}

// Start validates the configuration and spawns the polling goroutine.
// Invalid configuration is the only fatal condition: Start returns an
// error and the consumer stays Idle. Calling Start on a running consumer
// logs a warning and is otherwise a no-op.
//
// The given context governs the polling goroutine; cancelling it stops
// the consumer as if Stop had been called, except that in-flight handler
// work may observe the cancellation through its own context.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		c.logger.Warn("Start called on a consumer that is not idle, ignoring")
		return nil
	}

	if c.client == nil {
		return errors.New("queue client cannot be nil")
	}

	if c.handler == nil {
		return errors.New("handler cannot be nil")
	}

	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid consumer options: %w", err)
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.state = stateRunning

	go c.run(ctx, c.stopCh, c.doneCh)

	c.logger.Info("Consumer started")

	return nil
}

// Stop asks the polling loop to exit after its in-flight batch and waits
// for it, bounded by ctx. Calling Stop on a consumer that is not running
// logs a warning and is otherwise a no-op.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()

	if c.state != stateRunning {
		c.mu.Unlock()
		c.logger.Warn("Stop called on a consumer that is not running, ignoring")
		return nil
	}

	c.state = stateStopping
	close(c.stopCh)
	doneCh := c.doneCh

	c.mu.Unlock()

	select {
	case <-doneCh:
		c.logger.Info("Consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer did not stop in time: %w", ctx.Err())
	}
}

// run is the polling loop. It owns the Running -> Idle transition: on
// exit, whatever the cause, the consumer is Idle again and doneCh is
// closed.
func (c *Consumer) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = stateIdle
		c.mu.Unlock()
		close(doneCh)
	}()

	visibilitySeconds := int32(c.opts.visibilityTimeout / time.Second)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.client.Receive(ctx, c.opts.maxNumberOfMessages, c.opts.waitTimeSeconds, visibilitySeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			// The delay prevents hammering the queue API (and excessive
			// logging) in case of persistent transport errors.
			c.logger.Errorf("Error receiving messages: %v", err)
			if !c.sleep(ctx, stopCh, c.delayAfterReceiveError) {
				return
			}
			continue
		}

		if len(msgs) == 0 {
			if !c.sleep(ctx, stopCh, c.opts.pollInterval) {
				return
			}
			continue
		}

		c.logger.WithField("count", len(msgs)).Debug("Received message batch")
		c.processBatch(ctx, msgs)
	}
}

// sleep waits for d, returning false if the consumer should exit first.
func (c *Consumer) sleep(ctx context.Context, stopCh chan struct{}, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
