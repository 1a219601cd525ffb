package consumer

import (
	"errors"
	"time"

	"github.com/quemgr/sqsrun/types"
)

// Option is a functional option for configuring a [Consumer].
// Options are passed to [New] and applied before [Consumer.Start] is
// called.
type Option func(*Options)

// Options holds the resolved configuration for a [Consumer]. All fields
// are set to sensible defaults by [New]; use With* functions to override
// individual values. Start refuses to run with invalid options.
type Options struct {
	maxNumberOfMessages int32
	waitTimeSeconds     int32
	visibilityTimeout   time.Duration
	maxReceiveCount     int
	pollInterval        time.Duration
	processInParallel   bool

	idempotencyStore types.IdempotencyStore
	idempotencyTTL   time.Duration
	preMark          bool

	backoffStore     types.BackoffStore
	backoffBaseDelay time.Duration
	retryStrategy    types.RetryStrategy

	visibilityExtension time.Duration
}

func newOptions() *Options {
	return &Options{
		maxNumberOfMessages: 10,
		waitTimeSeconds:     20,
		visibilityTimeout:   30 * time.Second,
		pollInterval:        time.Second,
		idempotencyTTL:      24 * time.Hour,
		backoffBaseDelay:    5 * time.Second,
		retryStrategy:       types.StrategyExponential,
	}
}

func (o *Options) validate() error {
	if o.maxNumberOfMessages < 1 || o.maxNumberOfMessages > 10 {
		return errors.New("max number of messages per receive must be between 1 and 10")
	}

	if o.waitTimeSeconds < 0 || o.waitTimeSeconds > 20 {
		return errors.New("receive wait time must be between 0 and 20 seconds")
	}

	if o.visibilityTimeout < 0 {
		return errors.New("visibility timeout cannot be negative")
	}

	if o.maxReceiveCount < 0 {
		return errors.New("max receive count cannot be negative")
	}

	if o.pollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if o.idempotencyTTL <= 0 {
		return errors.New("idempotency TTL must be positive")
	}

	if o.preMark && o.idempotencyStore == nil {
		return errors.New("idempotency pre-marking requires an idempotency store")
	}

	if o.backoffBaseDelay <= 0 {
		return errors.New("backoff base delay must be positive")
	}

	if err := o.retryStrategy.Validate(); err != nil {
		return err
	}

	if o.visibilityExtension > 0 && o.visibilityExtension < o.visibilityTimeout {
		return errors.New("visibility extension limit must be at least the visibility timeout")
	}

	return nil
}

// WithMaxNumberOfMessages sets the maximum number of messages returned
// by a single receive call. Must be between 1 and 10. Default: 10.
func WithMaxNumberOfMessages(n int32) Option {
	return func(o *Options) {
		o.maxNumberOfMessages = n
	}
}

// WithWaitTimeSeconds sets the long-poll wait duration for each receive
// call. Must be between 0 and 20 seconds. Default: 20.
func WithWaitTimeSeconds(seconds int32) Option {
	return func(o *Options) {
		o.waitTimeSeconds = seconds
	}
}

// WithVisibilityTimeout sets the window during which a received message
// is hidden from other consumers. Default: 30 seconds.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.visibilityTimeout = d
	}
}

// WithMaxReceiveCount sets the delivery-count threshold at which the
// handler sees IsLastAttempt = true. Zero (the default) means no
// threshold and IsLastAttempt is always false.
func WithMaxReceiveCount(n int) Option {
	return func(o *Options) {
		o.maxReceiveCount = n
	}
}

// WithPollInterval sets the idle sleep between empty polls. Must be
// positive. Default: 1 second.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.pollInterval = d
	}
}

// WithParallelProcessing dispatches all messages of a received batch
// concurrently instead of sequentially in arrival order. Handlers must
// be safe for concurrent use when this is enabled. Default: sequential.
func WithParallelProcessing() Option {
	return func(o *Options) {
		o.processInParallel = true
	}
}

// WithIdempotencyStore enables duplicate suppression: message IDs with
// an unexpired entry in the store are deleted without dispatching the
// handler. Default: no deduplication.
func WithIdempotencyStore(store types.IdempotencyStore) Option {
	return func(o *Options) {
		o.idempotencyStore = store
	}
}

// WithIdempotencyTTL sets how long processed message IDs are remembered.
// Must be positive. Default: 24 hours.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.idempotencyTTL = ttl
	}
}

// WithIdempotencyPreMark marks a message as processed before the handler
// runs instead of after it succeeds. The window between the mark and the
// handler outcome deduplicates concurrent deliveries of the same ID
// across replicas; on any non-success outcome the mark is retracted so
// the message can be re-attempted. Requires an idempotency store.
func WithIdempotencyPreMark() Option {
	return func(o *Options) {
		o.preMark = true
	}
}

// WithBackoffStore enables per-message cool-downs: messages that failed
// recently are skipped without dispatching the handler until their
// backoff delay has elapsed, and retried messages get their visibility
// timeout aligned with the computed delay. Default: no backoff.
func WithBackoffStore(store types.BackoffStore) Option {
	return func(o *Options) {
		o.backoffStore = store
	}
}

// WithBackoffBaseDelay sets the base delay fed to the backoff store on
// each failure. Must be positive. Default: 5 seconds.
func WithBackoffBaseDelay(d time.Duration) Option {
	return func(o *Options) {
		o.backoffBaseDelay = d
	}
}

// WithRetryStrategy selects how successive failures grow the backoff
// delay. Default: [types.StrategyExponential].
func WithRetryStrategy(s types.RetryStrategy) Option {
	return func(o *Options) {
		o.retryStrategy = s
	}
}

// WithVisibilityExtension keeps in-flight messages hidden while a batch
// is being processed: a background task re-arms each message's
// visibility timeout at half-window intervals until processing completes
// or the message has been held for maxExtension in total. Extension is
// best-effort; a message whose extension fails becomes visible again
// after the current timeout. Must be at least the visibility timeout.
// Default: disabled.
func WithVisibilityExtension(maxExtension time.Duration) Option {
	return func(o *Options) {
		o.visibilityExtension = maxExtension
	}
}
