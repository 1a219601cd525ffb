package sqsclient

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Client].
// Options are passed to [New] and applied before [Client.Init] is called.
type Option func(*Options)

// Options holds the resolved configuration for a [Client]. All fields
// are set to sensible defaults by [New]; use With* functions to override
// individual values.
type Options struct {
	apiMaxRetryAttempts     int
	apiMaxRetryBackoffDelay time.Duration
	sqsClient               sqsAPI // Optional: injected SQS client for testing
}

func newOptions() *Options {
	return &Options{
		apiMaxRetryAttempts:     5,
		apiMaxRetryBackoffDelay: 10 * time.Second,
	}
}

func (o *Options) validate() error {
	if o.apiMaxRetryAttempts < 0 || o.apiMaxRetryAttempts > 10 {
		return errors.New("max SQS API retry attempts must be between 0 and 10")
	}

	if o.apiMaxRetryBackoffDelay < 1*time.Second || o.apiMaxRetryBackoffDelay > 30*time.Second {
		return errors.New("max SQS API retry backoff delay must be between 1 and 30 seconds")
	}

	return nil
}

// WithAPIMaxRetryAttempts sets the maximum number of retry attempts for
// failed SQS API calls. Must be between 0 and 10. Default: 5.
func WithAPIMaxRetryAttempts(n int) Option {
	return func(o *Options) {
		o.apiMaxRetryAttempts = n
	}
}

// WithAPIMaxRetryBackoffDelay sets the maximum backoff delay between
// consecutive SQS API retry attempts. Must be between 1 second and 30
// seconds. Default: 10 seconds.
func WithAPIMaxRetryBackoffDelay(d time.Duration) Option {
	return func(o *Options) {
		o.apiMaxRetryBackoffDelay = d
	}
}

// WithSQSClient replaces the default AWS SQS client with a custom
// implementation of the internal sqsAPI interface. This option is
// intended for testing with mock or stub clients.
func WithSQSClient(client sqsAPI) Option {
	return func(o *Options) {
		o.sqsClient = client
	}
}
