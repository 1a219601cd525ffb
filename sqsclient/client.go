package sqsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/quemgr/sqsrun/types"
)

const (
	// deleteBatchLimit is the SQS DeleteMessageBatch entry ceiling.
	deleteBatchLimit = 10

	// maxVisibilitySeconds is the SQS ChangeMessageVisibility ceiling
	// (12 hours).
	maxVisibilitySeconds = 43200
)

// sqsAPI is the part of the SQS API used by this package. Narrow on
// purpose so tests can substitute a mock.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Client is the queue transport used by the consumer runtime.
type Client struct {
	api         sqsAPI
	queueURL    string
	awsCfg      *aws.Config
	opts        *Options
	logger      types.Logger
	initialized bool
}

// New creates a Client for the queue at queueURL. Functional options may
// override API retry defaults or inject a mock SQS client (see With*
// functions). New does not connect to AWS; call [Client.Init] first.
func New(awsCfg *aws.Config, queueURL string, logger types.Logger, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	logger = logger.
		WithField("component", "sqsclient").
		WithField("queue_url", queueURL)

	return &Client{
		awsCfg:   awsCfg,
		queueURL: queueURL,
		opts:     options,
		logger:   logger,
	}
}

// Init validates options and builds the underlying SQS client. It
// returns the receiver so initialization can be chained with [New].
//
// Init is idempotent but not thread-safe; call it once during startup
// before any concurrent access.
func (c *Client) Init(_ context.Context) (*Client, error) {
	if c.initialized {
		return c, nil
	}

	if c.queueURL == "" {
		return nil, errors.New("queue URL cannot be empty")
	}

	if u, err := url.Parse(c.queueURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("malformed queue URL %q", c.queueURL)
	}

	if err := c.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid SQS client options: %w", err)
	}

	// Use injected client if provided (for testing), otherwise create a
	// real client.
	if c.opts.sqsClient != nil {
		c.api = c.opts.sqsClient
	} else {
		c.api = sqs.NewFromConfig(*c.awsCfg, func(o *sqs.Options) {
			o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, c.opts.apiMaxRetryBackoffDelay)
			o.Retryer = retry.AddWithMaxAttempts(o.Retryer, c.opts.apiMaxRetryAttempts)
		})
	}

	c.initialized = true

	return c, nil
}

// Receive long-polls the queue for up to waitSeconds and returns at most
// max messages, each hidden from other consumers for visibilitySeconds.
// An empty slice means the poll window elapsed without messages; an error
// is returned only on transport failure.
func (c *Client) Receive(ctx context.Context, max, waitSeconds, visibilitySeconds int32) ([]types.Message, error) {
	if !c.initialized {
		return nil, errors.New("SQS client not initialized")
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   visibilitySeconds,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}

	output, err := c.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive SQS messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(output.Messages))
	for _, m := range output.Messages {
		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}

		msgs = append(msgs, types.Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			Attributes:    attrs,
		})
	}

	return msgs, nil
}

// DeleteBatch deletes the given messages, splitting the input into
// chunks of at most 10 entries. Entries rejected by the service are
// logged and skipped; transport failures are logged per chunk and the
// first one is returned after every chunk has been attempted, so a
// failing chunk never shadows the rest of the batch.
func (c *Client) DeleteBatch(ctx context.Context, msgs []types.Message) error {
	if !c.initialized {
		return errors.New("SQS client not initialized")
	}

	if len(msgs) == 0 {
		return nil
	}

	var firstErr error

	for start := 0; start < len(msgs); start += deleteBatchLimit {
		end := min(start+deleteBatchLimit, len(msgs))

		if err := c.deleteChunk(ctx, msgs[start:end]); err != nil {
			c.logger.Errorf("Failed to delete SQS message batch: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (c *Client) deleteChunk(ctx context.Context, msgs []types.Message) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(m.MessageID),
			ReceiptHandle: aws.String(m.ReceiptHandle),
		})
	}

	input := &sqs.DeleteMessageBatchInput{
		QueueUrl: &c.queueURL,
		Entries:  entries,
	}

	output, err := c.api.DeleteMessageBatch(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete SQS message batch: %w", err)
	}

	for _, f := range output.Failed {
		c.logger.WithFields(map[string]any{
			"message_id": aws.ToString(f.Id),
			"code":       aws.ToString(f.Code),
		}).Errorf("Failed to delete SQS message: %s", aws.ToString(f.Message))
	}

	return nil
}

// ChangeVisibility resets the visibility timeout of a single message.
// The new timeout is clamped to the [0, 12h] range accepted by SQS.
func (c *Client) ChangeVisibility(ctx context.Context, msg types.Message, timeout time.Duration) error {
	if !c.initialized {
		return errors.New("SQS client not initialized")
	}

	seconds := int32(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > maxVisibilitySeconds {
		seconds = maxVisibilitySeconds
	}

	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.queueURL,
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: seconds,
	}

	if _, err := c.api.ChangeMessageVisibility(ctx, input); err != nil {
		return fmt.Errorf("failed to change SQS message visibility: %w", err)
	}

	c.logger.WithFields(map[string]any{
		"message_id":         msg.MessageID,
		"visibility_timeout": seconds,
	}).Debug("SQS message visibility changed")

	return nil
}

// QueueURL returns the queue URL supplied to [New].
func (c *Client) QueueURL() string {
	return c.queueURL
}
