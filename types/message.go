package types

import "strconv"

// AttributeReceiveCount is the SQS message system attribute carrying the
// number of times a message has been delivered without being deleted.
const AttributeReceiveCount = "ApproximateReceiveCount"

// Message is the queue-agnostic envelope delivered to handlers. The
// runtime never parses Body; it is passed through verbatim.
//
// ReceiptHandle is the opaque token required to delete the message or
// change its visibility. It is invalidated once the message's visibility
// timeout expires or the message is deleted.
type Message struct {
	// MessageID uniquely identifies the message for its lifetime in the
	// queue. Redeliveries of the same message carry the same ID.
	MessageID string

	// ReceiptHandle is the per-delivery deletion/visibility token.
	ReceiptHandle string

	// Body is the raw message payload.
	Body string

	// Attributes holds the SQS message system attributes returned with
	// the delivery, including AttributeReceiveCount.
	Attributes map[string]string
}

// ReceiveCount returns the ApproximateReceiveCount attribute as an
// integer, or 0 when the attribute is absent or malformed.
func (m Message) ReceiveCount() int {
	raw, ok := m.Attributes[AttributeReceiveCount]
	if !ok {
		return 0
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

// MessageMetadata is derived per delivery and passed to the handler
// alongside the message.
type MessageMetadata struct {
	// RetryCount is the queue's delivery count for this message, parsed
	// from AttributeReceiveCount (0 if absent).
	RetryCount int

	// IsLastAttempt is true iff a max receive count is configured on the
	// consumer and RetryCount has reached it.
	IsLastAttempt bool
}
