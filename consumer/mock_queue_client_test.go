//nolint:testpackage // Mock must be in the consumer package to satisfy queueClient
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/quemgr/sqsrun/types"
)

type visibilityCall struct {
	msg     types.Message
	timeout time.Duration
}

// mockQueueClient is a mock implementation of the queueClient interface
// for testing. It records delete and visibility calls; Receive serves
// the queued batches once each and empty slices afterwards, unless
// receiveFunc overrides it.
type mockQueueClient struct {
	mu sync.Mutex

	receiveFunc func(ctx context.Context, max, waitSeconds, visibilitySeconds int32) ([]types.Message, error)
	batches     [][]types.Message

	deleteErr error

	deleteCalls     [][]types.Message
	visibilityCalls []visibilityCall
}

func (m *mockQueueClient) Receive(ctx context.Context, max, waitSeconds, visibilitySeconds int32) ([]types.Message, error) {
	if m.receiveFunc != nil {
		return m.receiveFunc(ctx, max, waitSeconds, visibilitySeconds)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.batches) == 0 {
		return nil, nil
	}

	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockQueueClient) DeleteBatch(_ context.Context, msgs []types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]types.Message, len(msgs))
	copy(copied, msgs)
	m.deleteCalls = append(m.deleteCalls, copied)

	return m.deleteErr
}

func (m *mockQueueClient) ChangeVisibility(_ context.Context, msg types.Message, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visibilityCalls = append(m.visibilityCalls, visibilityCall{msg: msg, timeout: timeout})

	return nil
}

func (m *mockQueueClient) deletedBatches() [][]types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]types.Message, len(m.deleteCalls))
	copy(out, m.deleteCalls)
	return out
}

func (m *mockQueueClient) visibilityChanges() []visibilityCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]visibilityCall, len(m.visibilityCalls))
	copy(out, m.visibilityCalls)
	return out
}
