//nolint:testpackage // Tests exercise package internals alongside the API
package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageReceiveCount(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  int
	}{
		{name: "absent attributes", attrs: nil, want: 0},
		{name: "absent count", attrs: map[string]string{}, want: 0},
		{name: "valid count", attrs: map[string]string{AttributeReceiveCount: "3"}, want: 3},
		{name: "malformed count", attrs: map[string]string{AttributeReceiveCount: "many"}, want: 0},
		{name: "negative count", attrs: map[string]string{AttributeReceiveCount: "-1"}, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := Message{MessageID: "m-1", Attributes: tc.attrs}
			assert.Equal(t, tc.want, msg.ReceiveCount())
		})
	}
}

func TestRetryAndPermanentErrors(t *testing.T) {
	retryErr := Retry("downstream timeout")

	var re *RetryableError
	assert.True(t, errors.As(retryErr, &re))
	assert.Contains(t, retryErr.Error(), "downstream timeout")

	permErr := Permanent("malformed payload")

	var pe *PermanentError
	assert.True(t, errors.As(permErr, &pe))
	assert.Contains(t, permErr.Error(), "malformed payload")

	// A wrapped permanent error still classifies as permanent.
	wrapped := errors.Join(errors.New("context"), Permanent("bad"))
	assert.True(t, errors.As(wrapped, &pe))
}

func TestRetryStrategyValidate(t *testing.T) {
	assert.NoError(t, StrategyExponential.Validate())
	assert.NoError(t, StrategyFixed.Validate())
	assert.Error(t, RetryStrategy("linear").Validate())
	assert.Error(t, RetryStrategy("").Validate())
}

func TestNextRetryAt(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		retryCount int
		strategy   RetryStrategy
		want       time.Time
	}{
		{name: "fixed first failure", retryCount: 1, strategy: StrategyFixed, want: base.Add(5 * time.Second)},
		{name: "fixed fifth failure", retryCount: 5, strategy: StrategyFixed, want: base.Add(5 * time.Second)},
		{name: "exponential first failure equals base", retryCount: 1, strategy: StrategyExponential, want: base.Add(5 * time.Second)},
		{name: "exponential second failure doubles", retryCount: 2, strategy: StrategyExponential, want: base.Add(10 * time.Second)},
		{name: "exponential fourth failure", retryCount: 4, strategy: StrategyExponential, want: base.Add(40 * time.Second)},
		{name: "zero count treated as first", retryCount: 0, strategy: StrategyExponential, want: base.Add(5 * time.Second)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NextRetryAt(base, tc.retryCount, 5*time.Second, tc.strategy)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextRetryAtSaturates(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	huge := NextRetryAt(base, 500, time.Second, StrategyExponential)
	huger := NextRetryAt(base, 501, time.Second, StrategyExponential)

	assert.True(t, huge.After(base))
	assert.Equal(t, huge, huger)
}
