package frontier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lodestone-search/lodestone/internal/engine"
)

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3, 0, 0)

	transient := &engine.FetchError{URI: "https://example.com", Status: 503, Transient: true}
	permanent := &engine.FetchError{URI: "https://example.com", Status: 404, Transient: false}

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"transient under bound", transient, 1, true},
		{"transient at bound", transient, 3, false},
		{"permanent failure", permanent, 1, false},
		{"cancellation", context.Canceled, 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"unclassified error", errors.New("boom"), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}

	// Later attempts never drop below half the capped delay.
	assert.GreaterOrEqual(t, p.Backoff(4), 500*time.Millisecond)
}
