package reporting

import (
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutDSNIsNoOp(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NoOp{}, r)
	r.CaptureError(errors.New("ignored"), nil)
	assert.True(t, r.Flush())
}

func TestSentryReporterTagsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event

	r, err := New(Config{
		DSN:         "https://public@example.com/1",
		Environment: "test",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	}, nil)
	require.NoError(t, err)

	r.CaptureError(errors.New("corrupt slot sequence"), map[string]string{"node_id": "n1"})
	r.CaptureError(nil, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "n1", events[0].Tags["node_id"])
	assert.Equal(t, "test", events[0].Environment)
}

func TestNewRejectsBadDSN(t *testing.T) {
	_, err := New(Config{DSN: "::not a dsn"}, nil)
	assert.Error(t, err)
}
