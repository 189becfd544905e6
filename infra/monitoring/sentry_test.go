package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/config"
	coremon "github.com/kilianp07/evstation/core/monitoring"
)

func TestNewSentryMonitor_NoDSN(t *testing.T) {
	mon, err := NewSentryMonitor(config.SentryConfig{}, "st1")
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, mon)
}

func TestSentryMonitor_CaptureWithTags(t *testing.T) {
	var mu sync.Mutex
	var captured []*sentry.Event
	mon, err := newSentryMonitor(config.SentryConfig{
		DSN:         "https://public@sentry.example.com/1",
		Environment: "test",
	}, "EV_STATION_PARIS_15", func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		mu.Lock()
		captured = append(captured, ev)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	mon.CaptureException(errors.New("battery rejected allocation"), map[string]string{"station": "st1", "trigger": "start"})
	mon.CaptureException(nil, nil)
	mon.Flush(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 1)
	assert.Equal(t, "st1", captured[0].Tags["station"])
	assert.Equal(t, "EV_STATION_PARIS_15", captured[0].Tags["station_id"])
	assert.Equal(t, "start", captured[0].Tags["trigger"])
	assert.Equal(t, "test", captured[0].Environment)
}
