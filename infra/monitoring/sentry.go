// Package monitoring wires the core monitor to Sentry.
package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/evstation/config"
	coremon "github.com/kilianp07/evstation/core/monitoring"
)

// NewSentryMonitor initializes Sentry for the given station. Every captured
// event carries a station_id tag. An empty DSN yields a NopMonitor.
func NewSentryMonitor(cfg config.SentryConfig, stationID string) (coremon.Monitor, error) {
	return newSentryMonitor(cfg, stationID, nil)
}

func newSentryMonitor(cfg config.SentryConfig, stationID string, beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       stationID,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{stationID: stationID}, nil
}

type sentryMonitor struct {
	stationID string
}

// CaptureException reports err with the station tag plus the given tags.
// Caller tags win on conflict.
func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if s.stationID != "" {
			scope.SetTag("station_id", s.stationID)
		}
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) Recover() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(2 * time.Second)
		panic(r)
	}
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
