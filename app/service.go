package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	auditapi "github.com/kilianp07/evstation/api/auditlog"
	kpiapi "github.com/kilianp07/evstation/api/kpi"
	stationapi "github.com/kilianp07/evstation/api/station"
	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/core/allocation"
	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/events"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
	coremon "github.com/kilianp07/evstation/core/monitoring"
	"github.com/kilianp07/evstation/core/station"
	"github.com/kilianp07/evstation/infra/kpi"
	"github.com/kilianp07/evstation/infra/logger"
	"github.com/kilianp07/evstation/infra/metrics"
	"github.com/kilianp07/evstation/infra/monitoring"
	"github.com/kilianp07/evstation/infra/mqtt"
	"github.com/kilianp07/evstation/infra/telemetry"
	"github.com/kilianp07/evstation/internal/eventbus"
)

const shutdownTimeout = 5 * time.Second

// Service wires the station to its HTTP API, MQTT setpoints, metrics and
// audit log.
type Service struct {
	Station *station.Station

	cfg       *config.Config
	log       logger.Logger
	sink      coremetrics.MetricsSink
	store     auditlog.Store
	kpi       *kpi.SQLiteStore
	publisher *mqtt.SetpointPublisher
	telemetry *telemetry.Manager
	sessions  *eventbus.TypedBus[events.SessionEvent]
	reallocs  *eventbus.TypedBus[events.Reallocation]
	handler   http.Handler

	mu   sync.Mutex
	addr net.Addr
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry, cfg.Station.ID)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	alloc, err := allocation.New(cfg.Allocation.Strategy)
	if err != nil {
		return nil, fmt.Errorf("allocation: %w", err)
	}
	st, err := station.NewStation(cfg.Station, alloc, logger.New("station"), nil)
	if err != nil {
		return nil, fmt.Errorf("station: %w", err)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	st.SetMetricsSink(sink)

	store, err := auditlog.Open(cfg.AuditLog)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	if store != nil {
		st.SetLogStore(store)
	}

	svc := &Service{
		Station:  st,
		cfg:      cfg,
		log:      logg,
		sink:     sink,
		store:    store,
		sessions: eventbus.NewTyped[events.SessionEvent](),
		reallocs: eventbus.NewTyped[events.Reallocation](),
	}
	st.SetEventBuses(svc.sessions, svc.reallocs)

	if cfg.KPI.Path != "" {
		ks, err := kpi.NewSQLiteStore(cfg.KPI.Path)
		if err != nil {
			_ = svc.closeStore()
			return nil, fmt.Errorf("kpi store: %w", err)
		}
		svc.kpi = ks
		st.SetStopRecorder(ks)
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewSetpointPublisher(cfg.MQTT)
		if err != nil {
			_ = svc.closeStore()
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		svc.publisher = pub
	}
	if cfg.Telemetry.Enabled {
		tm, err := telemetry.NewManager(cfg.MQTT, cfg.Telemetry, st.ID(), st, prometheus.DefaultRegisterer)
		if err != nil {
			if svc.publisher != nil {
				svc.publisher.Disconnect()
			}
			_ = svc.closeStore()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		svc.telemetry = tm
	}

	mux := http.NewServeMux()
	if store != nil {
		mux.Handle("/api/allocations/logs", auditapi.NewLogHandler(store, cfg.AuditLog.Token))
	}
	if svc.kpi != nil {
		mux.Handle("/api/kpi/energy", kpiapi.NewEnergyHandler(svc.kpi, nil))
	}
	mux.Handle("/", stationapi.NewHandler(st, logger.New("http")))
	svc.handler = mux

	logg.Infof("%s ready with %s allocation", st, cfg.Allocation.Strategy)
	return svc, nil
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler { return s.handler }

// Addr returns the address the API listens on once Run has started.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves the API and forwards station events until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup
	if s.publisher != nil {
		ch := s.reallocs.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.publisher.Run(ctx, ch)
		}()
	}
	if s.telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.telemetry.Start(ctx); err != nil {
				s.log.Errorf("telemetry: %v", err)
			}
		}()
	}
	journal := s.sessions.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.journal(ctx, journal)
	}()
	if s.cfg.Metrics.HasSink("prometheus") {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.HTTP.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.HTTP.ReadTimeout(),
		WriteTimeout:      s.cfg.HTTP.WriteTimeout(),
	}
	errCh := make(chan error, 1)
	go func() {
		defer coremon.Recover()
		s.log.Infof("station API listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.log.Errorf("http shutdown: %v", serr)
	}
	stop()
	wg.Wait()
	s.sessions.Unsubscribe(journal)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// journal logs session events.
func (s *Service) journal(ctx context.Context, ch <-chan events.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.log.Infow("session event", map[string]any{
				"station_id":      ev.StationID,
				"action":          string(ev.Action),
				"session_id":      ev.SessionID,
				"charger_id":      ev.ChargerID,
				"connector_id":    ev.ConnectorID,
				"allocated_power": ev.AllocatedPower,
				"consumed_energy": ev.ConsumedEnergy,
			})
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.sessions.Close()
	s.reallocs.Close()
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return s.closeStore()
}

func (s *Service) closeStore() error {
	var errs []error
	if s.kpi != nil {
		errs = append(errs, s.kpi.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
