// Package metrics exposes the bot's Prometheus counters and the /metrics and
// /health endpoints.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edi"

// Metrics holds every collector. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Events        *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	UnitErrors    *prometheus.CounterVec
	Reconnects    prometheus.Counter
	SessionState  prometheus.Gauge
	RouteDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Events received from the upstream connection",
			},
			[]string{"kind"},
		),

		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "invoked_total",
				Help:      "Command invocations by outcome (ok, error, invalid, disabled)",
			},
			[]string{"command", "status"},
		),

		UnitErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "units",
				Name:      "errors_total",
				Help:      "Unit failures by phase (start, stop, dispatch)",
			},
			[]string{"unit", "phase"},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "reconnects_total",
				Help:      "Reconnect attempts after the stream ended",
			},
		),

		SessionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "Session state (0=disconnected, 1=connecting, 2=handshaking, 3=ready, 4=streaming, 5=shutting down, 6=stopped)",
			},
		),

		RouteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "route_duration_seconds",
				Help:      "Time to route one event, commands and fan-out included",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.Events,
		m.Commands,
		m.UnitErrors,
		m.Reconnects,
		m.SessionState,
		m.RouteDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the dedicated registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Command(name, status string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name, status).Inc()
}

func (m *Metrics) UnitError(unit, phase string) {
	if m == nil {
		return
	}
	m.UnitErrors.WithLabelValues(unit, phase).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) State(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

func (m *Metrics) ObserveRoute(d time.Duration) {
	if m == nil {
		return
	}
	m.RouteDuration.Observe(d.Seconds())
}

// Handler serves /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	if m != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Serve listens on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
