package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

const namespace = "nginx_config_reloader"

// Collector records finished attempts. It implements reconciler.Observer.
type Collector struct {
	registry    *prometheus.Registry
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
	lastFailure prometheus.Gauge
}

// NewCollector registers the reloader metrics on registry, or on a fresh
// registry (with Go and process collectors) when registry is nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	c := &Collector{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Apply and reload attempts by trigger, outcome and failure kind.",
		}, []string{"trigger", "outcome", "failure_kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of apply attempts that ran.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last applied configuration.",
		}),
		lastFailure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_failure_timestamp_seconds",
			Help:      "Unix time of the last failed attempt.",
		}),
	}
	registry.MustRegister(c.attempts, c.duration, c.lastSuccess, c.lastFailure)
	return c
}

// TrackApplying exports whether an apply currently holds the guard.
func (c *Collector) TrackApplying(applying func() bool) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "applying",
		Help:      "1 while an apply attempt is running.",
	}, func() float64 {
		if applying() {
			return 1
		}
		return 0
	}))
}

// TrackRemote exports the remote channel connection state.
func (c *Collector) TrackRemote(connected func() bool) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remote_connected",
		Help:      "1 while the remote reload channel is connected.",
	}, func() float64 {
		if connected() {
			return 1
		}
		return 0
	}))
}

// Observe records res.
func (c *Collector) Observe(res reconciler.Result) {
	kind := string(res.Kind)
	if kind == "" {
		kind = "none"
	}
	c.attempts.WithLabelValues(string(res.Trigger), string(res.Outcome), kind).Inc()

	switch res.Outcome {
	case reconciler.OutcomeApplied:
		c.duration.WithLabelValues(string(res.Outcome)).Observe(res.Duration().Seconds())
		c.lastSuccess.Set(float64(res.FinishedAt.Unix()))
	case reconciler.OutcomeFailed:
		c.duration.WithLabelValues(string(res.Outcome)).Observe(res.Duration().Seconds())
		c.lastFailure.Set(float64(res.FinishedAt.Unix()))
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve exposes /metrics on addr until ctx ends.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info("metrics endpoint listening", logging.String("address", listener.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Debug("metrics shutdown incomplete", logging.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	}
}
