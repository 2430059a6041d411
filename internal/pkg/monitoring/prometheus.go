// Package monitoring exports bridge metrics to Prometheus.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/notibridge/internal/pkg/classifier"
	"github.com/endorses/notibridge/internal/pkg/connection"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter collects connection, classification and configuration
// metrics and serves them over HTTP. It implements connection.Observer and
// dispatch.Metrics.
type PrometheusExporter struct {
	enabled  atomic.Bool
	registry *prometheus.Registry
	addr     string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	state atomic.Int32

	connectionState prometheus.Gauge
	nextDelay       prometheus.Gauge
	stateChanges    *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	activity        *prometheus.CounterVec
	classifierDrops *prometheus.CounterVec
	configReloads   *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter that will listen on addr. The
// metrics are registered immediately; Enable starts the HTTP server.
func NewPrometheusExporter(addr string) *PrometheusExporter {
	registry := prometheus.NewRegistry()

	// Add Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &PrometheusExporter{
		registry: registry,
		addr:     addr,

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notibridge_connection_state",
			Help: "Daemon connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		nextDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notibridge_reconnect_delay_seconds",
			Help: "Delay before the next reconnect attempt, 0 when none is pending",
		}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_connection_state_changes_total",
			Help: "Connection state transitions by target state",
		}, []string{"state"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_connect_attempts_total",
			Help: "Connect attempts by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_notifications_total",
			Help: "Notifications handed to the connection by category and result",
		}, []string{"category", "result"}),
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_activity_total",
			Help: "Activity records classified by outcome",
		}, []string{"outcome"}),
		classifierDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_classifier_drops_total",
			Help: "Activity records dropped by the classifier by reason",
		}, []string{"reason"}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notibridge_config_reloads_total",
			Help: "Filter configuration reloads by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		p.connectionState,
		p.nextDelay,
		p.stateChanges,
		p.connectAttempts,
		p.notifications,
		p.activity,
		p.classifierDrops,
		p.configReloads,
	)

	// pre-create label values so every series is exported from the start
	for _, r := range classifier.Reasons {
		p.classifierDrops.WithLabelValues(string(r))
	}
	for _, result := range []string{"success", "failure"} {
		p.connectAttempts.WithLabelValues(result)
	}

	return p
}

// Registry returns the registry the exporter collects into
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns the HTTP handler serving /metrics and /health
func (p *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", p.healthHandler)
	return mux
}

// Enable starts the metrics server. An empty address leaves it disabled.
func (p *PrometheusExporter) Enable() error {
	if p.addr == "" || p.enabled.Load() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lis, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}

	p.listener = lis
	p.server = &http.Server{
		Handler:      p.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus server error", "error", err)
		}
	}(p.server)

	p.enabled.Store(true)
	logger.Info("Prometheus metrics enabled", "endpoint", fmt.Sprintf("http://%s/metrics", lis.Addr()))
	return nil
}

// Addr returns the address the server listens on, or "" when disabled
func (p *PrometheusExporter) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Disable stops the metrics server
func (p *PrometheusExporter) Disable(ctx context.Context) error {
	if !p.enabled.Load() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.server != nil {
		err = p.server.Shutdown(ctx)
		if err != nil {
			logger.Error("Error shutting down Prometheus server", "error", err)
		}
		p.server = nil
		p.listener = nil
	}

	p.enabled.Store(false)
	logger.Info("Prometheus metrics disabled")
	return err
}

// IsEnabled returns whether the metrics server is running
func (p *PrometheusExporter) IsEnabled() bool {
	return p.enabled.Load()
}

// StateChanged implements connection.Observer
func (p *PrometheusExporter) StateChanged(_, to connection.State) {
	p.state.Store(int32(to.Kind))
	p.connectionState.Set(float64(to.Kind))
	p.stateChanges.WithLabelValues(to.Kind.String()).Inc()
	if to.Kind == connection.StateConnecting {
		p.nextDelay.Set(to.NextDelay.Seconds())
	} else {
		p.nextDelay.Set(0)
	}
}

// ConnectAttempted implements connection.Observer
func (p *PrometheusExporter) ConnectAttempted(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.connectAttempts.WithLabelValues(result).Inc()
}

// NotificationSent implements connection.Observer
func (p *PrometheusExporter) NotificationSent(category string, err error) {
	result := "sent"
	if err != nil {
		result = "dropped"
	}
	p.notifications.WithLabelValues(category, result).Inc()
}

// ActivityClassified implements dispatch.Metrics
func (p *PrometheusExporter) ActivityClassified(reason classifier.Reason) {
	if reason == classifier.ReasonNone {
		p.activity.WithLabelValues("notified").Inc()
		return
	}
	p.activity.WithLabelValues("dropped").Inc()
	p.classifierDrops.WithLabelValues(string(reason)).Inc()
}

// ConfigReloaded records the outcome of a filter configuration reload
func (p *PrometheusExporter) ConfigReloaded(err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	p.configReloads.WithLabelValues(result).Inc()
}

// healthHandler reports the daemon connection state. The bridge itself is
// healthy while it runs; a lost daemon connection is reported, not failed.
func (p *PrometheusExporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	state := connection.StateKind(p.state.Load())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","daemon":%q}`, state.String())
}
