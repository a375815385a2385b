package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"log-guard/internal/client"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusExporter serves the engine metrics over HTTP.
type PrometheusExporter struct {
	server   *http.Server
	registry *prometheus.Registry
	metrics  *client.PrometheusMetrics
	logger   *logrus.Logger
	port     string
}

// CreateCustomRegistry returns a registry with the runtime collectors.
func CreateCustomRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry
}

// NewPrometheusExporter registers metrics on a fresh registry and prepares
// the HTTP server.
func NewPrometheusExporter(port string, metrics *client.PrometheusMetrics, logger *logrus.Logger) (*PrometheusExporter, error) {
	registry := CreateCustomRegistry()
	for _, c := range metrics.Collectors() {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register custom metrics: %v", err)
		}
	}

	e := &PrometheusExporter{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		port:     port,
	}
	e.server = &http.Server{
		Addr:    ":" + port,
		Handler: e.Handler(),
	}
	return e, nil
}

// Handler exposes /metrics, /health and an index page.
func (e *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`
			<h1>log-guard Prometheus Exporter</h1>
			<p><a href="/metrics">Metrics</a></p>
			<p><a href="/health">Health Check</a></p>
		`))
	})
	return mux
}

// Start serves until ctx is cancelled.
func (e *PrometheusExporter) Start(ctx context.Context) error {
	e.logger.Infof("Starting Prometheus exporter on port %s", e.port)
	e.logger.Infof("Metrics available at: http://localhost:%s/metrics", e.port)

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Errorf("Failed to start Prometheus exporter: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.logger.Info("Shutting down Prometheus exporter...")
	return e.server.Shutdown(shutdownCtx)
}

func (e *PrometheusExporter) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return e.server.Shutdown(ctx)
}

func (e *PrometheusExporter) GetMetrics() *client.PrometheusMetrics {
	return e.metrics
}
