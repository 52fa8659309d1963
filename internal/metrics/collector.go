// Package metrics implements Prometheus metrics collection for the
// packaging engine.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coldpack/coldpack/pkg/errors"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector tracks packaging operations. A nil *Collector is valid and
// records nothing, so components never need to guard their metric calls.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesOriginal     prometheus.Counter
	bytesCompressed   prometheus.Counter
	failureCounter    *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a metrics collector. A nil config enables the
// collector with defaults.
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "coldpack",
		}
	}
	if config.Namespace == "" {
		config.Namespace = "coldpack"
	}
	if !config.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   config,
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "operations_total",
			Help:      "Total pack and unpack operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of pack and unpack operations",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation"}),
		bytesOriginal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "original_bytes_total",
			Help:      "Total uncompressed bytes processed",
		}),
		bytesCompressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "compressed_bytes_total",
			Help:      "Total compressed bytes produced",
		}),
		failureCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "failures_total",
			Help:      "Operation failures by error code",
		}, []string{"operation", "code"}),
	}

	registry.MustRegister(
		c.operationCounter,
		c.operationDuration,
		c.bytesOriginal,
		c.bytesCompressed,
		c.failureCounter,
	)
	return c
}

// RecordPack records one successful packaging operation.
func (c *Collector) RecordPack(originalBytes, compressedBytes int64, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.operationCounter.WithLabelValues("pack", "success").Inc()
	c.operationDuration.WithLabelValues("pack").Observe(elapsed.Seconds())
	c.bytesOriginal.Add(float64(originalBytes))
	c.bytesCompressed.Add(float64(compressedBytes))
}

// RecordUnpack records one successful restore operation.
func (c *Collector) RecordUnpack(restoredBytes int64, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.operationCounter.WithLabelValues("unpack", "success").Inc()
	c.operationDuration.WithLabelValues("unpack").Observe(elapsed.Seconds())
}

// RecordFailure records one failed operation by error code.
func (c *Collector) RecordFailure(operation string, err error) {
	if c == nil {
		return
	}
	c.operationCounter.WithLabelValues(operation, "failure").Inc()
	c.failureCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server in the background.
func (c *Collector) Serve() error {
	if c == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: mux,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The metrics endpoint is best-effort; packaging continues.
			slog.Default().Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops the metrics HTTP server if one was started.
func (c *Collector) Close() error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Close()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
