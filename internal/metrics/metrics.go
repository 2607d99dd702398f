// Package metrics exposes detector activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keyseq/internal/sequence"
)

const namespace = "keyseq"

// Metrics holds the keyseq collectors on a private registry. It implements
// sequence.Observer.
type Metrics struct {
	keysTotal      *prometheus.CounterVec
	clearsTotal    *prometheus.CounterVec
	detectedTotal  prometheus.Counter
	rejectedTotal  prometheus.Counter
	sequenceLength prometheus.Histogram
	reloadsTotal   *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	sourceActive   prometheus.Gauge

	registry *prometheus.Registry
}

var _ sequence.Observer = (*Metrics)(nil)

// New creates the collectors and registers them along with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		keysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keys_total",
				Help:      "Key releases seen by the detector by outcome",
			},
			[]string{"outcome"},
		),

		clearsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_clears_total",
				Help:      "Non-empty buffer discards by reason",
			},
			[]string{"reason"},
		),

		detectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequences_detected_total",
				Help:      "Sequences that satisfied the length rules",
			},
		),

		rejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequences_rejected_total",
				Help:      "Buffers discarded at timeout for failing the length rules",
			},
		),

		sequenceLength: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sequence_length",
				Help:      "Length in characters of detected sequences",
				Buckets:   []float64{4, 6, 8, 10, 12, 14, 16, 20, 24, 32, 48, 64},
			},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads by status",
			},
			[]string{"status"},
		),

		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Failures delivering a detection to a sink",
			},
			[]string{"sink"},
		),

		sourceActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "source_running",
				Help:      "Whether the key source is running (1) or stopped (0)",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.keysTotal,
		m.clearsTotal,
		m.detectedTotal,
		m.rejectedTotal,
		m.sequenceLength,
		m.reloadsTotal,
		m.sinkErrors,
		m.sourceActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// KeyAccepted counts a key appended to the buffer.
func (m *Metrics) KeyAccepted() {
	m.keysTotal.WithLabelValues("accepted").Inc()
}

// KeyIgnored counts a key that did not reach the buffer.
func (m *Metrics) KeyIgnored() {
	m.keysTotal.WithLabelValues("ignored").Inc()
}

// BufferCleared counts a discard of a non-empty buffer.
func (m *Metrics) BufferCleared(reason sequence.ClearReason, length int) {
	m.clearsTotal.WithLabelValues(string(reason)).Inc()
}

// SequenceDetected counts a notification and records its length.
func (m *Metrics) SequenceDetected(length int) {
	m.detectedTotal.Inc()
	m.sequenceLength.Observe(float64(length))
}

// SequenceRejected counts a buffer that failed the length rules.
func (m *Metrics) SequenceRejected(length int) {
	m.rejectedTotal.Inc()
}

// RecordReload counts a configuration reload attempt.
func (m *Metrics) RecordReload(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reloadsTotal.WithLabelValues(status).Inc()
}

// RecordSinkError counts a failed delivery to the named sink.
func (m *Metrics) RecordSinkError(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetSourceRunning reports the source state.
func (m *Metrics) SetSourceRunning(running bool) {
	if running {
		m.sourceActive.Set(1)
		return
	}
	m.sourceActive.Set(0)
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics and the extra routes on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger, routes map[string]http.Handler) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for path, h := range routes {
		mux.Handle(path, h)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
