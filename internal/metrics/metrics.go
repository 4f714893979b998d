// Package metrics exposes client counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	Connects          prometheus.Counter
	Closes            *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ReconnectGiveUps  prometheus.Counter
	Connected         prometheus.Gauge

	// Traffic metrics
	FramesReceived *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	SendFailures   prometheus.Counter

	// Voice metrics
	Finalizations     *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Robot selection
	AckLatency prometheus.Histogram
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connects: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_connects_total",
			Help: "Total number of WebSocket connections opened",
		}),
		Closes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_closes_total",
			Help: "Total number of WebSocket closes by kind",
		}, []string{"kind"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		}),
		ReconnectGiveUps: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_reconnect_exhausted_total",
			Help: "Total number of times automatic reconnection gave up",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_connected",
			Help: "1 while the WebSocket is open",
		}),

		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_frames_received_total",
			Help: "Total number of frames received by kind",
		}, []string{"kind"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_messages_sent_total",
			Help: "Total number of frames sent by kind",
		}, []string{"kind"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_send_failures_total",
			Help: "Total number of sends that failed or were refused",
		}),

		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_voice_finalizations_total",
			Help: "Total number of finished recordings by reason",
		}, []string{"reason"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_recording_duration_seconds",
			Help:    "Duration of voice recordings",
			Buckets: prometheus.LinearBuckets(1, 2, 9), // 1s to 17s
		}),

		AckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelink_robot_ack_latency_seconds",
			Help:    "Latency of robot selection acknowledgements",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
	}
}

// RecordConnect records an opened socket.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.Connects.Inc()
	m.Connected.Set(1)
}

// RecordClose records a closed socket by close code.
func (m *Metrics) RecordClose(code int) {
	if m == nil {
		return
	}
	kind := "abnormal"
	if code == 1000 {
		kind = "normal"
	}
	m.Closes.WithLabelValues(kind).Inc()
	m.Connected.Set(0)
}

// RecordReconnect records a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordReconnectExhausted records that automatic reconnection stopped.
func (m *Metrics) RecordReconnectExhausted() {
	if m == nil {
		return
	}
	m.ReconnectGiveUps.Inc()
}

// RecordFrame records an inbound frame ("text" or "binary").
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// RecordSend records an outbound frame, or a failure if ok is false.
func (m *Metrics) RecordSend(kind string, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.SendFailures.Inc()
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// RecordFinalization records a finished recording.
func (m *Metrics) RecordFinalization(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(reason).Inc()
	m.RecordingDuration.Observe(d.Seconds())
}

// RecordAck records a robot selection round trip.
func (m *Metrics) RecordAck(d time.Duration) {
	if m == nil {
		return
	}
	m.AckLatency.Observe(d.Seconds())
}

// Handler returns the HTTP handler serving these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather returns the current metric families.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range metric.GetLabel() {
				name += "{" + lp.GetName() + "=" + strconv.Quote(lp.GetValue()) + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// Serve serves /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
