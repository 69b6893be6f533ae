// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Uploads        *prometheus.CounterVec
	UploadDuration prometheus.Histogram
	Streams        *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	Events         *prometheus.CounterVec
	WSClients      prometheus.Gauge
}

// New creates the collectors on a private registry, so tests can build as
// many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmusic_uploads_total",
				Help: "Upload attempts by outcome.",
			},
			[]string{"status"},
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tgmusic_upload_duration_seconds",
				Help:    "Time spent handling an upload, audio host included.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		Streams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmusic_stream_requests_total",
				Help: "Stream proxy requests by result.",
			},
			[]string{"result"},
		),
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmusic_manage_actions_total",
				Help: "Manage actions by action name and result.",
			},
			[]string{"action", "result"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgmusic_events_published_total",
				Help: "Change events handed to the publisher, by type and result.",
			},
			[]string{"type", "result"},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgmusic_ws_clients",
				Help: "Connected websocket clients.",
			},
		),
	}

	m.registry.MustRegister(
		m.Uploads,
		m.UploadDuration,
		m.Streams,
		m.Actions,
		m.Events,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveUpload(status string, started time.Time) {
	m.Uploads.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveStream(result string) {
	m.Streams.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAction(action, result string) {
	m.Actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveEvent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Events.WithLabelValues(eventType, result).Inc()
}
