package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesReceived prometheus.Counter
	DecodeErrors   *prometheus.CounterVec
	CommandsSent   *prometheus.CounterVec
	Controllers    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lora",
			Name:      "frames_received_total",
			Help:      "Uplink records received from controllers.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lora",
			Name:      "decode_errors_total",
			Help:      "Records discarded because they did not decode.",
		}, []string{"record"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lora",
			Name:      "commands_sent_total",
			Help:      "Device commands forwarded to controllers.",
		}, []string{"command"}),
		Controllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lora",
			Name:      "controllers_connected",
			Help:      "Controllers currently connected over websocket.",
		}),
	}

	m.registry.MustRegister(m.FramesReceived, m.DecodeErrors, m.CommandsSent, m.Controllers)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
