// Package metrics projects measurement records onto the exported
// Prometheus gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tzockt/speedtest-exporter/pkg/speedtest"
)

// Metrics holds the exporter's gauge set on a private registry, so the
// exposition contains exactly the declared speedtest series.
type Metrics struct {
	registry *prometheus.Registry

	serverID prometheus.Gauge
	jitter   prometheus.Gauge
	ping     prometheus.Gauge
	download prometheus.Gauge
	upload   prometheus.Gauge
	up       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		serverID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_server_id",
			Help: "Speedtest server ID used for testing",
		}),
		jitter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_jitter_latency_milliseconds",
			Help: "Speedtest jitter in milliseconds",
		}),
		ping: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_ping_latency_milliseconds",
			Help: "Speedtest ping latency in milliseconds",
		}),
		download: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_download_bits_per_second",
			Help: "Speedtest download speed in bits per second",
		}),
		upload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_upload_bits_per_second",
			Help: "Speedtest upload speed in bits per second",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedtest_up",
			Help: "Speedtest status - 1 if successful, 0 if failed",
		}),
	}

	m.registry.MustRegister(m.serverID, m.jitter, m.ping, m.download, m.upload, m.up)
	return m
}

// Set projects a record onto the gauges. A nil or failed record zeroes
// every value gauge and sets speedtest_up to 0, keeping the series
// well-typed and gap-free across scrapes.
func (m *Metrics) Set(rec *speedtest.Result) {
	if rec == nil || !rec.Success {
		m.serverID.Set(0)
		m.jitter.Set(0)
		m.ping.Set(0)
		m.download.Set(0)
		m.upload.Set(0)
		m.up.Set(0)
		return
	}

	m.serverID.Set(float64(rec.ServerID))
	m.jitter.Set(rec.JitterMs)
	m.ping.Set(rec.PingMs)
	m.download.Set(rec.DownloadBps)
	m.upload.Set(rec.UploadBps)
	m.up.Set(1)
}

// Handler renders the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
