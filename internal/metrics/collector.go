// Package metrics exposes the Prometheus gauges SPEC_FULL.md's domain
// stack calls for: shots taken/overtime, Pi Proxy State, and connected
// client counts. Grounded on the teacher's internal/metrics.Collector —
// its own prometheus.Registry plus a Handler() method rather than the
// global default registry — adapted from a polled gRPC/HTTP scrape loop
// to push-based Set calls driven by this service's own event
// subscriptions (there is no second process to scrape here).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns one prometheus.Registry scoped to this process.
type Collector struct {
	registry *prometheus.Registry

	shotsTotal       *prometheus.CounterVec
	overtimeShots    prometheus.Counter
	proxyState       *prometheus.GaugeVec
	connectedClients prometheus.Gauge
	sessionActive    prometheus.Gauge

	mu           sync.Mutex
	lastProxyTag string
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.shotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "picam_shots_total",
		Help: "Total shutter releases, labeled by outcome",
	}, []string{"result"})
	reg.MustRegister(c.shotsTotal)

	c.overtimeShots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "picam_overtime_shots_total",
		Help: "Shots whose completion pushed the schedule past the nominal interval",
	})
	reg.MustRegister(c.overtimeShots)

	c.proxyState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "picam_proxy_state",
		Help: "Pi Proxy State, 1 for the active state and 0 for the others",
	}, []string{"state"})
	reg.MustRegister(c.proxyState)

	c.connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "picam_connected_clients",
		Help: "Number of browser clients currently connected over WebSocket",
	})
	reg.MustRegister(c.connectedClients)

	c.sessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "picam_session_active",
		Help: "1 if an intervalometer session is running or paused",
	})
	reg.MustRegister(c.sessionActive)

	c.lastProxyTag = "none"
	c.proxyState.WithLabelValues("none").Set(1)

	return c
}

// Handler serves this collector's own registry, not the global default
// one, so tests and multiple collectors in-process never collide.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordShot(success bool) {
	if success {
		c.shotsTotal.WithLabelValues("success").Inc()
	} else {
		c.shotsTotal.WithLabelValues("failed").Inc()
	}
}

func (c *Collector) RecordOvertimeShot() {
	c.overtimeShots.Inc()
}

// SetProxyState records the Pi Proxy State as a one-hot gauge across
// {none, ap-client, wlan-client} so a single query shows the current
// state without needing an enum-to-number mapping downstream.
func (c *Collector) SetProxyState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == c.lastProxyTag {
		return
	}
	c.proxyState.WithLabelValues(c.lastProxyTag).Set(0)
	c.proxyState.WithLabelValues(state).Set(1)
	c.lastProxyTag = state
}

func (c *Collector) SetConnectedClients(n int) {
	c.connectedClients.Set(float64(n))
}

func (c *Collector) SetSessionActive(active bool) {
	if active {
		c.sessionActive.Set(1)
		return
	}
	c.sessionActive.Set(0)
}
