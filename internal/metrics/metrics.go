// Package metrics exposes the counters/gauges SPEC_FULL.md §1 calls for
// (connected-peer counts, bytes in/out, protocol violations) via
// github.com/prometheus/client_golang, grounded on the concern the
// teacher's own p2p/metrics.go covers (inbound/outbound connect and
// traffic meters) — reimplemented on prometheus types per SPEC_FULL.md
// §4.10 rather than the teacher's internal meter registry, since that
// registry has no home of its own in this module's dependency list.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a set of collectors for one running p2p orchestrator.
// A fresh Registry is normally created once per process via New.
type Registry struct {
	reg *prometheus.Registry

	ConnectedInbound  prometheus.Gauge
	ConnectedOutbound prometheus.Gauge
	InboundConnects   prometheus.Counter
	OutboundConnects  prometheus.Counter
	BytesIn           prometheus.Counter
	BytesOut          prometheus.Counter
	ProtocolViolations prometheus.Counter
	SeedingFailures    prometheus.Counter
}

// New constructs a Registry with all collectors registered under the
// "btcp2p" namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ConnectedInbound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btcp2p", Name: "connected_inbound", Help: "Currently stored inbound channels.",
		}),
		ConnectedOutbound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btcp2p", Name: "connected_outbound", Help: "Currently stored outbound channels.",
		}),
		InboundConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "inbound_connects_total", Help: "Accepted inbound connections.",
		}),
		OutboundConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "outbound_connects_total", Help: "Successful outbound dials.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "bytes_in_total", Help: "Bytes read from all channels.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "bytes_out_total", Help: "Bytes written to all channels.",
		}),
		ProtocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "protocol_violations_total", Help: "Channels stopped for protocol_violation.",
		}),
		SeedingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcp2p", Name: "seeding_failures_total", Help: "Seed sessions that contributed no address.",
		}),
	}
	reg.MustRegister(
		m.ConnectedInbound, m.ConnectedOutbound,
		m.InboundConnects, m.OutboundConnects,
		m.BytesIn, m.BytesOut,
		m.ProtocolViolations, m.SeedingFailures,
	)
	return m
}

// Handler returns the HTTP handler serving this registry's collectors in
// the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
