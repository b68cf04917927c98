// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics wraps the Prometheus counters and gauges the session
// and transport layers report through, the direct analogue of
// trillian's own Prometheus-instrumented storage and RPC layers. It
// replaces monotone's process-wide ticker singletons (spec.md §9) with
// ordinary injectable counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the netsync core reports. A single
// instance is constructed at process startup and registered with a
// prometheus.Registerer; cmd/netsyncd mounts the registry at /metrics.
type Metrics struct {
	FramesRead    prometheus.Counter
	FramesWritten prometheus.Counter
	BytesRead     prometheus.Counter
	BytesWritten  prometheus.Counter
	MACFailures   prometheus.Counter

	QueriesInFlight *prometheus.GaugeVec
	ItemsSent       *prometheus.CounterVec
	ItemsReceived   *prometheus.CounterVec

	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	AccessDenied   prometheus.Counter
}

// New constructs a Metrics and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "frames_read_total", Help: "Frames read from peers.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "frames_written_total", Help: "Frames written to peers.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "bytes_read_total", Help: "Bytes read from peers.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "bytes_written_total", Help: "Bytes written to peers.",
		}),
		MACFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "mac_failures_total", Help: "Frames rejected for MAC mismatch.",
		}),
		QueriesInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netsync", Name: "refine_queries_in_flight", Help: "Outstanding refinement queries per object type.",
		}, []string{"object_type"}),
		ItemsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsync", Name: "items_sent_total", Help: "Objects sent to peers, by type.",
		}, []string{"object_type"}),
		ItemsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsync", Name: "items_received_total", Help: "Objects received from peers, by type.",
		}, []string{"object_type"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsync", Name: "sessions_active", Help: "Currently open sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "sessions_total", Help: "Sessions opened since startup.",
		}),
		AccessDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync", Name: "access_denied_total", Help: "Sessions rejected by policy hooks.",
		}),
	}

	reg.MustRegister(
		m.FramesRead, m.FramesWritten, m.BytesRead, m.BytesWritten, m.MACFailures,
		m.QueriesInFlight, m.ItemsSent, m.ItemsReceived,
		m.SessionsActive, m.SessionsTotal, m.AccessDenied,
	)
	return m
}
