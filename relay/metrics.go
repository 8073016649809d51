// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Conversation outcomes, the label of agentos_bridge_conversations_total.
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Metrics are the bridge's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	RelayConnected        prometheus.Gauge
	LocalRuntimeReachable prometheus.Gauge
	Reconnects            prometheus.Counter
	Conversations         *prometheus.CounterVec
	Chunks                prometheus.Counter
	SkillEvents           prometheus.Counter
	ChatDuration          prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer
// when it is non-nil. Registration conflicts panic, as with
// prometheus.MustRegister.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RelayConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "relay_connected",
			Help:      "1 while the control socket to the relay is registered.",
		}),
		LocalRuntimeReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "local_runtime_reachable",
			Help:      "1 while the last probe of the local agent runtime succeeded.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts made by the supervisor.",
		}),
		Conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "conversations_total",
			Help:      "Chat requests handled, by outcome.",
		}, []string{"outcome"}),
		Chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "chat_chunks_total",
			Help:      "Chat chunks forwarded to the relay.",
		}),
		SkillEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "skill_events_total",
			Help:      "Tool call events forwarded to the relay.",
		}),
		ChatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentos",
			Subsystem: "bridge",
			Name:      "chat_duration_seconds",
			Help:      "Time from chat request to its terminal message.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			metrics.RelayConnected,
			metrics.LocalRuntimeReachable,
			metrics.Reconnects,
			metrics.Conversations,
			metrics.Chunks,
			metrics.SkillEvents,
			metrics.ChatDuration,
		)
	}
	return metrics
}

func (m *Metrics) setRelayConnected(connected bool) {
	if m != nil {
		m.RelayConnected.Set(boolValue(connected))
	}
}

func (m *Metrics) setReachable(reachable bool) {
	if m != nil {
		m.LocalRuntimeReachable.Set(boolValue(reachable))
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) conversation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Conversations.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		m.ChatDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) chunk() {
	if m != nil {
		m.Chunks.Inc()
	}
}

func (m *Metrics) skillEvent() {
	if m != nil {
		m.SkillEvents.Inc()
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
