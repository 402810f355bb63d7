package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngagementMetrics exposes counters for the smart-message dispatch flows.
type EngagementMetrics struct {
	dispatchTotal *prometheus.CounterVec
	fallbackTotal prometheus.Counter
	followUpTotal *prometheus.CounterVec
}

func NewEngagementMetrics(reg prometheus.Registerer) *EngagementMetrics {
	m := &EngagementMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "engagement",
			Name:      "dispatch_total",
			Help:      "Total smart-message dispatches by path and status",
		}, []string{"path", "status"}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "engagement",
			Name:      "template_fallback_total",
			Help:      "Template sends that fell back to the generic endpoint",
		}),
		followUpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "engagement",
			Name:      "follow_up_total",
			Help:      "Follow-up action outcomes",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchTotal, m.fallbackTotal, m.followUpTotal)
	return m
}

func (m *EngagementMetrics) ObserveDispatch(path, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(path, status).Inc()
}

func (m *EngagementMetrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.fallbackTotal.Inc()
}

// ObserveFollowUp records one follow-up outcome: executed, retried, or dropped.
func (m *EngagementMetrics) ObserveFollowUp(outcome string) {
	if m == nil {
		return
	}
	m.followUpTotal.WithLabelValues(outcome).Inc()
}
