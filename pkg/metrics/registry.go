// Package metrics translates security events into Prometheus series,
// wrapping a prometheus.Registry with application-specific counters
// and gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"xmlsecflow/pkg/secevent"
)

// Registry wraps a Prometheus registry with the counters and the
// gauge this engine's security event bus drives.
type Registry struct {
	registry *prometheus.Registry

	algorithmUsedTotal    *prometheus.CounterVec
	algorithmKeyLengthSet *prometheus.GaugeVec

	verificationTotal *prometheus.CounterVec
	referencesTotal   *prometheus.CounterVec
}

// NewRegistry creates a metrics registry with all xmlsecflow series
// registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		algorithmUsedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xmlsecflow_algorithm_used_total",
				Help: "Total number of algorithm-used security events, by algorithm URI and usage",
			},
			[]string{"algorithm_uri", "usage"},
		),
		algorithmKeyLengthSet: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xmlsecflow_algorithm_key_length_bits",
				Help: "Key length in bits of the most recently observed key for an algorithm URi",
			},
			[]string{"algorithm_uri"},
		),
		verificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xmlsecflow_verification_outcomes_total",
				Help: "Total number of signature verification outcomes, by result",
			},
			[]string{"result"},
		),
		referencesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xmlsecflow_reference_verifications_total",
				Help: "Total number of per-reference verification outcomes, by result",
			},
			[]string{"result"},
		),
	}

	r.registry.MustRegister(
		r.algorithmUsedTotal,
		r.algorithmKeyLengthSet,
		r.verificationTotal,
		r.referencesTotal,
	)
	return r
}

// GetRegistry returns the underlying Prometheus registry, for wiring
// into promhttp.HandlerFor by the CLI's serve command.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Listener adapts Registry to secevent.Listener, so it can be
// registered directly on a document's event bus.
func (r *Registry) Listener() secevent.Listener {
	return secevent.ListenerFunc(r.HandleSecurityEvent)
}

// HandleSecurityEvent implements secevent.Listener.
func (r *Registry) HandleSecurityEvent(ev secevent.Event) {
	switch ev.Kind {
	case secevent.AlgorithmUsed:
		r.algorithmUsedTotal.WithLabelValues(ev.AlgorithmURI, ev.Usage).Inc()
		if ev.KeyLengthBits > 0 {
			r.algorithmKeyLengthSet.WithLabelValues(ev.AlgorithmURI).Set(float64(ev.KeyLengthBits))
		}
	case secevent.VerificationOutcome:
		result := "failure"
		if ev.Verified {
			result = "success"
		}
		r.verificationTotal.WithLabelValues(result).Inc()
		for _, st := range ev.ReferenceStatuses {
			refResult := "failure"
			if st.Verified && st.Err == nil {
				refResult = "success"
			}
			r.referencesTotal.WithLabelValues(refResult).Inc()
		}
	}
}
