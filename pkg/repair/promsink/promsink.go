// Package promsink adapts metrics.Sink onto Prometheus gauges, giving the
// orchestrator a concrete metrics backend to push into.
package promsink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/masokol/ecchronos/pkg/repair/state"
)

// Sink reports repair gauges to Prometheus, labelled by keyspace and table.
type Sink struct {
	lastRepairedAt      *prometheus.GaugeVec
	repairedRatio       *prometheus.GaugeVec
	remainingRepairTime *prometheus.GaugeVec
}

// New creates a Sink and registers its gauges with reg.
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		lastRepairedAt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ecchronos",
			Subsystem: "repair",
			Name:      "last_repaired_at",
			Help:      "Unix millis timestamp the table was last fully repaired.",
		}, []string{"keyspace", "table"}),
		repairedRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ecchronos",
			Subsystem: "repair",
			Name:      "repaired_ratio",
			Help:      "Fraction of vnodes repaired within the configured interval.",
		}, []string{"keyspace", "table"}),
		remainingRepairTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ecchronos",
			Subsystem: "repair",
			Name:      "remaining_repair_time_ms",
			Help:      "Milliseconds remaining until the table is next due for repair; negative when overdue.",
		}, []string{"keyspace", "table"}),
	}

	reg.MustRegister(s.lastRepairedAt, s.repairedRatio, s.remainingRepairTime)
	return s
}

// SetLastRepairedAt implements metrics.Sink.
func (s *Sink) SetLastRepairedAt(table state.TableRef, unixMillis int64) {
	s.lastRepairedAt.With(prometheus.Labels{"keyspace": table.Keyspace, "table": table.Table}).Set(float64(unixMillis))
}

// SetRepairedRatio implements metrics.Sink.
func (s *Sink) SetRepairedRatio(table state.TableRef, ratio float64) {
	s.repairedRatio.With(prometheus.Labels{"keyspace": table.Keyspace, "table": table.Table}).Set(ratio)
}

// SetRemainingRepairTime implements metrics.Sink.
func (s *Sink) SetRemainingRepairTime(table state.TableRef, ms int64) {
	s.remainingRepairTime.With(prometheus.Labels{"keyspace": table.Keyspace, "table": table.Table}).Set(float64(ms))
}
