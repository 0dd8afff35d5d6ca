// Tracks run-wide scheduling counters such as:
// operations scheduled per kind, rejections per gate, obligation lifecycle
// transitions and fail-safe drops. Counters live on a private prometheus
// registry so several runs in one process do not share state.

package sim

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates statistics about a run for final reporting and export.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ops         *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	obligations *prometheus.CounterVec
	failSafe    prometheus.Counter
	pending     prometheus.Gauge
	openLatches prometheus.Gauge
	now         prometheus.Gauge
}

// NewMetrics creates a Metrics with all collectors registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nandsim_operations_total",
			Help: "Operations scheduled, by kind and source",
		}, []string{"kind", "source"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nandsim_rejections_total",
			Help: "Proposals rejected, by gate",
		}, []string{"stage"}),
		obligations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nandsim_obligations_total",
			Help: "Obligation lifecycle transitions",
		}, []string{"event"}),
		failSafe: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nandsim_failsafe_drops_total",
			Help: "Accepted proposals dropped by the pre-commit re-validation",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nandsim_obligations_pending",
			Help: "Obligations waiting in the deadline heap",
		}),
		openLatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nandsim_latches_open",
			Help: "Read latches waiting for their DOUT",
		}),
		now: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nandsim_sim_time_ticks",
			Help: "Simulated clock",
		}),
	}
	m.Registry.MustRegister(m.ops, m.rejections, m.obligations, m.failSafe, m.pending, m.openLatches, m.now)
	return m
}

func (m *Metrics) operationScheduled(op *Operation) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op.Kind.String(), op.Source.String()).Inc()
}

func (m *Metrics) rejected(stage string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(stage).Inc()
}

func (m *Metrics) obligationEvent(event string) {
	if m == nil {
		return
	}
	m.obligations.WithLabelValues(event).Inc()
}

func (m *Metrics) failSafeDrop() {
	if m == nil {
		return
	}
	m.failSafe.Inc()
}

func (m *Metrics) observe(now int64, pending, openLatches int) {
	if m == nil {
		return
	}
	m.now.Set(float64(now))
	m.pending.Set(float64(pending))
	m.openLatches.Set(float64(openLatches))
}

// WriteTextfile writes every collector in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// Print displays the run summary.
func (m *Metrics) Print(stats ObligationStats, records int, now int64, clock Clock) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Simulated time       : %.2f (%d ticks)\n", clock.Units(now), now)
	fmt.Printf("Operations scheduled : %d\n", records)
	fmt.Printf("Obligations created  : %d\n", stats.Created)
	fmt.Printf("  fulfilled          : %d (%d in time)\n", stats.Fulfilled, stats.FulfilledInTime)
	fmt.Printf("  requeued           : %d\n", stats.Requeued)
	fmt.Printf("  expired            : %d\n", stats.Expired)
}
