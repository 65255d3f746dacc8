// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uptimeline"

// Metrics is safe to use through a nil pointer; every observation is then dropped.
type Metrics struct {
	registry         *prometheus.Registry
	cyclesOpened     prometheus.Counter
	cyclesFinalized  *prometheus.CounterVec
	submissions      prometheus.Counter
	payouts          prometheus.Counter
	payoutShortfalls prometheus.Counter
	stakeShortfalls  prometheus.Counter
	activeValidators prometheus.Gauge
	upkeepRuns       *prometheus.CounterVec
	relayDeliveries  *prometheus.CounterVec
}

// New builds a private registry with process collectors and the engine metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := &Metrics{
		registry: reg,
		cyclesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_opened_total", Help: "Check cycles opened.",
		}),
		cyclesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_finalized_total", Help: "Check cycles finalized by outcome.",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total", Help: "Accepted validator submissions.",
		}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_payouts_total", Help: "Rewards paid to validators.",
		}),
		payoutShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_shortfalls_total", Help: "Rewards skipped because the pool was short.",
		}),
		stakeShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stake_shortfalls_total", Help: "Check debits skipped because the domain balance was short.",
		}),
		activeValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_validators", Help: "Validators in the active rotation.",
		}),
		upkeepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upkeep_runs_total", Help: "Upkeep executions by result.",
		}, []string{"result"}),
		relayDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_deliveries_total", Help: "Event deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(m.cyclesOpened, m.cyclesFinalized, m.submissions, m.payouts, m.payoutShortfalls,
		m.stakeShortfalls, m.activeValidators, m.upkeepRuns, m.relayDeliveries)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CycleOpened() {
	if m != nil {
		m.cyclesOpened.Inc()
	}
}

func (m *Metrics) CycleFinalized(outcome string) {
	if m != nil {
		m.cyclesFinalized.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Submission() {
	if m != nil {
		m.submissions.Inc()
	}
}

func (m *Metrics) Payout() {
	if m != nil {
		m.payouts.Inc()
	}
}

func (m *Metrics) PayoutShortfall() {
	if m != nil {
		m.payoutShortfalls.Inc()
	}
}

func (m *Metrics) StakeShortfall() {
	if m != nil {
		m.stakeShortfalls.Inc()
	}
}

func (m *Metrics) SetActiveValidators(n int) {
	if m != nil {
		m.activeValidators.Set(float64(n))
	}
}

func (m *Metrics) UpkeepRun(result string) {
	if m != nil {
		m.upkeepRuns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RelayDelivery(sink, result string) {
	if m != nil {
		m.relayDeliveries.WithLabelValues(sink, result).Inc()
	}
}
