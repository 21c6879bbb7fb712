/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result labels.
const (
	LockAcquired  = "acquired"
	LockContended = "contended"
	LockReleased  = "released"
	LockNotHeld   = "not_held"
	LockError     = "error"

	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"

	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeInvalid     = "invalid"
	OutcomeDeferred    = "deferred"
	OutcomeWriteFailed = "write_failed"
)

type Metrics struct {
	LockAcquireTotal *prometheus.CounterVec // resource, result=acquired|contended|error
	LockReleaseTotal *prometheus.CounterVec // resource, result=released|not_held|error

	PayoutsProcessedTotal    *prometheus.CounterVec // outcome=completed|failed|invalid|deferred|write_failed
	LedgerWriteFailuresTotal prometheus.Counter

	ReconciliationRunsTotal       *prometheus.CounterVec // result=completed|skipped|failed
	ReconciliationMismatchesTotal *prometheus.CounterVec // type
	StuckPayouts                  prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_lock_acquire_total",
				Help: "Coordination lock acquire attempts by resource and result",
			},
			[]string{"resource", "result"},
		),
		LockReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_lock_release_total",
				Help: "Coordination lock release attempts by resource and result",
			},
			[]string{"resource", "result"},
		),
		PayoutsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_payouts_processed_total",
				Help: "Payouts handled by the relay by outcome",
			},
			[]string{"outcome"},
		),
		LedgerWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "disburse_payout_ledger_write_failures_total",
			Help: "Payouts whose gateway call returned but whose local write failed",
		}),
		ReconciliationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_reconciliation_runs_total",
				Help: "Reconciliation sweeps by result",
			},
			[]string{"result"},
		),
		ReconciliationMismatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disburse_reconciliation_mismatches_total",
				Help: "Ledger/gateway mismatches detected by type",
			},
			[]string{"type"},
		),
		StuckPayouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "disburse_stuck_payouts",
			Help: "Pending payouts older than the staleness threshold at the last sweep",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LockAcquireTotal,
			m.LockReleaseTotal,
			m.PayoutsProcessedTotal,
			m.LedgerWriteFailuresTotal,
			m.ReconciliationRunsTotal,
			m.ReconciliationMismatchesTotal,
			m.StuckPayouts,
		)
	}

	return m
}

func (m *Metrics) ObserveLockAcquire(resource, result string) {
	if m == nil {
		return
	}
	m.LockAcquireTotal.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) ObserveLockRelease(resource, result string) {
	if m == nil {
		return
	}
	m.LockReleaseTotal.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) PayoutProcessed(outcome string) {
	if m == nil {
		return
	}
	m.PayoutsProcessedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerWriteFailed() {
	if m == nil {
		return
	}
	m.LedgerWriteFailuresTotal.Inc()
}

func (m *Metrics) ReconciliationRun(result string) {
	if m == nil {
		return
	}
	m.ReconciliationRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) MismatchDetected(mismatchType string) {
	if m == nil {
		return
	}
	m.ReconciliationMismatchesTotal.WithLabelValues(mismatchType).Inc()
}

func (m *Metrics) SetStuckPayouts(n int) {
	if m == nil {
		return
	}
	m.StuckPayouts.Set(float64(n))
}
