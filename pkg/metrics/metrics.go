// Package metrics exposes the engine's Prometheus metrics:
//   - pool_deposits_total / pool_deposited_units_total – deposit flow
//   - pool_withdrawals_total / pool_withdrawn_units_total – payout flow
//   - pool_runs_settled_total – settled runs
//   - pool_fee_revenue_units_total – protocol fee revenue in base units
//   - pool_fee_drains_total – operator fee-vault drains
//   - pool_custody_drift_units{run_id} – ledger vs live custody delta seen
//     by the reconcile job; nonzero is an invariant violation
//
// Served by the API at /metrics in Prometheus text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Deposits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_deposits_total",
		Help: "Deposits accepted",
	})

	DepositedUnits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_deposited_units_total",
		Help: "Deposited amount in USDC base units",
	})

	Withdrawals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_withdrawals_total",
		Help: "Withdrawals paid out",
	})

	WithdrawnUnits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_withdrawn_units_total",
		Help: "Withdrawn amount in USDC base units",
	})

	RunsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_runs_settled_total",
		Help: "Runs settled",
	})

	FeeRevenue = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_fee_revenue_units_total",
		Help: "Protocol fee revenue in USDC base units",
	})

	FeeDrains = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pool_fee_drains_total",
		Help: "Fee vault drains executed",
	})

	CustodyDrift = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_custody_drift_units",
		Help: "Ledger-expected minus live custody balance per run",
	}, []string{"run_id"})
)

func init() {
	prometheus.MustRegister(
		Deposits,
		DepositedUnits,
		Withdrawals,
		WithdrawnUnits,
		RunsSettled,
		FeeRevenue,
		FeeDrains,
		CustodyDrift,
	)
}
