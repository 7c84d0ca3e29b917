package pgts

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dleclere/pg-ts/hooks"
)

// poolMetrics counts checkouts and releases. A nil *poolMetrics records
// nothing.
type poolMetrics struct {
	checkouts     prometheus.Counter
	checkoutFails prometheus.Counter
	releases      *prometheus.CounterVec
	poolErrors    prometheus.Counter
	transactions  *prometheus.CounterVec
}

func newPoolMetrics(registry prometheus.Registerer) (*poolMetrics, error) {
	m := &poolMetrics{
		checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgts_pool_checkouts_total",
			Help: "Total number of connections checked out",
		}),
		checkoutFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgts_pool_checkout_errors_total",
			Help: "Total number of failed connection checkouts",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgts_pool_releases_total",
			Help: "Total number of connection releases by outcome",
		}, []string{"outcome"}),
		poolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgts_pool_unhandled_errors_total",
			Help: "Total number of faults raised by idle sessions",
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgts_transactions_total",
			Help: "Total number of transactions by outcome",
		}, []string{"outcome"}),
	}

	var err error
	if m.checkouts, err = hooks.Register(registry, m.checkouts); err != nil {
		return nil, err
	}
	if m.checkoutFails, err = hooks.Register(registry, m.checkoutFails); err != nil {
		return nil, err
	}
	if m.releases, err = hooks.Register(registry, m.releases); err != nil {
		return nil, err
	}
	if m.poolErrors, err = hooks.Register(registry, m.poolErrors); err != nil {
		return nil, err
	}
	if m.transactions, err = hooks.Register(registry, m.transactions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) checkout(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.checkoutFails.Inc()
		return
	}
	m.checkouts.Inc()
}

func (m *poolMetrics) release(poisoned bool) {
	if m == nil {
		return
	}
	outcome := "clean"
	if poisoned {
		outcome = "poisoned"
	}
	m.releases.WithLabelValues(outcome).Inc()
}

func (m *poolMetrics) poolError() {
	if m == nil {
		return
	}
	m.poolErrors.Inc()
}

func (m *poolMetrics) transaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}
