package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/retrykit/retrykit/internal/platform/pg"
)

// RegisterPoolStats exports postgres pool gauges sampled from fn at
// scrape time. Call it only when the history store runs on postgres.
func RegisterPoolStats(reg prometheus.Registerer, fn func() pg.DBStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "probed_db_pool_max_conns",
			Help: "Configured maximum of the postgres connection pool.",
		}, func() float64 { return float64(fn().MaxConns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "probed_db_pool_total_conns",
			Help: "Connections currently held by the pool, idle and acquired.",
		}, func() float64 { return float64(fn().TotalConns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "probed_db_pool_acquired_conns",
			Help: "Connections currently checked out of the pool.",
		}, func() float64 { return float64(fn().AcquiredConns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "probed_db_pool_idle_conns",
			Help: "Connections sitting idle in the pool.",
		}, func() float64 { return float64(fn().IdleConns) }),
	)
}
