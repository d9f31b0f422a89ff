package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes certificate store pool statistics as
// Prometheus gauges.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	stat := func(f func() int32) func() float64 {
		return func() float64 { return float64(f()) }
	}
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certkeeper_pgxpool_acquired_conns",
			Help: "Number of currently acquired connections in the store pool",
		}, stat(func() int32 { return pool.Stat().AcquiredConns() })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certkeeper_pgxpool_max_conns",
			Help: "Maximum number of connections in the store pool",
		}, stat(func() int32 { return pool.Stat().MaxConns() })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certkeeper_pgxpool_total_conns",
			Help: "Total number of connections in the store pool",
		}, stat(func() int32 { return pool.Stat().TotalConns() })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certkeeper_pgxpool_idle_conns",
			Help: "Number of idle connections in the store pool",
		}, stat(func() int32 { return pool.Stat().IdleConns() })),
	)
}
