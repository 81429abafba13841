package observability

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of a connection pool.
type PoolStats struct {
	Acquired     int32
	Idle         int32
	Total        int32
	Max          int32
	EmptyAcquire int64
}

// PGXPoolStats reads stats from a pgx pool.
func PGXPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			Acquired:     s.AcquiredConns(),
			Idle:         s.IdleConns(),
			Total:        s.TotalConns(),
			Max:          s.MaxConns(),
			EmptyAcquire: s.EmptyAcquireCount(),
		}
	}
}

type poolCollector struct {
	stats    func() PoolStats
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
}

// RegisterPool exposes connection pool gauges read from stats on each scrape.
func (m *Metrics) RegisterPool(stats func() PoolStats) error {
	if m == nil || stats == nil {
		return nil
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("odyssey_pg_pool_"+name, help, nil, nil)
	}
	return m.Registerer().Register(&poolCollector{
		stats:    stats,
		acquired: desc("acquired_conns", "Connections currently checked out."),
		idle:     desc("idle_conns", "Idle connections held by the pool."),
		total:    desc("total_conns", "Connections currently open."),
		max:      desc("max_conns", "Configured pool ceiling."),
		waits:    desc("empty_acquire_total", "Acquires that waited for a free connection."),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.waits
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquire))
}
