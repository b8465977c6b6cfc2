package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStatter is the part of *pgxpool.Pool the collector reads.
type poolStatter interface {
	Stat() *pgxpool.Stat
}

// PoolCollector exports pgxpool statistics.
type PoolCollector struct {
	pool    poolStatter
	service string

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	max          *prometheus.Desc
	acquireCount *prometheus.Desc
	acquireWait  *prometheus.Desc
	emptyAcquire *prometheus.Desc
}

func NewPoolCollector(pool poolStatter, service string) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, []string{"service"}, nil)
	}
	return &PoolCollector{
		pool:         pool,
		service:      service,
		acquired:     desc("db_pool_acquired_connections", "Connections currently checked out."),
		idle:         desc("db_pool_idle_connections", "Idle connections."),
		total:        desc("db_pool_total_connections", "Connections owned by the pool."),
		max:          desc("db_pool_max_connections", "Configured connection ceiling."),
		acquireCount: desc("db_pool_acquire_count_total", "Successful acquires."),
		acquireWait:  desc("db_pool_acquire_duration_seconds_total", "Time spent acquiring connections."),
		emptyAcquire: desc("db_pool_empty_acquire_count_total", "Acquires that waited for a free connection."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.acquired, c.idle, c.total, c.max, c.acquireCount, c.acquireWait, c.emptyAcquire} {
		ch <- d
	}
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, c.service)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, c.service)
	}
	gauge(c.acquired, float64(s.AcquiredConns()))
	gauge(c.idle, float64(s.IdleConns()))
	gauge(c.total, float64(s.TotalConns()))
	gauge(c.max, float64(s.MaxConns()))
	counter(c.acquireCount, float64(s.AcquireCount()))
	counter(c.acquireWait, s.AcquireDuration().Seconds())
	counter(c.emptyAcquire, float64(s.EmptyAcquireCount()))
}

// RegisterPoolMetrics registers a PoolCollector with reg.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, service string) error {
	return reg.Register(NewPoolCollector(pool, service))
}
