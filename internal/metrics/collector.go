package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to live queue state.
type QueueStats interface {
	QueueSizes() (main, retry, active int)
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats QueueStats

	// Descriptors for scrape-time gauges.
	queueMain       *prometheus.Desc
	queueRetry      *prometheus.Desc
	queueActive     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no queue is running.
func NewCollector(pool *pgxpool.Pool, stats QueueStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queueMain: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "main_depth"),
			"Tasks waiting on the main queue.",
			nil, nil,
		),
		queueRetry: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "retry_depth"),
			"Tasks waiting on the retry queue.",
			nil, nil,
		),
		queueActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "active_tasks"),
			"Tasks currently being processed.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueMain
	ch <- c.queueRetry
	ch <- c.queueActive
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		main, retry, active := c.stats.QueueSizes()
		ch <- prometheus.MustNewConstMetric(c.queueMain, prometheus.GaugeValue, float64(main))
		ch <- prometheus.MustNewConstMetric(c.queueRetry, prometheus.GaugeValue, float64(retry))
		ch <- prometheus.MustNewConstMetric(c.queueActive, prometheus.GaugeValue, float64(active))
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueMain, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.queueRetry, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.queueActive, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
