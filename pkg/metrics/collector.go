// Package metrics exposes a Prometheus collector over the pipeline's live
// state, adapting the Describe/Collect split used throughout the rest of
// this codebase's metrics surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is the subset of pkg/pipeline.Engine this collector reads on
// every scrape. No state is cached between scrapes; Collect always
// reflects the orchestrator's current counters.
type Source interface {
	LimiterSize() int
	SuppressionSize() int
	RecidivismSize() int
	LinesProcessed() uint64
	BansIssued() uint64
}

// Collector is a prometheus.Collector over a single pipeline Engine.
type Collector struct {
	source Source

	limiterSize     *prometheus.Desc
	suppressionSize *prometheus.Desc
	recidivismSize  *prometheus.Desc
	linesTotal      *prometheus.Desc
	bansTotal       *prometheus.Desc
}

// New builds a Collector reading from source. Register it with
// prometheus.MustRegister in cmd/floodwatchd.
func New(source Source) *Collector {
	return &Collector{
		source: source,
		limiterSize: prometheus.NewDesc(
			"floodwatch_limiter_keys", "Number of live keys tracked by the rate limiter.", nil, nil,
		),
		suppressionSize: prometheus.NewDesc(
			"floodwatch_suppression_entries", "Number of IPs currently suppressed from re-banning.", nil, nil,
		),
		recidivismSize: prometheus.NewDesc(
			"floodwatch_recidivism_entries", "Number of IPs with a live recidivism count.", nil, nil,
		),
		linesTotal: prometheus.NewDesc(
			"floodwatch_lines_processed_total", "Total input lines processed.", nil, nil,
		),
		bansTotal: prometheus.NewDesc(
			"floodwatch_bans_issued_total", "Total bans submitted to the kernel set.", nil, nil,
		),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.limiterSize
	descs <- c.suppressionSize
	descs <- c.recidivismSize
	descs <- c.linesTotal
	descs <- c.bansTotal
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.limiterSize, prometheus.GaugeValue, float64(c.source.LimiterSize()))
	metrics <- prometheus.MustNewConstMetric(c.suppressionSize, prometheus.GaugeValue, float64(c.source.SuppressionSize()))
	metrics <- prometheus.MustNewConstMetric(c.recidivismSize, prometheus.GaugeValue, float64(c.source.RecidivismSize()))
	metrics <- prometheus.MustNewConstMetric(c.linesTotal, prometheus.CounterValue, float64(c.source.LinesProcessed()))
	metrics <- prometheus.MustNewConstMetric(c.bansTotal, prometheus.CounterValue, float64(c.source.BansIssued()))
}
