// Package exporter exposes counters over HTTP: Prometheus exposition on
// /metrics and the command registry on /cli.
package exporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/snapshot"
	"github.com/xtxerr/perfkit/internal/validation"
)

var counterLabels = []string{"section", "name"}

// Collector is a prometheus.Collector over a counter registry. Every
// scrape reads one registry snapshot.
//
// Number counters become gauges, rate counters a per-second gauge plus an
// events counter, and percentile counters summaries whose quantiles are
// the fixed percentiles.
type Collector struct {
	reg *counter.Registry

	number     *prometheus.Desc
	rate       *prometheus.Desc
	rateEvents *prometheus.Desc
	percentile *prometheus.Desc
	info       *prometheus.Desc
	count      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. Metric names start with namespace.
func NewCollector(reg *counter.Registry, namespace string) *Collector {
	name := func(suffix string) string {
		return validation.MetricName(namespace, suffix)
	}
	return &Collector{
		reg: reg,
		number: prometheus.NewDesc(name("counter_value"),
			"Current value of a number counter.", counterLabels, nil),
		rate: prometheus.NewDesc(name("counter_rate_per_second"),
			"Events per second of a rate counter over its window.", counterLabels, nil),
		rateEvents: prometheus.NewDesc(name("counter_events_total"),
			"Events counted by a rate counter since creation.", counterLabels, nil),
		percentile: prometheus.NewDesc(name("counter_samples"),
			"Windowed samples of a percentile counter.", counterLabels, nil),
		info: prometheus.NewDesc(name("counter_info"),
			"Counter metadata.", []string{"section", "name", "type", "description"}, nil),
		count: prometheus.NewDesc(name("counters"),
			"Registered counters.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.number
	ch <- c.rate
	ch <- c.rateEvents
	ch <- c.percentile
	ch <- c.info
	ch <- c.count
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	recs := c.reg.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(len(recs)))

	for i := range recs {
		c.collectRecord(ch, &recs[i])
	}
}

func (c *Collector) collectRecord(ch chan<- prometheus.Metric, rec *snapshot.Record) {
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		rec.Section, rec.Name, rec.Kind, rec.Description)

	switch rec.Kind {
	case counter.KindNumber.String():
		ch <- prometheus.MustNewConstMetric(c.number, prometheus.GaugeValue,
			float64(int64(rec.Integer)), rec.Section, rec.Name)
	case counter.KindRate.String():
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue,
			rec.Value, rec.Section, rec.Name)
		ch <- prometheus.MustNewConstMetric(c.rateEvents, prometheus.CounterValue,
			float64(rec.Total), rec.Section, rec.Name)
	case counter.KindPercentile.String():
		quantiles := make(map[float64]float64, snapshot.NumPercentiles)
		for i, q := range counter.Quantiles() {
			quantiles[q] = rec.Percentiles[i]
		}
		ch <- prometheus.MustNewConstSummary(c.percentile, rec.Total,
			rec.Value*float64(rec.Total), quantiles, rec.Section, rec.Name)
	}
}
