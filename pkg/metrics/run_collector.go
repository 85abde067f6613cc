package metrics

import (
	"context"
	"fmt"

	"github.com/kubev2v/ids-validator/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type runStatsCollector struct {
	store            store.Store
	totalRuns        *prometheus.Desc
	totalRunsByState *prometheus.Desc
	totalElements    *prometheus.Desc
}

// NewRunStatsCollector exposes the persisted run history as gauges. The
// store is queried on every scrape.
func NewRunStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_store_%s", idsValidator, name)
	}

	return &runStatsCollector{
		store: s,
		totalRuns: prometheus.NewDesc(
			fqName("runs"),
			"Total number of stored validation runs.",
			nil,
			prometheus.Labels{},
		),
		totalRunsByState: prometheus.NewDesc(
			fqName("runs_by_status"),
			"Stored validation runs by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		totalElements: prometheus.NewDesc(
			fqName("validated_elements"),
			"Elements validated by completed runs.",
			nil,
			prometheus.Labels{},
		),
	}
}

func (c *runStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalRuns
	ch <- c.totalRunsByState
	ch <- c.totalElements
}

// Collect implements Collector.
func (c *runStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.store.Statistics(context.Background())
	if err != nil {
		zap.S().Named("run_collector").Errorf("failed to collect run statistics: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.totalRuns, prometheus.GaugeValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(c.totalElements, prometheus.GaugeValue, float64(stats.Elements))

	for status, total := range stats.TotalByStatus {
		ch <- prometheus.MustNewConstMetric(c.totalRunsByState, prometheus.GaugeValue, float64(total), status)
	}
}
