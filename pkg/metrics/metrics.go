// Package metrics exposes sync, index and mirror activity as Prometheus
// metrics, for scraping by the archive API or pushing at the end of a run.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"igarchive/pkg/mirror"
	"igarchive/pkg/syncer"
)

// Collector records pass outcomes, index sizes and mirror operations.
// It implements syncer.Recorder and mirror.Recorder.
type Collector struct {
	checked      *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	downloaded   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	passes       *prometheus.CounterVec
	indexEntries *prometheus.GaugeVec
	mirrorOps    *prometheus.CounterVec
}

var (
	_ syncer.Recorder = (*Collector)(nil)
	_ mirror.Recorder = (*Collector)(nil)
)

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_sync_items_checked_total",
			Help: "Saved items pulled from the feed",
		}, []string{"account"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_sync_items_skipped_total",
			Help: "Saved items already present in the archive",
		}, []string{"account"}),
		downloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_sync_items_downloaded_total",
			Help: "Saved items newly written to the archive",
		}, []string{"account"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_sync_download_failures_total",
			Help: "Items whose download failed and was skipped",
		}, []string{"account"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "igarchive_sync_pass_duration_seconds",
			Help:    "Wall time of a sync pass",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"account"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_sync_passes_total",
			Help: "Sync passes by termination reason",
		}, []string{"account", "reason"}),
		indexEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "igarchive_index_entries",
			Help: "Entries in the account's posts index after the last rebuild",
		}, []string{"account"}),
		mirrorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igarchive_mirror_operations_total",
			Help: "Mirror pushes and pulls by result",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		c.checked,
		c.skipped,
		c.downloaded,
		c.failures,
		c.passDuration,
		c.passes,
		c.indexEntries,
		c.mirrorOps,
	)
	return c
}

// ObserveOutcome records one finished pass
func (c *Collector) ObserveOutcome(account string, outcome *syncer.Outcome) {
	if outcome == nil {
		return
	}
	c.checked.WithLabelValues(account).Add(float64(outcome.Checked))
	c.skipped.WithLabelValues(account).Add(float64(outcome.Skipped))
	c.downloaded.WithLabelValues(account).Add(float64(len(outcome.NewItems)))
	c.passDuration.WithLabelValues(account).Observe(outcome.Duration.Seconds())
	c.passes.WithLabelValues(account, string(outcome.Reason)).Inc()
}

// ObserveDownloadFailure records one skipped download
func (c *Collector) ObserveDownloadFailure(account string) {
	c.failures.WithLabelValues(account).Inc()
}

// ObserveIndex records the size of a rebuilt index
func (c *Collector) ObserveIndex(account string, entries int) {
	c.indexEntries.WithLabelValues(account).Set(float64(entries))
}

// ObserveMirror records one mirror operation; result is ok, error or skipped
func (c *Collector) ObserveMirror(op, result string) {
	c.mirrorOps.WithLabelValues(op, result).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Push sends everything gathered to a Pushgateway, replacing the metrics
// previously pushed under job and the instance label
func Push(ctx context.Context, url, job, instance string, gatherer prometheus.Gatherer) error {
	p := push.New(url, job).Gatherer(gatherer)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	return p.PushContext(ctx)
}
