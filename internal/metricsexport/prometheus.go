// Package metricsexport adapts the core's lock-free metrics.Registry into
// a prometheus.Collector, so a process embedding dicomnet can register it
// with any prometheus registry without the core ever importing prometheus
// itself.
package metricsexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dicomnet/dicomnet/metrics"
)

// Collector implements prometheus.Collector over a metrics.Registry.
// Descriptors are static; values are gathered fresh from the registry's
// atomic counters on every Collect call, so scrapes never race a
// background sweep.
type Collector struct {
	reg *metrics.Registry

	stageJobsProcessed *prometheus.Desc
	stageJobsQueued    *prometheus.Desc
	stageJobsFailed    *prometheus.Desc
	stageProcessingNs  *prometheus.Desc
	stageMaxLatencyNs  *prometheus.Desc
	stageActiveWorkers *prometheus.Desc
	stageIdleWorkers   *prometheus.Desc

	categoryTotal   *prometheus.Desc
	categorySuccess *prometheus.Desc
	categoryFailed  *prometheus.Desc
	categoryTotalNs *prometheus.Desc
	categoryMinNs   *prometheus.Desc
	categoryMaxNs   *prometheus.Desc
}

// NewCollector wraps reg for export. Register the result with a
// prometheus.Registerer; it does not register itself.
func NewCollector(reg *metrics.Registry) *Collector {
	return &Collector{
		reg: reg,
		stageJobsProcessed: prometheus.NewDesc(
			"dicomnet_pipeline_stage_jobs_processed_total",
			"Jobs completed by a pipeline stage.", []string{"stage"}, nil),
		stageJobsQueued: prometheus.NewDesc(
			"dicomnet_pipeline_stage_jobs_queued_total",
			"Jobs accepted into a pipeline stage's queue.", []string{"stage"}, nil),
		stageJobsFailed: prometheus.NewDesc(
			"dicomnet_pipeline_stage_jobs_failed_total",
			"Jobs discarded or rejected by a pipeline stage.", []string{"stage"}, nil),
		stageProcessingNs: prometheus.NewDesc(
			"dicomnet_pipeline_stage_processing_nanoseconds_total",
			"Cumulative processing time for a pipeline stage.", []string{"stage"}, nil),
		stageMaxLatencyNs: prometheus.NewDesc(
			"dicomnet_pipeline_stage_max_latency_nanoseconds",
			"Maximum single-job processing time observed for a pipeline stage.", []string{"stage"}, nil),
		stageActiveWorkers: prometheus.NewDesc(
			"dicomnet_pipeline_stage_active_workers",
			"Workers currently executing a job in a pipeline stage.", []string{"stage"}, nil),
		stageIdleWorkers: prometheus.NewDesc(
			"dicomnet_pipeline_stage_idle_workers",
			"Workers currently idle in a pipeline stage.", []string{"stage"}, nil),
		categoryTotal: prometheus.NewDesc(
			"dicomnet_operations_total",
			"DIMSE operations handled, by category.", []string{"category"}, nil),
		categorySuccess: prometheus.NewDesc(
			"dicomnet_operations_success_total",
			"DIMSE operations that completed successfully, by category.", []string{"category"}, nil),
		categoryFailed: prometheus.NewDesc(
			"dicomnet_operations_failed_total",
			"DIMSE operations that failed, by category.", []string{"category"}, nil),
		categoryTotalNs: prometheus.NewDesc(
			"dicomnet_operation_latency_nanoseconds_total",
			"Cumulative latency for DIMSE operations, by category.", []string{"category"}, nil),
		categoryMinNs: prometheus.NewDesc(
			"dicomnet_operation_latency_min_nanoseconds",
			"Minimum observed latency for DIMSE operations, by category.", []string{"category"}, nil),
		categoryMaxNs: prometheus.NewDesc(
			"dicomnet_operation_latency_max_nanoseconds",
			"Maximum observed latency for DIMSE operations, by category.", []string{"category"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stageJobsProcessed
	ch <- c.stageJobsQueued
	ch <- c.stageJobsFailed
	ch <- c.stageProcessingNs
	ch <- c.stageMaxLatencyNs
	ch <- c.stageActiveWorkers
	ch <- c.stageIdleWorkers
	ch <- c.categoryTotal
	ch <- c.categorySuccess
	ch <- c.categoryFailed
	ch <- c.categoryTotalNs
	ch <- c.categoryMinNs
	ch <- c.categoryMaxNs
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for stage, snap := range c.reg.StageSnapshots() {
		ch <- prometheus.MustNewConstMetric(c.stageJobsProcessed, prometheus.CounterValue, float64(snap.JobsProcessed), stage)
		ch <- prometheus.MustNewConstMetric(c.stageJobsQueued, prometheus.CounterValue, float64(snap.JobsQueued), stage)
		ch <- prometheus.MustNewConstMetric(c.stageJobsFailed, prometheus.CounterValue, float64(snap.JobsFailed), stage)
		ch <- prometheus.MustNewConstMetric(c.stageProcessingNs, prometheus.CounterValue, float64(snap.TotalProcessingNs), stage)
		ch <- prometheus.MustNewConstMetric(c.stageMaxLatencyNs, prometheus.GaugeValue, float64(snap.MaxProcessingNs), stage)
		ch <- prometheus.MustNewConstMetric(c.stageActiveWorkers, prometheus.GaugeValue, float64(snap.ActiveWorkers), stage)
		ch <- prometheus.MustNewConstMetric(c.stageIdleWorkers, prometheus.GaugeValue, float64(snap.IdleWorkers), stage)
	}
	for category, snap := range c.reg.CategorySnapshots() {
		ch <- prometheus.MustNewConstMetric(c.categoryTotal, prometheus.CounterValue, float64(snap.Total), category)
		ch <- prometheus.MustNewConstMetric(c.categorySuccess, prometheus.CounterValue, float64(snap.Success), category)
		ch <- prometheus.MustNewConstMetric(c.categoryFailed, prometheus.CounterValue, float64(snap.Failed), category)
		ch <- prometheus.MustNewConstMetric(c.categoryTotalNs, prometheus.CounterValue, float64(snap.TotalNs), category)
		ch <- prometheus.MustNewConstMetric(c.categoryMinNs, prometheus.GaugeValue, float64(snap.MinNs), category)
		ch <- prometheus.MustNewConstMetric(c.categoryMaxNs, prometheus.GaugeValue, float64(snap.MaxNs), category)
	}
}
