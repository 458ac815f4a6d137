package metricsserver

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/stepfire/internal/metrics"
)

const namespace = "stepfire"

var quantiles = []struct {
	label string
	value func(metrics.Stats) float64
}{
	{"0.5", func(s metrics.Stats) float64 { return s.Median.Seconds() }},
	{"0.75", func(s metrics.Stats) float64 { return s.P75.Seconds() }},
	{"0.95", func(s metrics.Stats) float64 { return s.P95.Seconds() }},
	{"0.99", func(s metrics.Stats) float64 { return s.P99.Seconds() }},
}

// statsCollector exposes the live ScenarioStats of a run as Prometheus
// metrics. Values are read from the source on every scrape.
type statsCollector struct {
	source Source

	runInfo    *prometheus.Desc
	iterations *prometheus.Desc
	rate       *prometheus.Desc
	latency    *prometheus.Desc
	warmup     *prometheus.Desc
	steps      *prometheus.Desc
	errors     *prometheus.Desc
}

func newStatsCollector(source Source) *statsCollector {
	return &statsCollector{
		source: source,
		runInfo: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "run_info"),
			"Run metadata; always 1.",
			[]string{"scenario", "run_id", "status"}, nil,
		),
		iterations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iterations_total"),
			"Measured iterations by outcome.",
			[]string{"scenario", "status"}, nil,
		),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iterations_per_second"),
			"Measured iterations per second by outcome.",
			[]string{"scenario", "status"}, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iteration_latency_seconds"),
			"Iteration latency quantiles by outcome.",
			[]string{"scenario", "status", "quantile"}, nil,
		),
		warmup: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "warmup_iterations_total"),
			"Warmup iterations by outcome.",
			[]string{"scenario", "status"}, nil,
		),
		steps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "step_executions_total"),
			"Step executions by step path and outcome.",
			[]string{"scenario", "step", "status"}, nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "errors_total"),
			"Failures by step path and error kind. The scenario level has an empty step.",
			[]string{"scenario", "step", "kind"}, nil,
		),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runInfo
	ch <- c.iterations
	ch <- c.rate
	ch <- c.latency
	ch <- c.warmup
	ch <- c.steps
	ch <- c.errors
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.CurrentResult(false)
	name := stats.ScenarioName

	ch <- prometheus.MustNewConstMetric(c.runInfo, prometheus.GaugeValue, 1, name, stats.RunID, string(stats.Status))

	for _, class := range []struct {
		status string
		stats  metrics.Stats
	}{{"ok", stats.Ok}, {"failed", stats.Failed}} {
		ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(class.stats.RequestCount), name, class.status)
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, class.stats.RequestsPerSec, name, class.status)
		if class.stats.RequestCount == 0 {
			continue
		}
		for _, q := range quantiles {
			ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, q.value(class.stats), name, class.status, q.label)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.warmup, prometheus.CounterValue, float64(stats.Warmup.Ok), name, "ok")
	ch <- prometheus.MustNewConstMetric(c.warmup, prometheus.CounterValue, float64(stats.Warmup.Failed), name, "failed")

	c.collectSteps(ch, name, "", stats.Steps)

	for _, row := range metrics.FlattenErrorBuckets(stats) {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(row.Count), name, row.Step, row.Kind)
	}
}

func (c *statsCollector) collectSteps(ch chan<- prometheus.Metric, scenario, prefix string, steps []metrics.StepStats) {
	for _, st := range steps {
		path := strings.TrimPrefix(prefix+"/"+st.Name, "/")
		ch <- prometheus.MustNewConstMetric(c.steps, prometheus.CounterValue, float64(st.Ok.RequestCount), scenario, path, "ok")
		ch <- prometheus.MustNewConstMetric(c.steps, prometheus.CounterValue, float64(st.Failed.RequestCount), scenario, path, "failed")
		ch <- prometheus.MustNewConstMetric(c.steps, prometheus.CounterValue, float64(st.Skipped), scenario, path, "skipped")
		c.collectSteps(ch, scenario, path, st.Steps)
	}
}
