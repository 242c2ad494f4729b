package metrics

import (
	"github.com/actionforge/flowrun/core"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "flowrun"

// Collector records run and node metrics. It implements
// core.RunObserver and owns its registry, so several collectors never
// collide on registration.
type Collector struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	NodesTotal     *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	ActiveRuns     prometheus.Gauge
	ValidationErrs *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs",
		}, []string{"scope", "status"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),

		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		}, []string{"kind", "status"}),

		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of node executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs in progress",
		}),

		ValidationErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Total number of structural validation errors",
		}, []string{"code"}),
	}

	reg.MustRegister(c.RunsTotal, c.RunDuration, c.NodesTotal, c.NodeDuration, c.ActiveRuns, c.ValidationErrs)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveValidation counts the errors of a validation result by code.
func (c *Collector) ObserveValidation(result core.ValidationResult) {
	for _, e := range result.Errors {
		c.ValidationErrs.WithLabelValues(string(e.Code)).Inc()
	}
}

// WriteTextfile writes all metrics in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	err := prometheus.WriteToTextfile(path, c.registry)
	if err != nil {
		return core.CreateErr(err, "unable to write metrics to '%s'", path)
	}
	return nil
}

func (c *Collector) RunStarted(run *core.RunState) {
	c.ActiveRuns.Inc()
}

func (c *Collector) NodeStarted(run *core.RunState, req core.ExecutionRequest) {}

func (c *Collector) NodeFinished(run *core.RunState, result core.NodeResult) {
	kind := string(result.Kind)
	c.NodesTotal.WithLabelValues(kind, string(result.Status)).Inc()
	c.NodeDuration.WithLabelValues(kind).Observe(result.Duration.Seconds())
}

func (c *Collector) RunFinished(run *core.RunState) {
	c.ActiveRuns.Dec()
	c.RunsTotal.WithLabelValues(string(run.Scope), string(run.Status)).Inc()
	c.RunDuration.WithLabelValues(string(run.Scope)).Observe(run.Duration.Seconds())
}
