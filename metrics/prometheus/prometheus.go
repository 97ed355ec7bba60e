// Package prometheus exports treemem metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	collector := tmprom.NewCollector(reg)
//	mem, _ := treemem.New(cfg, treemem.WithMetricsCollector(collector))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prometheus

import (
	"strconv"
	"time"

	"github.com/hupe1980/treemem"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "treemem"

var _ treemem.MetricsCollector = (*Collector)(nil)

// Collector implements treemem.MetricsCollector with Prometheus metrics.
type Collector struct {
	opLatency     *prometheus.HistogramVec
	setupItems    prometheus.Histogram
	treeDepth     prometheus.Gauge
	retrieves     *prometheus.CounterVec
	estimatorLoss *prometheus.GaugeVec
	lossUpdates   prometheus.Counter
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of memory operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		setupItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "setup_items",
			Help:      "Items stored per Setup",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		treeDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_depth",
			Help:      "Depth of the most recently built tree",
		}),
		retrieves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieves_total",
			Help:      "Retrieve calls by mode and status",
		}, []string{"mode", "status"}),
		estimatorLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimator_loss",
			Help:      "Latest branch estimator loss per tree level",
		}, []string{"level"}),
		lossUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimator_updates_total",
			Help:      "Branch estimator training steps",
		}),
	}

	reg.MustRegister(c.opLatency, c.setupItems, c.treeDepth, c.retrieves, c.estimatorLoss, c.lossUpdates)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSetup implements treemem.MetricsCollector.
func (c *Collector) RecordSetup(items, depth int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("setup", status(err)).Observe(d.Seconds())
	if err != nil {
		return
	}
	c.setupItems.Observe(float64(items))
	c.treeDepth.Set(float64(depth))
}

// RecordRetrieve implements treemem.MetricsCollector.
func (c *Collector) RecordRetrieve(mode treemem.Mode, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues("retrieve", s).Observe(d.Seconds())
	c.retrieves.WithLabelValues(mode.String(), s).Inc()
}

// RecordEstimatorLoss implements treemem.MetricsCollector.
func (c *Collector) RecordEstimatorLoss(level int, loss float64) {
	c.lossUpdates.Inc()
	c.estimatorLoss.WithLabelValues(strconv.Itoa(level)).Set(loss)
}
