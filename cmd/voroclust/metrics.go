package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics implements voroclust.MetricsCollector on a private registry
// so the run's measurements can be written to a text file at exit.
type promMetrics struct {
	registry *prometheus.Registry

	stageSeconds *prometheus.HistogramVec
	runSeconds   prometheus.Histogram
	runs         *prometheus.CounterVec
	spheres      prometheus.Gauge
	clusters     prometheus.Gauge
}

func newPromMetrics() *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voroclust_stage_duration_seconds",
			Help:    "Wall time of each clustering stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voroclust_run_duration_seconds",
			Help:    "Wall time of a full clustering run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voroclust_runs_total",
			Help: "Clustering runs by outcome",
		}, []string{"status"}),
		spheres: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voroclust_spheres",
			Help: "Spheres in the cover of the last successful run",
		}),
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voroclust_clusters",
			Help: "Clusters found by the last successful run",
		}),
	}
	m.registry.MustRegister(m.stageSeconds, m.runSeconds, m.runs, m.spheres, m.clusters)
	return m
}

func (m *promMetrics) RecordStage(stage string, elapsed time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *promMetrics) RecordRun(spheres, clusters int, elapsed time.Duration, err error) {
	m.runSeconds.Observe(elapsed.Seconds())
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.spheres.Set(float64(spheres))
	m.clusters.Set(float64(clusters))
}

// writeFile writes every metric in the text exposition format.
func (m *promMetrics) writeFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
