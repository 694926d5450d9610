package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics captures deadline sweep health signals.
type SweepMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	groupsSwept *prometheus.CounterVec
	runLoopLag  prometheus.Histogram
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

// Sweep returns the singleton sweep metrics registry.
func Sweep() *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer)
	})
	return sweepMetrics
}

// ResetSweepMetricsForTest resets the singleton so tests can use a fresh registry.
func ResetSweepMetricsForTest(registerer prometheus.Registerer) *SweepMetrics {
	sweepMetricsOnce = sync.Once{}
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(registerer)
	})
	return sweepMetrics
}

func newSweepMetrics(registerer prometheus.Registerer) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &SweepMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbuy_sweep_job_runs_total",
			Help: "Deadline sweep job executions.",
		}, []string{"sweep"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbuy_sweep_job_errors_total",
			Help: "Deadline sweep job executions that returned an error.",
		}, []string{"sweep"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbuy_sweep_job_timeouts_total",
			Help: "Deadline sweep job executions that hit their timeout.",
		}, []string{"sweep"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulkbuy_sweep_job_duration_seconds",
			Help:    "Deadline sweep job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		groupsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkbuy_sweep_groups_total",
			Help: "Groups evaluated by the sweep, by job and outcome.",
		}, []string{"sweep", "outcome"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulkbuy_sweep_run_loop_lag_seconds",
			Help:    "Delay between the scheduled and actual start of a sweep run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.jobRuns = registerOrReuse(registerer, m.jobRuns).(*prometheus.CounterVec)
	m.jobErrors = registerOrReuse(registerer, m.jobErrors).(*prometheus.CounterVec)
	m.jobTimeouts = registerOrReuse(registerer, m.jobTimeouts).(*prometheus.CounterVec)
	m.jobDuration = registerOrReuse(registerer, m.jobDuration).(*prometheus.HistogramVec)
	m.groupsSwept = registerOrReuse(registerer, m.groupsSwept).(*prometheus.CounterVec)
	m.runLoopLag = registerOrReuse(registerer, m.runLoopLag).(prometheus.Histogram)
	return m
}

func (m *SweepMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SweepMetrics) AddGroupsSwept(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.groupsSwept.WithLabelValues(job, outcome).Add(float64(n))
}

func (m *SweepMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}
