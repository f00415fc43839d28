package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bzreport"

// Metrics collects counters about a single reporting run. All methods are safe
// to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests      *prometheus.CounterVec
	bugsFetched      prometheus.Counter
	reconstructErrs  *prometheus.CounterVec
	reportDuration   *prometheus.SummaryVec
	lastSuccessTS    *prometheus.GaugeVec
	needinfoRequests *prometheus.GaugeVec
}

// New creates metrics registered in their own registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Bugzilla API requests by endpoint and response code",
	}, []string{"endpoint", "code"})
	m.bugsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bugs_fetched_total",
		Help:      "Bugs fetched from Bugzilla",
	})
	m.reconstructErrs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconstruction_failures_total",
		Help:      "Reports aborted because a bug history could not be reconstructed",
	}, []string{"report"})
	m.reportDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "report_duration_seconds",
		Help:      "Time spent building a report",
	}, []string{"report"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "report_last_success_timestamp_seconds",
		Help:      "Unix time of the last successfully built report",
	}, []string{"report"})
	m.needinfoRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "needinfo_requests",
		Help:      "Needinfo requests in the most recent window by rule and state",
	}, []string{"rule", "state"})

	m.registry.MustRegister(m.apiRequests, m.bugsFetched, m.reconstructErrs, m.reportDuration, m.lastSuccessTS, m.needinfoRequests)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records a finished API request; code zero means a transport error
func (m *Metrics) ObserveRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.apiRequests.WithLabelValues(endpoint, label).Inc()
}

// AddBugs records fetched bugs
func (m *Metrics) AddBugs(n int) {
	if m == nil {
		return
	}
	m.bugsFetched.Add(float64(n))
}

// ReconstructionFailed records an aborted report
func (m *Metrics) ReconstructionFailed(report string) {
	if m == nil {
		return
	}
	m.reconstructErrs.WithLabelValues(report).Inc()
}

// ReportBuilt records a successfully built report
func (m *Metrics) ReportBuilt(report string, took time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.WithLabelValues(report).Observe(took.Seconds())
	m.lastSuccessTS.WithLabelValues(report).SetToCurrentTime()
}

// SetNeedinfo records the needinfo request counts of a rule
func (m *Metrics) SetNeedinfo(rule, state string, n int) {
	if m == nil {
		return
	}
	m.needinfoRequests.WithLabelValues(rule, state).Set(float64(n))
}

// WriteTextfile writes all metrics in the text exposition format, for the node
// exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
