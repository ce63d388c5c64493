// Package metrics 维护进程私有的 Prometheus 注册表，记录获取、淘汰与交付计数。
// 所有方法对 nil 接收者安全，便于测试中省略指标。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediavault"

// Metrics 聚合所有业务指标。
type Metrics struct {
	registry       *prometheus.Registry
	acquisitions   *prometheus.CounterVec
	backendFetches *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	timers         prometheus.Gauge
}

// New 创建指标集合并注册 Go 运行时与进程采集器。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Variant acquisition outcomes by kind (created, cached, failed, invalid).",
		}, []string{"kind", "result"}),
		backendFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fetches_total",
			Help:      "Backend fetch attempts by backend name and result.",
		}, []string{"backend", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Variants evicted, by reason (timer, lazy, missing, sweep).",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "File delivery responses by HTTP status.",
		}, []string{"status"}),
		timers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_timers",
			Help:      "Expiry timers currently armed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.acquisitions,
		m.backendFetches,
		m.evictions,
		m.deliveries,
		m.timers,
	)
	return m
}

// Registry 暴露底层注册表，测试中可直接 Gather。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAcquisition(kind, result string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveBackendFetch(backend, result string) {
	if m == nil {
		return
	}
	m.backendFetches.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) ObserveEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDelivery(status int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) SetScheduledTimers(n int) {
	if m == nil {
		return
	}
	m.timers.Set(float64(n))
}
