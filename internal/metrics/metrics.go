// Package metrics 报价路由的可观测性端口
// 组件通过构造函数注入 Metrics，测试使用 Nop
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 后端调用结果
const (
	OutcomeSuccess     = "success"      // 成功
	OutcomeSoftFailure = "soft_failure" // 4xx或响应校验失败，返回空报价
	OutcomeHardFailure = "hard_failure" // 429、5xx、网络或超时
)

// Metrics 可观测性端口
type Metrics interface {
	BackendRequest(backend, outcome string)
	BackendLatency(backend string, d time.Duration)
	ResolverFailure(routingType string)
	QuoteSelected(routingType string)
	NoQuotes()
}

// Nop 空实现
type Nop struct{}

func (Nop) BackendRequest(string, string)        {}
func (Nop) BackendLatency(string, time.Duration) {}
func (Nop) ResolverFailure(string)               {}
func (Nop) QuoteSelected(string)                 {}
func (Nop) NoQuotes()                            {}

// Prometheus 基于prometheus的实现
type Prometheus struct {
	backendRequests  *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	resolverFailures *prometheus.CounterVec
	quotesSelected   *prometheus.CounterVec
	noQuotes         prometheus.Counter
}

// NewPrometheus 创建并注册指标
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_router_backend_requests_total",
			Help: "Backend quote calls by outcome",
		}, []string{"backend", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quote_router_backend_latency_seconds",
			Help:    "Time to obtain a backend quote",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 2},
		}, []string{"backend"}),
		resolverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_router_resolver_failures_total",
			Help: "Variant resolutions that failed and were isolated",
		}, []string{"routing"}),
		quotesSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_router_quotes_selected_total",
			Help: "Best quotes returned by routing type",
		}, []string{"routing"}),
		noQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_router_no_quotes_total",
			Help: "Passes that ended with no valid candidate",
		}),
	}

	reg.MustRegister(m.backendRequests, m.backendLatency, m.resolverFailures, m.quotesSelected, m.noQuotes)
	return m
}

func (m *Prometheus) BackendRequest(backend, outcome string) {
	m.backendRequests.WithLabelValues(backend, outcome).Inc()
}

func (m *Prometheus) BackendLatency(backend string, d time.Duration) {
	m.backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Prometheus) ResolverFailure(routingType string) {
	m.resolverFailures.WithLabelValues(routingType).Inc()
}

func (m *Prometheus) QuoteSelected(routingType string) {
	m.quotesSelected.WithLabelValues(routingType).Inc()
}

func (m *Prometheus) NoQuotes() {
	m.noQuotes.Inc()
}
