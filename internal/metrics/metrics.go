// Package metrics 暴露 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector 聚合分类管线的运行指标。
type Collector struct {
	completionTotal   *prometheus.CounterVec
	completionSeconds *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	rowsTotal         *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
}

// New 创建并注册指标集合。
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		completionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentflow",
			Name:      "llm_completions_total",
			Help:      "LLM completion calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		completionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patentflow",
			Name:      "llm_completion_seconds",
			Help:      "LLM completion latency by provider",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentflow",
			Name:      "llm_retries_total",
			Help:      "Retried LLM calls by provider",
		}, []string{"provider"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patentflow",
			Name:      "rows_processed_total",
			Help:      "Processed patent rows by LLM and outcome",
		}, []string{"llm", "outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patentflow",
			Name:      "sessions_active",
			Help:      "Sessions currently running pipelines",
		}),
	}
	reg.MustRegister(c.completionTotal, c.completionSeconds, c.retriesTotal, c.rowsTotal, c.sessionsActive)
	return c
}

// ObserveCompletion 记录一次 LLM 调用的耗时与结果。
func (c *Collector) ObserveCompletion(provider string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.completionTotal.WithLabelValues(provider, outcome).Inc()
	c.completionSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// IncRetry 记录一次重试。
func (c *Collector) IncRetry(provider string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(provider).Inc()
}

// IncRow 记录一行处理结果，outcome 为 classified 或 unclassified。
func (c *Collector) IncRow(llmName, outcome string) {
	if c == nil {
		return
	}
	c.rowsTotal.WithLabelValues(llmName, outcome).Inc()
}

// SessionStarted / SessionDone 维护活跃会话 gauge。
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionDone() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}
