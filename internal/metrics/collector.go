// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/llm/budget"
	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/llm/ratelimit"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector Prometheus 指标收集器，实现 dispatch.Sink
type Collector struct {
	// 调用指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmQueueWait       *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	llmRetriesTotal    *prometheus.CounterVec
	llmErrorsTotal     *prometheus.CounterVec

	// 预算指标
	budgetCost   *prometheus.GaugeVec
	budgetUsage  *prometheus.GaugeVec
	budgetAlerts *prometheus.CounterVec
	budgetTokens *prometheus.GaugeVec

	// 准入门指标
	gateInFlight    prometheus.Gauge
	gateWindowCount prometheus.Gauge
	gateWaits       *prometheus.GaugeVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 策略指标
	strategyDecisions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。指标注册到默认 Registry，namespace 用于隔离。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 调用指标
	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of logical LLM calls",
		},
		[]string{"model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Logical LLM call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	c.llmQueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_queue_wait_seconds",
			Help:      "Time spent waiting at the rate gate in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: input, output
	)

	c.llmRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Total number of retried attempts",
		},
		[]string{"model"},
	)

	c.llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Total number of failed logical calls",
		},
		[]string{"model", "error_code"},
	)

	// 预算指标
	c.budgetCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_cost_usd",
			Help:      "Accumulated cost in USD",
		},
		[]string{"model"},
	)

	c.budgetUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_usage_percent",
			Help:      "Accumulated cost as a percentage of the budget limit",
		},
		[]string{"model"},
	)

	c.budgetTokens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_tokens",
			Help:      "Accumulated tokens recorded by the cost ledger",
		},
		[]string{"model", "type"},
	)

	c.budgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_alerts_total",
			Help:      "Budget warning thresholds crossed",
		},
		[]string{"model", "threshold"},
	)

	// 准入门指标
	c.gateInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_gate_in_flight",
			Help:      "Calls currently holding a concurrency slot",
		},
	)

	c.gateWindowCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_gate_window_count",
			Help:      "Admissions inside the current rate window",
		},
	)

	c.gateWaits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_gate_waits",
			Help:      "Cumulative admissions that had to wait",
		},
		[]string{"reason"}, // reason: rate, concurrency
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of context cache hits",
		},
		[]string{"model"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of context cache misses",
		},
		[]string{"model"},
	)

	// 策略指标
	c.strategyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_decisions_total",
			Help:      "Strategy decisions by optimizer and chosen action",
		},
		[]string{"optimizer", "action"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🤖 调用指标记录
// =============================================================================

// Emit 实现 dispatch.Sink
func (c *Collector) Emit(_ context.Context, t dispatch.Telemetry) {
	c.llmRequestsTotal.WithLabelValues(t.Model, string(t.Status)).Inc()
	c.llmRequestDuration.WithLabelValues(t.Model).Observe(t.Latency.Seconds())
	c.llmQueueWait.WithLabelValues(t.Model).Observe(t.QueueWait.Seconds())
	c.llmTokensUsed.WithLabelValues(t.Model, "input").Add(float64(t.InputTokens))
	c.llmTokensUsed.WithLabelValues(t.Model, "output").Add(float64(t.OutputTokens))
	if t.Retries > 0 {
		c.llmRetriesTotal.WithLabelValues(t.Model).Add(float64(t.Retries))
	}
	if t.ErrorCode != "" {
		c.llmErrorsTotal.WithLabelValues(t.Model, t.ErrorCode).Inc()
	}
	if t.CacheHit {
		c.cacheHits.WithLabelValues(t.Model).Inc()
	}
}

// =============================================================================
// 💰 预算指标记录
// =============================================================================

// RecordBudget 记录台账快照
func (c *Collector) RecordBudget(s budget.Snapshot) {
	c.budgetTokens.WithLabelValues(s.Model, "input").Set(float64(s.InputTokens))
	c.budgetTokens.WithLabelValues(s.Model, "output").Set(float64(s.OutputTokens))
	c.budgetCost.WithLabelValues(s.Model).Set(s.CostUSD)
	if s.LimitUSD > 0 {
		c.budgetUsage.WithLabelValues(s.Model).Set(s.UsagePercent)
	}
}

// AlertHandler 返回可注册到 budget.Ledger.OnAlert 的处理函数
func (c *Collector) AlertHandler(model string) budget.AlertHandler {
	return func(a budget.Alert) {
		c.budgetAlerts.WithLabelValues(model, strconv.FormatFloat(a.Threshold, 'f', -1, 64)).Inc()
	}
}

// =============================================================================
// 🚦 准入门指标记录
// =============================================================================

// RecordGate 记录准入门统计
func (c *Collector) RecordGate(s ratelimit.Stats) {
	c.gateInFlight.Set(float64(s.InFlight))
	c.gateWindowCount.Set(float64(s.WindowCount))
	c.gateWaits.WithLabelValues("rate").Set(float64(s.RateWaits))
	c.gateWaits.WithLabelValues("concurrency").Set(float64(s.ConcurrencyWaits))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheMiss 记录缓存未命中。命中由 Emit 根据遥测记录。
func (c *Collector) RecordCacheMiss(model string) {
	c.cacheMisses.WithLabelValues(model).Inc()
}

// =============================================================================
// 🎯 策略指标记录
// =============================================================================

// RecordDecision 记录一次策略选择
func (c *Collector) RecordDecision(optimizer, action string) {
	c.strategyDecisions.WithLabelValues(optimizer, action).Inc()
}

var _ dispatch.Sink = (*Collector)(nil)
