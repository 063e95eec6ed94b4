package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/tokengate/llm/dispatch"
)

const instrumentationName = "github.com/BaSui01/tokengate/llm"

// Option Metrics 选项
type Option func(*options)

type options struct {
	mp metric.MeterProvider
	tp trace.TracerProvider
}

// WithMeterProvider 指定 MeterProvider，默认使用全局
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// WithTracerProvider 指定 TracerProvider，默认使用全局
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// Metrics 基于 OpenTelemetry 的调用指标，实现 dispatch.Sink
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter
	// 计数器
	requestTotal  metric.Int64Counter
	tokenTotal    metric.Int64Counter
	errorTotal    metric.Int64Counter
	retryTotal    metric.Int64Counter
	cacheHitTotal metric.Int64Counter
	// 直方图
	requestDuration metric.Float64Histogram
	queueWait       metric.Float64Histogram
	tokenCount      metric.Int64Histogram
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...Option) (*Metrics, error) {
	o := options{mp: otel.GetMeterProvider(), tp: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	m := &Metrics{
		tracer: o.tp.Tracer(instrumentationName),
		meter:  meter,
	}

	var err error

	// 逻辑调用计数
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of logical LLM calls"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of failed calls"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.retryTotal, err = meter.Int64Counter("llm.retry.total",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	m.cacheHitTotal, err = meter.Int64Counter("llm.cache.hit.total",
		metric.WithDescription("Calls served with a cached context"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Logical call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	m.queueWait, err = meter.Float64Histogram("llm.request.queue_wait",
		metric.WithDescription("Time spent waiting at the rate gate in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 15, 30, 60))
	if err != nil {
		return nil, err
	}

	m.tokenCount, err = meter.Int64Histogram("llm.token.count",
		metric.WithDescription("Token count per call"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 4000, 16000, 64000, 256000, 1000000))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Emit 实现 dispatch.Sink：记录指标并补录一个覆盖调用区间的 span
func (m *Metrics) Emit(ctx context.Context, t dispatch.Telemetry) {
	commonAttrs := []attribute.KeyValue{
		attribute.String("model", t.Model),
		attribute.String("status", string(t.Status)),
	}
	if t.Label != "" {
		commonAttrs = append(commonAttrs, attribute.String("label", t.Label))
	}

	m.requestTotal.Add(ctx, 1, metric.WithAttributes(commonAttrs...))
	m.requestDuration.Record(ctx, t.Latency.Seconds(), metric.WithAttributes(commonAttrs...))
	m.queueWait.Record(ctx, t.QueueWait.Seconds(), metric.WithAttributes(attribute.String("model", t.Model)))

	if total := int64(t.InputTokens + t.OutputTokens); total > 0 {
		m.tokenTotal.Add(ctx, int64(t.InputTokens), metric.WithAttributes(
			attribute.String("model", t.Model),
			attribute.String("type", "input")))
		m.tokenTotal.Add(ctx, int64(t.OutputTokens), metric.WithAttributes(
			attribute.String("model", t.Model),
			attribute.String("type", "output")))
		m.tokenCount.Record(ctx, total, metric.WithAttributes(commonAttrs...))
	}

	if t.Retries > 0 {
		m.retryTotal.Add(ctx, int64(t.Retries), metric.WithAttributes(attribute.String("model", t.Model)))
	}
	if t.ErrorCode != "" {
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", t.Model),
			attribute.String("error_code", t.ErrorCode)))
	}
	if t.CacheHit {
		m.cacheHitTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("model", t.Model)))
	}

	m.recordSpan(ctx, t)
}

func (m *Metrics) recordSpan(ctx context.Context, t dispatch.Telemetry) {
	end := time.Now()
	_, span := m.tracer.Start(ctx, "llm.dispatch",
		trace.WithTimestamp(end.Add(-t.Latency)),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.request_id", t.RequestID),
			attribute.String("llm.model", t.Model),
			attribute.String("llm.status", string(t.Status)),
			attribute.Int("llm.attempts", t.Attempts),
			attribute.Int("llm.tokens.input", t.InputTokens),
			attribute.Int("llm.tokens.output", t.OutputTokens),
			attribute.Bool("llm.cache_hit", t.CacheHit),
			attribute.Float64("llm.queue_wait_ms", float64(t.QueueWait.Milliseconds())),
		))
	if t.TaskID != "" {
		span.SetAttributes(attribute.String("task.id", t.TaskID))
	}
	if t.ErrorCode != "" {
		span.SetAttributes(attribute.String("error.code", t.ErrorCode))
		span.SetStatus(codes.Error, t.ErrorCode)
	}
	span.End(trace.WithTimestamp(end))
}

// Tracer 获取 Tracer
func (m *Metrics) Tracer() trace.Tracer {
	return m.tracer
}

var _ dispatch.Sink = (*Metrics)(nil)
