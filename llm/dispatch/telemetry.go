package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status 逻辑调用的最终状态
type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusBlocked  Status = "blocked"
	StatusRejected Status = "rejected" // 预算已耗尽，未发出调用
)

// Telemetry 一次逻辑调用的遥测记录（不是每次尝试一条）
type Telemetry struct {
	RequestID    string        `json:"request_id"`
	Model        string        `json:"model"`
	Label        string        `json:"label,omitempty"`
	Latency      time.Duration `json:"latency"`
	QueueWait    time.Duration `json:"queue_wait"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CacheHit     bool          `json:"cache_hit"`
	Attempts     int           `json:"attempts"`
	Retries      int           `json:"retries"`
	Status       Status        `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	TraceID      string        `json:"trace_id,omitempty"`
	TaskID       string        `json:"task_id,omitempty"`
}

// LatencyMillis 延迟毫秒数
func (t Telemetry) LatencyMillis() float64 {
	return float64(t.Latency) / float64(time.Millisecond)
}

// Sink 遥测接收端
type Sink interface {
	Emit(ctx context.Context, t Telemetry)
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, t Telemetry)

func (f SinkFunc) Emit(ctx context.Context, t Telemetry) { f(ctx, t) }

// MultiSink 按顺序扇出到多个 Sink，单个 Sink panic 不影响其余
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, t Telemetry) {
	for _, s := range m {
		safeEmit(ctx, s, t, nil)
	}
}

// safeEmit 吞掉 Sink 的 panic
func safeEmit(ctx context.Context, s Sink, t Telemetry, logger *zap.Logger) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("telemetry sink panicked",
				zap.String("request_id", t.RequestID),
				zap.Any("panic", r))
		}
	}()
	s.Emit(ctx, t)
}

func (t Telemetry) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", t.RequestID),
		zap.String("model", t.Model),
		zap.Float64("latency_ms", t.LatencyMillis()),
		zap.Int("input_tokens", t.InputTokens),
		zap.Int("output_tokens", t.OutputTokens),
		zap.Bool("cache_hit", t.CacheHit),
		zap.Int("attempts", t.Attempts),
		zap.String("status", string(t.Status)),
	}
	if t.Label != "" {
		fields = append(fields, zap.String("label", t.Label))
	}
	if t.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", t.ErrorCode))
	}
	if t.TraceID != "" {
		fields = append(fields, zap.String("trace_id", t.TraceID))
	}
	return fields
}
