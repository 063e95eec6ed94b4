package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/llm/budget"
	"github.com/BaSui01/tokengate/llm/ratelimit"
	"github.com/BaSui01/tokengate/llm/retry"
	"github.com/BaSui01/tokengate/types"
)

// DefaultTimeout 单次尝试的默认超时
const DefaultTimeout = 120 * time.Second

// CallSpec 一次逻辑调用
type CallSpec struct {
	Payload  Payload
	Label    string        // 遥测标签，例如候选动作名
	Timeout  time.Duration // 单次尝试超时，0 使用默认值
	CacheHit bool          // 负载是否复用了缓存上下文
}

// Result 一次成功逻辑调用的结果
type Result struct {
	RequestID    string           `json:"request_id"`
	Text         string           `json:"text"`
	FinishReason FinishReason     `json:"finish_reason"`
	Usage        types.TokenUsage `json:"usage"`
	Attempts     int              `json:"attempts"`
	Latency      time.Duration    `json:"latency"`
	CacheHit     bool             `json:"cache_hit"`
}

// call 一次逻辑调用的累计状态
type call struct {
	id        string
	payload   *Payload
	startedAt time.Time
	attempts  int           // 已拿到准入并发出的尝试数
	queueWait time.Duration // 各次尝试在准入门上的等待之和
}

// ticket 单次尝试：持有一个窗口槽位与一个并发槽位，尝试结束即归还
type ticket struct {
	requestID string
	attempt   int
	payload   *Payload
	startedAt time.Time
	permit    *ratelimit.Permit
}

// Option 调度器选项
type Option func(*Dispatcher)

// WithSink 设置遥测接收端
func WithSink(s Sink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithTimeout 设置默认单次尝试超时
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithModel 设置负载未指定模型时使用的默认模型
func WithModel(model string) Option {
	return func(d *Dispatcher) { d.model = model }
}

// Dispatcher 出站调用调度器，可被多个 goroutine 并发使用
type Dispatcher struct {
	transport Transport
	gate      *ratelimit.Gate
	retry     *retry.Coordinator
	ledger    *budget.Ledger
	sink      Sink
	timeout   time.Duration
	model     string
	logger    *zap.Logger
}

// New 创建调度器。ledger 可为 nil，此时不记账也不检查预算。
func New(transport Transport, gate *ratelimit.Gate, retryer *retry.Coordinator, ledger *budget.Ledger, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if transport == nil || gate == nil || retryer == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "dispatcher requires transport, rate gate and retry coordinator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		transport: transport,
		gate:      gate,
		retry:     retryer,
		ledger:    ledger,
		timeout:   DefaultTimeout,
		logger:    logger.With(zap.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Transport 返回底层传输
func (d *Dispatcher) Transport() Transport {
	return d.transport
}

// Ledger 返回成本台账，可能为 nil
func (d *Dispatcher) Ledger() *budget.Ledger {
	return d.ledger
}

// Execute 执行一次逻辑调用。
// 调用成功但记账后超出预算时，返回结果的同时返回 BUDGET_EXCEEDED。
func (d *Dispatcher) Execute(ctx context.Context, spec CallSpec) (*Result, error) {
	payload := spec.Payload
	if payload.Model == "" {
		payload.Model = d.model
	}
	c := &call{
		id:        uuid.NewString(),
		payload:   &payload,
		startedAt: time.Now(),
	}
	tel := Telemetry{
		RequestID: c.id,
		Model:     payload.Model,
		Label:     spec.Label,
		CacheHit:  spec.CacheHit || payload.CachedContent != "",
	}
	tel.TraceID, _ = types.TraceID(ctx)
	tel.TaskID, _ = types.TaskID(ctx)

	res, err := d.execute(ctx, c, spec, &tel)

	tel.Latency = time.Since(c.startedAt)
	tel.QueueWait = c.queueWait
	tel.Attempts = c.attempts
	tel.Retries = max(c.attempts-1, 0)
	d.report(ctx, tel, err)
	return res, err
}

func (d *Dispatcher) execute(ctx context.Context, c *call, spec CallSpec, tel *Telemetry) (*Result, error) {
	if d.ledger != nil {
		if err := d.ledger.CheckBudget(); err != nil {
			tel.Status = StatusRejected
			tel.ErrorCode = string(types.GetErrorCode(err))
			return nil, err
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	resp, err := retry.DoTyped(d.retry, ctx, func() (*Response, error) {
		return d.attempt(ctx, c, timeout)
	})
	if err != nil {
		tel.Status = StatusError
		if types.IsKind(err, types.KindContentBlocked) {
			tel.Status = StatusBlocked
		}
		tel.ErrorCode = string(retry.Classify(err))
		return nil, err
	}

	tel.Status = StatusOK
	tel.InputTokens = resp.Usage.InputTokens
	tel.OutputTokens = resp.Usage.OutputTokens

	res := &Result{
		RequestID:    c.id,
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Attempts:     c.attempts,
		Latency:      time.Since(c.startedAt),
		CacheHit:     tel.CacheHit,
	}

	if d.ledger != nil {
		d.ledger.RecordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if err := d.ledger.CheckBudget(); err != nil {
			tel.ErrorCode = string(types.GetErrorCode(err))
			return res, err
		}
	}
	return res, nil
}

// attempt 单次尝试：先过准入门，再在独立超时内调用传输。
// 每次出站请求都占用一个窗口槽位；退避等待期间不持有任何槽位。
func (d *Dispatcher) attempt(ctx context.Context, c *call, timeout time.Duration) (*Response, error) {
	permit, err := d.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	c.attempts++
	c.queueWait += permit.Waited
	t := &ticket{
		requestID: c.id,
		attempt:   c.attempts,
		payload:   c.payload,
		startedAt: permit.AcquiredAt,
		permit:    permit,
	}
	d.logger.Debug("attempt admitted",
		zap.String("request_id", t.requestID),
		zap.Int("attempt", t.attempt),
		zap.Duration("queue_wait", t.permit.Waited))

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.transport.Call(actx, *t.payload)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, types.NewError(types.ErrUpstreamError, "transport returned no response").WithModel(t.payload.Model)
	}
	if !resp.FinishReason.Accepted() {
		return nil, types.Errorf(types.ErrContentBlocked,
			"response finished with %q", resp.FinishReason).WithModel(t.payload.Model)
	}
	return resp, nil
}

func (d *Dispatcher) report(ctx context.Context, tel Telemetry, err error) {
	fields := tel.fields()
	switch {
	case err == nil:
		d.logger.Info("call completed", fields...)
	case tel.Status == StatusOK:
		d.logger.Warn("call completed over budget", append(fields, zap.Error(err))...)
	default:
		d.logger.Warn("call failed", append(fields, zap.Error(err))...)
	}
	safeEmit(ctx, d.sink, tel, d.logger)
}
