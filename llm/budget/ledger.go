package budget

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

// DefaultWarnThresholds 默认告警阈值（百分比）
var DefaultWarnThresholds = []float64{80, 90, 95}

// Config 台账配置
type Config struct {
	Model          string       `json:"model"`
	LimitUSD       float64      `json:"limit_usd"`       // <= 0 表示不启用预算
	WarnThresholds []float64    `json:"warn_thresholds"` // 百分比，nil 使用默认值
	Pricing        PricingTable `json:"-"`               // nil 使用 DefaultPricing
}

// Alert 预算阈值告警
type Alert struct {
	Threshold    float64   `json:"threshold"`
	UsagePercent float64   `json:"usage_percent"`
	CostUSD      float64   `json:"cost_usd"`
	LimitUSD     float64   `json:"limit_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertHandler 告警回调，在 CheckBudget 的调用方 goroutine 中同步执行
type AlertHandler func(alert Alert)

// Snapshot 台账快照
type Snapshot struct {
	Model             string    `json:"model"`
	InputTokens       int64     `json:"input_tokens"`
	OutputTokens      int64     `json:"output_tokens"`
	CostUSD           float64   `json:"cost_usd"`
	LimitUSD          float64   `json:"limit_usd,omitempty"`
	UsagePercent      float64   `json:"usage_percent"`
	EmittedThresholds []float64 `json:"emitted_thresholds,omitempty"`
	Exceeded          bool      `json:"exceeded"`
	PricingError      string    `json:"pricing_error,omitempty"`
}

// Ledger 会话级成本台账，所有方法并发安全
type Ledger struct {
	model      string
	limit      float64
	thresholds []float64
	pricing    PricingTable
	logger     *zap.Logger

	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	emitted      map[float64]bool
	exceeded     bool
	handlers     []AlertHandler
}

// NewLedger 创建台账
func NewLedger(cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresholds := cfg.WarnThresholds
	if thresholds == nil {
		thresholds = DefaultWarnThresholds
	}
	thresholds = append([]float64(nil), thresholds...)
	sort.Float64s(thresholds)

	pricing := cfg.Pricing
	if pricing == nil {
		pricing = DefaultPricing()
	}

	return &Ledger{
		model:      cfg.Model,
		limit:      cfg.LimitUSD,
		thresholds: thresholds,
		pricing:    pricing,
		logger:     logger.With(zap.String("component", "cost_ledger")),
		emitted:    make(map[float64]bool, len(thresholds)),
	}
}

// OnAlert 注册告警回调
func (l *Ledger) OnAlert(handler AlertHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// RecordUsage 累加一次调用的用量。负数按 0 处理。
func (l *Ledger) RecordUsage(inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inputTokens += int64(max(inputTokens, 0))
	l.outputTokens += int64(max(outputTokens, 0))
}

// Usage 返回累计用量
func (l *Ledger) Usage() types.TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.TokenUsage{InputTokens: int(l.inputTokens), OutputTokens: int(l.outputTokens)}
}

// HasBudget 是否配置了预算上限
func (l *Ledger) HasBudget() bool {
	return l.limit > 0
}

// TotalCost 按累计输入 Token 所在档位计算总成本
func (l *Ledger) TotalCost() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costLocked()
}

func (l *Ledger) costLocked() (float64, error) {
	tier, err := l.pricing.Lookup(l.model, l.inputTokens)
	if err != nil {
		return 0, err
	}
	return tier.Cost(l.inputTokens, l.outputTokens), nil
}

// BudgetUsagePercent 已用预算百分比，未配置预算时为 0
func (l *Ledger) BudgetUsagePercent() (float64, error) {
	if !l.HasBudget() {
		return 0, nil
	}
	cost, err := l.TotalCost()
	if err != nil {
		return 0, err
	}
	return 100 * cost / l.limit, nil
}

// CheckBudget 触发尚未触发过的阈值告警；成本超过上限后每次调用都返回 BUDGET_EXCEEDED。
func (l *Ledger) CheckBudget() error {
	if !l.HasBudget() {
		return nil
	}

	l.mu.Lock()
	cost, err := l.costLocked()
	if err != nil {
		l.mu.Unlock()
		return err
	}
	usage := 100 * cost / l.limit

	var fired []Alert
	now := time.Now()
	for _, th := range l.thresholds {
		if usage >= th && !l.emitted[th] {
			l.emitted[th] = true
			fired = append(fired, Alert{
				Threshold:    th,
				UsagePercent: usage,
				CostUSD:      cost,
				LimitUSD:     l.limit,
				Timestamp:    now,
			})
		}
	}
	if cost > l.limit {
		l.exceeded = true
	}
	exceeded := l.exceeded
	handlers := append([]AlertHandler(nil), l.handlers...)
	l.mu.Unlock()

	for _, a := range fired {
		l.logger.Warn("budget threshold crossed",
			zap.Float64("threshold_percent", a.Threshold),
			zap.Float64("usage_percent", a.UsagePercent),
			zap.Float64("cost_usd", a.CostUSD),
			zap.Float64("limit_usd", a.LimitUSD))
		for _, h := range handlers {
			h(a)
		}
	}

	if exceeded {
		return types.Errorf(types.ErrBudgetExceeded,
			"budget exceeded: current $%.4f of limit $%.2f", cost, l.limit).WithModel(l.model)
	}
	return nil
}

// Exceeded 预算是否已被击穿
func (l *Ledger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exceeded
}

// Snapshot 返回当前台账快照。价格查找失败时 PricingError 非空。
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Model:        l.model,
		InputTokens:  l.inputTokens,
		OutputTokens: l.outputTokens,
		LimitUSD:     l.limit,
		Exceeded:     l.exceeded,
	}
	cost, err := l.costLocked()
	if err != nil {
		s.PricingError = err.Error()
	} else {
		s.CostUSD = cost
		if l.limit > 0 {
			s.UsagePercent = 100 * cost / l.limit
		}
	}
	for _, th := range l.thresholds {
		if l.emitted[th] {
			s.EmittedThresholds = append(s.EmittedThresholds, th)
		}
	}
	return s
}

// String 便于日志输出
func (s Snapshot) String() string {
	if s.LimitUSD > 0 {
		return fmt.Sprintf("%s: in=%d out=%d cost=$%.4f (%.1f%% of $%.2f)",
			s.Model, s.InputTokens, s.OutputTokens, s.CostUSD, s.UsagePercent, s.LimitUSD)
	}
	return fmt.Sprintf("%s: in=%d out=%d cost=$%.4f", s.Model, s.InputTokens, s.OutputTokens, s.CostUSD)
}
