// Package tokengate wires the rate gate, retry coordinator, cost ledger,
// context cache and strategy router into one session-scoped entry point.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("tokengate.yaml").Load()
//	tr := dispatch.NewHTTPTransport(cfg.Transport.BaseURL, cfg.Transport.APIKey, nil, logger)
//	s, err := tokengate.New(cfg, tr, tokengate.WithLogger(logger))
//	defer s.Close()
//
//	res, err := s.ExecuteCached(ctx, tokengate.CallRequest{Instructions: sys, Context: doc, Prompt: q})
//	d, err := s.OptimizeOrRoute(ctx, strategy.Task{Description: q}, strategy.ModeAuto)
//
// One Session owns one CostLedger; budget state lives as long as the Session.
package tokengate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/agent/strategy"
	"github.com/BaSui01/tokengate/config"
	internalcache "github.com/BaSui01/tokengate/internal/cache"
	"github.com/BaSui01/tokengate/internal/metrics"
	"github.com/BaSui01/tokengate/llm/budget"
	"github.com/BaSui01/tokengate/llm/cache"
	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/llm/ratelimit"
	"github.com/BaSui01/tokengate/llm/retry"
	"github.com/BaSui01/tokengate/llm/tokenizer"
	"github.com/BaSui01/tokengate/types"
)

// Option configures the Session created by [New].
type Option func(*options)

type options struct {
	logger    *zap.Logger
	sinks     []dispatch.Sink
	collector *metrics.Collector

	contextService cache.ContextService
	counter        cache.TokenCounter
	store          cache.ManifestStore

	deep      strategy.DeepSearcher
	simulator strategy.Simulator
	renderer  strategy.Renderer
	scorer    strategy.Scorer
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSink adds a telemetry sink. May be given more than once.
func WithSink(s dispatch.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithCollector attaches a Prometheus collector as a sink and budget alert handler.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithContextService overrides the remote context service. Defaults to the
// transport when it implements cache.ContextService.
func WithContextService(s cache.ContextService) Option {
	return func(o *options) { o.contextService = s }
}

// WithTokenCounter overrides the counter used to size cache candidates.
func WithTokenCounter(c cache.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithManifestStore overrides the manifest backend selected by cache.backend.
func WithManifestStore(s cache.ManifestStore) Option {
	return func(o *options) { o.store = s }
}

// WithDeepSearcher sets the deep-reasoning search used for deep routes.
func WithDeepSearcher(d strategy.DeepSearcher) Option {
	return func(o *options) { o.deep = d }
}

// WithSimulator replaces dispatch-backed simulation entirely.
func WithSimulator(s strategy.Simulator) Option {
	return func(o *options) { o.simulator = s }
}

// WithRenderer sets how candidate actions become payloads during search.
func WithRenderer(r strategy.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithScorer sets how search calls are scored.
func WithScorer(s strategy.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// Session 会话级入口，可被多个 goroutine 并发使用
type Session struct {
	cfg        *config.Config
	gate       *ratelimit.Gate
	retry      *retry.Coordinator
	ledger     *budget.Ledger
	dispatcher *dispatch.Dispatcher
	cache      *cache.Manager // nil 表示未启用
	router     *strategy.Router
	collector  *metrics.Collector
	logger     *zap.Logger
	closers    []func() error
}

// New builds a Session from cfg. A nil cfg uses config.DefaultConfig().
func New(cfg *config.Config, transport dispatch.Transport, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, err.Error()).WithCause(err)
	}
	if transport == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "transport is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Session{cfg: cfg, collector: o.collector, logger: o.logger}

	gate, err := ratelimit.New(ratelimit.Config{
		MaxConcurrency:    cfg.Dispatch.MaxConcurrency,
		RequestsPerMinute: cfg.Dispatch.RequestsPerMinute,
		Window:            cfg.Dispatch.RateWindow,
		DisableRateWindow: cfg.Dispatch.DisableRateWindow,
	}, o.logger)
	if err != nil {
		return nil, err
	}
	s.gate = gate
	rp := retryPolicy(cfg.Retry)
	s.retry = retry.NewCoordinator(&rp, o.logger)

	s.ledger = budget.NewLedger(budget.Config{
		Model:          cfg.Dispatch.Model,
		LimitUSD:       cfg.Budget.LimitUSD,
		WarnThresholds: cfg.Budget.WarnThresholds,
		Pricing:        PricingTable(cfg.Pricing),
	}, o.logger)

	sinks := append([]dispatch.Sink(nil), o.sinks...)
	if o.collector != nil {
		sinks = append(sinks, o.collector)
		s.ledger.OnAlert(o.collector.AlertHandler(cfg.Dispatch.Model))
	}
	dopts := []dispatch.Option{
		dispatch.WithModel(cfg.Dispatch.Model),
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
	}
	if len(sinks) > 0 {
		dopts = append(dopts, dispatch.WithSink(dispatch.MultiSink(sinks)))
	}
	s.dispatcher, err = dispatch.New(transport, s.gate, s.retry, s.ledger, o.logger, dopts...)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		if err := s.initCache(transport, o); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := s.initRouter(o); err != nil {
		s.Close()
		return nil, err
	}

	o.logger.Info("session ready",
		zap.String("model", cfg.Dispatch.Model),
		zap.Int("max_concurrency", cfg.Dispatch.MaxConcurrency),
		zap.Int("requests_per_minute", cfg.Dispatch.RequestsPerMinute),
		zap.Float64("budget_usd", cfg.Budget.LimitUSD),
		zap.Bool("context_cache", s.cache != nil))
	return s, nil
}

func (s *Session) initCache(transport dispatch.Transport, o options) error {
	store := o.store
	if store == nil {
		switch s.cfg.Cache.Backend {
		case "redis":
			rcfg := internalcache.DefaultConfig()
			rcfg.Addr = s.cfg.Redis.Addr
			rcfg.Password = s.cfg.Redis.Password
			rcfg.DB = s.cfg.Redis.DB
			rcfg.PoolSize = s.cfg.Redis.PoolSize
			rcfg.MinIdleConns = s.cfg.Redis.MinIdleConns
			rs, err := cache.NewRedisStore(rcfg, s.cfg.Cache.RedisKey, s.logger)
			if err != nil {
				return fmt.Errorf("open redis manifest store: %w", err)
			}
			s.closers = append(s.closers, rs.Close)
			store = rs
		default:
			store = cache.NewFileStore(s.cfg.Cache.ManifestPath, s.logger)
		}
	}

	service := o.contextService
	if service == nil {
		if cs, ok := transport.(cache.ContextService); ok {
			service = cs
		}
	}
	if service == nil {
		s.logger.Warn("context cache enabled but no context service available, cache disabled")
		return nil
	}

	counter := o.counter
	if counter == nil {
		if s.cfg.Cache.CountMode == "local" {
			counter = tokenizer.NewCounter(s.cfg.Dispatch.Model)
		} else {
			counter = transport
		}
	}

	s.cache = cache.NewManager(store, service, counter, s.logger, cache.WithDefaultTTL(s.cfg.Cache.TTLMinutes))
	return nil
}

func (s *Session) initRouter(o options) error {
	sim := o.simulator
	if sim == nil {
		render := o.renderer
		if render == nil {
			render = actionAsInstruction
		}
		ds, err := strategy.NewDispatchSimulator(s.dispatcher, render, o.scorer)
		if err != nil {
			return err
		}
		sim = ds
	}

	opt, err := strategy.NewOptimizer(strategy.Config{
		Iterations:  s.cfg.Strategy.Iterations,
		Exploration: s.cfg.Strategy.Exploration,
		Actions:     s.cfg.Strategy.Actions,
	}, sim, s.logger)
	if err != nil {
		return err
	}

	classifier := strategy.NewKeywordClassifier(s.cfg.Strategy.DeepKeywords, s.cfg.Strategy.MaxFastWords)
	s.router, err = strategy.NewRouter(opt, o.deep, classifier, s.logger)
	return err
}

// actionAsInstruction 默认渲染：动作标识即系统指令
func actionAsInstruction(action string, task strategy.Task) (dispatch.Payload, error) {
	contents := task.Description
	if task.Payload != "" {
		contents += "\n\n" + task.Payload
	}
	return dispatch.Payload{SystemInstruction: action, Contents: contents}, nil
}

// CallRequest 一次可缓存的调用：Instructions + Context 是可复用的大块内容，Prompt 每次不同
type CallRequest struct {
	Instructions    string
	Context         string
	Prompt          string
	Label           string
	TTLMinutes      int
	MaxOutputTokens int
}

// Execute 直接执行一次逻辑调用
func (s *Session) Execute(ctx context.Context, spec dispatch.CallSpec) (*dispatch.Result, error) {
	res, err := s.dispatcher.Execute(ctx, spec)
	s.observe()
	return res, err
}

// ExecuteCached 先查找或创建远端上下文，再执行调用。
// 缓存失败只记录日志，调用在没有句柄的情况下继续。
func (s *Session) ExecuteCached(ctx context.Context, req CallRequest) (*dispatch.Result, error) {
	spec := dispatch.CallSpec{
		Label: req.Label,
		Payload: dispatch.Payload{
			SystemInstruction: req.Instructions,
			Contents:          joinNonEmpty(req.Context, req.Prompt),
			MaxOutputTokens:   req.MaxOutputTokens,
		},
	}

	if s.cache != nil && req.Context != "" {
		h, hit, err := s.cache.GetOrCreate(ctx, cache.CreateRequest{
			Model:        s.cfg.Dispatch.Model,
			Instructions: req.Instructions,
			Payload:      req.Context,
			TTLMinutes:   req.TTLMinutes,
		}, s.cfg.Cache.MinTokens)
		switch {
		case err != nil:
			s.logger.Warn("context cache unavailable, proceeding without handle",
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err))
		case h != nil:
			spec.Payload.SystemInstruction = ""
			spec.Payload.Contents = req.Prompt
			spec.Payload.CachedContent = h.Name
			spec.CacheHit = hit
		}
		if !hit && s.collector != nil {
			s.collector.RecordCacheMiss(s.cfg.Dispatch.Model)
		}
	}

	return s.Execute(ctx, spec)
}

// OptimizeOrRoute 按模式选择策略，返回 {optimizer, best_action, score}
func (s *Session) OptimizeOrRoute(ctx context.Context, task strategy.Task, mode strategy.Mode) (*strategy.Decision, error) {
	d, err := s.router.Route(ctx, task, mode)
	s.observe()
	if err != nil {
		return nil, err
	}
	if s.collector != nil {
		s.collector.RecordDecision(string(d.Optimizer), d.BestAction)
	}
	return d, nil
}

// Classify 只做分类，不执行搜索
func (s *Session) Classify(task strategy.Task) strategy.Mode {
	return s.router.Resolve(task, strategy.ModeAuto)
}

func (s *Session) observe() {
	if s.collector == nil {
		return
	}
	s.collector.RecordGate(s.gate.Stats())
	s.collector.RecordBudget(s.ledger.Snapshot())
}

// Snapshot 返回成本台账快照
func (s *Session) Snapshot() budget.Snapshot { return s.ledger.Snapshot() }

// Ledger 返回成本台账
func (s *Session) Ledger() *budget.Ledger { return s.ledger }

// Gate 返回准入门
func (s *Session) Gate() *ratelimit.Gate { return s.gate }

// RetryStats 返回重试统计
func (s *Session) RetryStats() retry.Stats { return s.retry.Stats() }

// Cache 返回上下文缓存，未启用时为 nil
func (s *Session) Cache() *cache.Manager { return s.cache }

// Dispatcher 返回调度器
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Close 释放外部连接
func (s *Session) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		MinBackoff:   c.MinBackoff,
		MaxBackoff:   c.MaxBackoff,
		Multiplier:   c.Multiplier,
		AdaptiveStep: c.AdaptiveStep,
		AdaptiveCap:  c.AdaptiveCap,
		Unit:         c.Unit,
		Jitter:       c.Jitter,
	}
}

// PricingTable 配置中的价格档位叠加到默认价格表之上
func PricingTable(overrides map[string][]config.PricingTierConfig) budget.PricingTable {
	table := make(budget.PricingTable, len(overrides))
	for model, tiers := range overrides {
		out := make([]budget.Tier, 0, len(tiers))
		for _, t := range tiers {
			out = append(out, budget.Tier{MaxInputTokens: t.MaxInputTokens, InputRate: t.InputRate, OutputRate: t.OutputRate})
		}
		table[model] = out
	}
	return budget.DefaultPricing().Merge(table)
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
