// Package ratelimit 提供出站调用的准入控制：并发上限 + 滚动窗口 RPM 上限。
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/tokengate/types"
)

// Config 准入门配置
type Config struct {
	MaxConcurrency    int           `json:"max_concurrency"`     // 最大并发调用数
	RequestsPerMinute int           `json:"requests_per_minute"` // 窗口内最大请求数
	Window            time.Duration `json:"window"`              // 滚动窗口长度（默认 1 分钟）
	DisableRateWindow bool          `json:"disable_rate_window"` // 显式降级：只保留并发上限
}

// Stats 准入门运行统计
type Stats struct {
	InFlight         int64 `json:"in_flight"`
	MaxConcurrency   int   `json:"max_concurrency"`
	WindowCount      int   `json:"window_count"`
	WindowLimit      int   `json:"window_limit"`
	RateWaits        int64 `json:"rate_waits"`        // 因 RPM 窗口满而等待的次数
	ConcurrencyWaits int64 `json:"concurrency_waits"` // 因并发槽位满而等待的次数
	Degraded         bool  `json:"degraded"`
}

// Gate 同时约束并发数与滚动窗口请求数。
// 先等待窗口槽位，再等待并发槽位；两者互不持有，因此不会死锁。
type Gate struct {
	maxConcurrency int
	sem            *semaphore.Weighted
	window         *slidingWindow // nil 表示降级模式

	inFlight         atomic.Int64
	concurrencyWaits atomic.Int64

	waitLog rate.Sometimes
	logger  *zap.Logger
}

// Permit 一次成功准入的凭证，必须且只能 Release 一次
type Permit struct {
	gate       *Gate
	AcquiredAt time.Time
	Waited     time.Duration
}

// Release 归还并发槽位。窗口槽位到期自动失效。
func (p *Permit) Release() {
	p.gate.inFlight.Add(-1)
	p.gate.sem.Release(1)
}

// New 创建准入门
func New(cfg Config, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "max concurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	g := &Gate{
		maxConcurrency: cfg.MaxConcurrency,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		waitLog:        rate.Sometimes{First: 1, Interval: 10 * time.Second},
		logger:         logger.With(zap.String("component", "rate_gate")),
	}

	switch {
	case cfg.DisableRateWindow:
		g.logger.Warn("rate window disabled, enforcing concurrency cap only",
			zap.Int("max_concurrency", cfg.MaxConcurrency))
	case cfg.RequestsPerMinute <= 0:
		return nil, types.Errorf(types.ErrInvalidConfig,
			"requests per minute must be positive (got %d); set DisableRateWindow to run without a rate window",
			cfg.RequestsPerMinute)
	default:
		g.window = newSlidingWindow(cfg.RequestsPerMinute, cfg.Window)
	}

	return g, nil
}

// Acquire 阻塞直到窗口槽位与并发槽位均可用。
// 不设内部超时，调用方通过 ctx 控制放弃等待。
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	start := time.Now()

	if g.window != nil {
		if err := g.window.wait(ctx, g.onRateWait); err != nil {
			return nil, fmt.Errorf("wait for rate window: %w", err)
		}
	}

	if !g.sem.TryAcquire(1) {
		g.concurrencyWaits.Add(1)
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("wait for concurrency slot: %w", err)
		}
	}

	g.inFlight.Add(1)
	now := time.Now()
	return &Permit{gate: g, AcquiredAt: now, Waited: now.Sub(start)}, nil
}

func (g *Gate) onRateWait(delay time.Duration, inWindow int) {
	g.waitLog.Do(func() {
		g.logger.Info("rate window full, waiting",
			zap.Duration("delay", delay),
			zap.Int("in_window", inWindow))
	})
}

// Degraded 是否处于仅并发限制模式
func (g *Gate) Degraded() bool {
	return g.window == nil
}

// Stats 返回当前统计
func (g *Gate) Stats() Stats {
	s := Stats{
		InFlight:         g.inFlight.Load(),
		MaxConcurrency:   g.maxConcurrency,
		ConcurrencyWaits: g.concurrencyWaits.Load(),
		Degraded:         g.window == nil,
	}
	if g.window != nil {
		s.WindowCount, s.WindowLimit, s.RateWaits = g.window.stats(time.Now())
	}
	return s
}

// slidingWindow 记录窗口内的请求时间戳（滚动日志算法）
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	waits  int64
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// prune 丢弃窗口外的时间戳，调用方持有锁
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// reserve 尝试占用一个槽位；失败时返回需要等待的时长
func (w *slidingWindow) reserve(now time.Time) (time.Duration, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0, len(w.stamps), true
	}
	w.waits++
	return w.stamps[0].Add(w.window).Sub(now), len(w.stamps), false
}

func (w *slidingWindow) wait(ctx context.Context, onWait func(time.Duration, int)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay, inWindow, ok := w.reserve(time.Now())
		if ok {
			return nil
		}
		if delay <= 0 {
			delay = time.Millisecond
		}
		if onWait != nil {
			onWait(delay, inWindow)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *slidingWindow) stats(now time.Time) (int, int, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.stamps), w.limit, w.waits
}
