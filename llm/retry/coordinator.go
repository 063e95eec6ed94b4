package retry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

// Stats 重试统计快照。计数器单调递增，会话内不重置。
type Stats struct {
	Retries  int64 `json:"retries"`  // 发生过的重试次数
	Failures int64 `json:"failures"` // 重试耗尽后的失败次数
}

// Coordinator 按策略重试瞬时错误，终止错误立即返回。
// 同一个 Coordinator 可被多个并发调用共享，计数器为会话级。
type Coordinator struct {
	policy *Policy
	logger *zap.Logger

	retries  atomic.Int64
	failures atomic.Int64
}

// NewCoordinator 创建重试协调器
func NewCoordinator(policy *Policy, logger *zap.Logger) *Coordinator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	p.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		policy: &p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Policy 返回生效的策略副本
func (c *Coordinator) Policy() Policy {
	return *c.policy
}

// Stats 返回计数器快照
func (c *Coordinator) Stats() Stats {
	return Stats{Retries: c.retries.Load(), Failures: c.failures.Load()}
}

// Do 执行 fn，瞬时错误按策略重试。
// 重试耗尽且根因为 RESOURCE_EXHAUSTED 时包装为 RATE_LIMIT_EXHAUSTED，否则返回最后一次的原始错误。
// 父 ctx 结束时不再发起新的尝试。
func (c *Coordinator) Do(ctx context.Context, fn func() error) error {
	_, err := DoTyped(c, ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (c *Coordinator) run(ctx context.Context, fn func() error) error {
	p := c.policy
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		code := Classify(err)
		if code.Kind() != types.KindTransient {
			c.logger.Debug("terminal error, not retrying",
				zap.String("code", string(code)),
				zap.Error(err))
			return err
		}

		if attempt >= p.MaxAttempts {
			c.failures.Add(1)
			c.logger.Warn("retry attempts exhausted",
				zap.Int("attempts", attempt),
				zap.String("code", string(code)),
				zap.Error(err))
			if code == types.ErrResourceExhausted {
				return types.Errorf(types.ErrRateLimitExhausted,
					"rate limit still exhausted after %d attempts", attempt).WithCause(err)
			}
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, ctx.Err(), err)
		}

		a := Attempt{
			Index:    attempt,
			Backoff:  p.backoff(attempt),
			Adaptive: p.adaptive(attempt),
			Code:     code,
			Err:      err,
		}
		c.retries.Add(1)
		c.logger.Warn("retrying call",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.String("code", string(code)),
			zap.Duration("backoff", a.Backoff),
			zap.Duration("adaptive_delay", a.Adaptive),
			zap.Error(err))
		if p.OnRetry != nil {
			p.OnRetry(a)
		}

		timer := time.NewTimer(a.Delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
