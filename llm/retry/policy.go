package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/BaSui01/tokengate/types"
)

// Policy 定义重试策略。
// 两段延迟叠加：带抖动的指数退避 + 按尝试序号增长的自适应延迟。
// 所有延迟以 Unit 为单位（生产默认 1s，测试可用 1ms）。
type Policy struct {
	MaxAttempts  int           // 最大尝试次数（包含首次）
	MinBackoff   float64       // 指数退避下限
	MaxBackoff   float64       // 指数退避上限
	Multiplier   float64       // 指数乘数
	AdaptiveStep float64       // 自适应延迟 = min(AdaptiveCap, AdaptiveStep*attempt)
	AdaptiveCap  float64       // 自适应延迟上限
	Unit         time.Duration // 时间单位
	Jitter       bool          // 关闭时退避取上界（测试用）
	OnRetry      func(Attempt) // 每次重试前回调
}

// Attempt 描述一次即将发生的重试，仅在一次逻辑调用内存在
type Attempt struct {
	Index    int             // 刚失败的尝试序号（从 1 开始）
	Backoff  time.Duration   // 指数退避部分
	Adaptive time.Duration   // 自适应延迟部分
	Code     types.ErrorCode // 触发重试的错误码
	Err      error
}

// Delay 本次重试前的总等待时长
func (a Attempt) Delay() time.Duration {
	return a.Backoff + a.Adaptive
}

// DefaultPolicy 返回默认策略：3 次尝试，退避 [2, 10] 秒，自适应 min(10, 2*n) 秒
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		MinBackoff:   2,
		MaxBackoff:   10,
		Multiplier:   1,
		AdaptiveStep: 2,
		AdaptiveCap:  10,
		Unit:         time.Second,
		Jitter:       true,
	}
}

// normalize 填充非法字段
func (p *Policy) normalize() {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MinBackoff < 0 {
		p.MinBackoff = 0
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.AdaptiveStep < 0 {
		p.AdaptiveStep = 0
	}
	if p.AdaptiveCap < 0 {
		p.AdaptiveCap = 0
	}
	if p.Unit <= 0 {
		p.Unit = d.Unit
	}
}

// backoff 指数退避：上界 min(max, mult*2^attempt)，在 [0, 上界] 内均匀抖动后夹到 [min, max]
func (p *Policy) backoff(attempt int) time.Duration {
	upper := math.Min(p.MaxBackoff, p.Multiplier*math.Pow(2, float64(attempt)))
	units := upper
	if p.Jitter {
		units = rand.Float64() * upper
	}
	units = math.Max(p.MinBackoff, math.Min(p.MaxBackoff, units))
	return time.Duration(units * float64(p.Unit))
}

// adaptive 自适应延迟，用于吸收服务端限流恢复时间
func (p *Policy) adaptive(attempt int) time.Duration {
	units := math.Min(p.AdaptiveCap, p.AdaptiveStep*float64(attempt))
	return time.Duration(units * float64(p.Unit))
}
