package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/tokengate/types"
)

// fastPolicy 以毫秒为单位，保持默认的 3 次尝试与延迟公式
func fastPolicy() *Policy {
	p := DefaultPolicy()
	p.Unit = time.Millisecond
	return p
}

func TestCoordinator_SuccessFirstTry(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	callCount := 0
	err := c.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCoordinator_FailOnceThenSucceed(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	callCount := 0
	err := c.Do(context.Background(), func() error {
		callCount++
		if callCount == 1 {
			return types.NewError(types.ErrServiceUnavailable, "503")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, callCount)
	assert.Equal(t, int64(1), c.Stats().Retries)
	assert.Equal(t, int64(0), c.Stats().Failures)
}

func TestCoordinator_ExhaustsAfterThreeAttempts(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	callCount := 0
	unavailable := types.NewError(types.ErrServiceUnavailable, "still down")
	err := c.Do(context.Background(), func() error {
		callCount++
		return unavailable
	})

	require.Error(t, err)
	assert.Equal(t, 3, callCount, "首次 + 2 次重试")
	assert.Same(t, unavailable, err, "非限流根因原样返回")
	assert.Equal(t, Stats{Retries: 2, Failures: 1}, c.Stats())
}

func TestCoordinator_ResourceExhaustedWrapped(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	quota := types.NewError(types.ErrResourceExhausted, "429 quota")
	err := c.Do(context.Background(), func() error {
		return quota
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimitExhausted, types.GetErrorCode(err))
	assert.True(t, types.IsKind(err, types.KindRateLimitExhausted))
	assert.ErrorIs(t, err, quota)
	assert.False(t, types.IsRetryable(err))
}

func TestCoordinator_TerminalNotRetried(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	for _, terminal := range []error{
		types.NewError(types.ErrContentBlocked, "safety"),
		types.NewError(types.ErrInvalidRequest, "bad payload"),
		errors.New("plain failure"),
	} {
		callCount := 0
		err := c.Do(context.Background(), func() error {
			callCount++
			return terminal
		})
		assert.Same(t, terminal, err)
		assert.Equal(t, 1, callCount, "不应该重试: %v", terminal)
	}
	assert.Equal(t, int64(0), c.Stats().Retries)
}

func TestCoordinator_RetriesLocalTimeout(t *testing.T) {
	c := NewCoordinator(fastPolicy(), zap.NewNop())

	callCount := 0
	err := c.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return fmt.Errorf("call: %w", context.DeadlineExceeded)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestCoordinator_ParentContextCancelled(t *testing.T) {
	p := DefaultPolicy()
	p.Unit = 50 * time.Millisecond
	c := NewCoordinator(p, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := c.Do(ctx, func() error {
		callCount++
		return types.NewError(types.ErrServiceUnavailable, "down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount, "退避期间取消不应再次调用")
}

func TestCoordinator_OnRetryReceivesAttempt(t *testing.T) {
	p := fastPolicy()
	p.Jitter = false
	var seen []Attempt
	p.OnRetry = func(a Attempt) { seen = append(seen, a) }
	c := NewCoordinator(p, zap.NewNop())

	_ = c.Do(context.Background(), func() error {
		return types.NewError(types.ErrResourceExhausted, "429")
	})

	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Index)
	assert.Equal(t, types.ErrResourceExhausted, seen[0].Code)
	assert.Equal(t, 2*time.Millisecond, seen[0].Backoff)
	assert.Equal(t, 2*time.Millisecond, seen[0].Adaptive)
	assert.Equal(t, 4*time.Millisecond, seen[1].Backoff)
	assert.Equal(t, 4*time.Millisecond, seen[1].Adaptive)
	assert.Equal(t, 8*time.Millisecond, seen[1].Delay())
}

func TestCoordinator_LogsEachRetry(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := NewCoordinator(fastPolicy(), zap.New(core))

	_ = c.Do(context.Background(), func() error {
		return types.NewError(types.ErrTimeout, "slow")
	})

	assert.Equal(t, 2, logs.FilterMessage("retrying call").Len())
	assert.Equal(t, 1, logs.FilterMessage("retry attempts exhausted").Len())
}

func TestPolicy_BackoffBounds(t *testing.T) {
	p := DefaultPolicy()
	p.normalize()

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.backoff(attempt)
			assert.GreaterOrEqual(t, d, 2*time.Second)
			assert.LessOrEqual(t, d, 10*time.Second)
		}
	}
}

func TestPolicy_AdaptiveDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second}, // 达到上限
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.adaptive(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNewCoordinator_NormalizesPolicy(t *testing.T) {
	c := NewCoordinator(&Policy{MaxAttempts: -1, MinBackoff: 5, MaxBackoff: 1}, nil)
	p := c.Policy()

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Unit)
	assert.GreaterOrEqual(t, p.MaxBackoff, p.MinBackoff)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"nil", nil, ""},
		{"structured", types.NewError(types.ErrResourceExhausted, "429"), types.ErrResourceExhausted},
		{"wrapped structured", fmt.Errorf("x: %w", types.NewError(types.ErrContentBlocked, "b")), types.ErrContentBlocked},
		{"deadline", context.DeadlineExceeded, types.ErrTimeout},
		{"canceled", context.Canceled, types.ErrCancelled},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, types.ErrTimeout},
		{"plain", errors.New("boom"), types.ErrUpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			if tt.want != types.ErrUpstreamError {
				// 遥测与缓存使用 GetErrorCode，两者必须给出同一个码
				assert.Equal(t, tt.want, types.GetErrorCode(tt.err))
			}
		})
	}
	assert.True(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("boom")))
}
