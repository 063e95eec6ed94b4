package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/tokengate/types"
)

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{MaxConcurrency: 0, RequestsPerMinute: 10}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	// RPM 为 0 且未显式降级必须报错，不能静默退化
	_, err = New(Config{MaxConcurrency: 2}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConfig))
}

func TestGate_DegradedModeLogsWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g, err := New(Config{MaxConcurrency: 2, DisableRateWindow: true}, zap.New(core))
	require.NoError(t, err)

	assert.True(t, g.Degraded())
	assert.Equal(t, 1, logs.FilterMessage("rate window disabled, enforcing concurrency cap only").Len())

	// 降级模式仍然执行并发上限
	p1, err := g.Acquire(context.Background())
	require.NoError(t, err)
	p2, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p1.Release()
	p2.Release()
	assert.Equal(t, int64(0), g.Stats().InFlight)
}

func TestGate_ConcurrencyCap(t *testing.T) {
	const (
		maxConcurrency = 3
		calls          = 12
	)
	g, err := New(Config{MaxConcurrency: maxConcurrency, RequestsPerMinute: 1000}, zap.NewNop())
	require.NoError(t, err)

	var current, peak atomic.Int64
	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < calls; i++ {
		eg.Go(func() error {
			p, err := g.Acquire(ctx)
			if err != nil {
				return err
			}
			defer p.Release()

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrency))
	assert.Equal(t, int64(0), g.Stats().InFlight)
	assert.Positive(t, g.Stats().ConcurrencyWaits)
}

func TestGate_RateWindowBlocksUntilSlotExpires(t *testing.T) {
	window := 80 * time.Millisecond
	g, err := New(Config{MaxConcurrency: 10, RequestsPerMinute: 2, Window: window}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		p, err := g.Acquire(ctx)
		require.NoError(t, err)
		p.Release()
	}

	// 第三次必须等到第一条时间戳滑出窗口
	assert.GreaterOrEqual(t, time.Since(start), window)
	assert.Positive(t, g.Stats().RateWaits)
}

func TestGate_RateWindowCancelledWait(t *testing.T) {
	g, err := New(Config{MaxConcurrency: 1, RequestsPerMinute: 1, Window: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_WindowNeverExceedsLimit(t *testing.T) {
	const limit = 4
	window := 60 * time.Millisecond
	g, err := New(Config{MaxConcurrency: 16, RequestsPerMinute: limit, Window: window}, zap.NewNop())
	require.NoError(t, err)

	var mu sync.Mutex
	var stamps []time.Time

	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		eg.Go(func() error {
			p, err := g.Acquire(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			stamps = append(stamps, p.AcquiredAt)
			mu.Unlock()
			p.Release()
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	// 任意 limit+1 个连续准入的跨度都不小于窗口长度
	for i := limit; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-limit]), window-2*time.Millisecond,
			"admissions %d..%d fit inside one window", i-limit, i)
	}
}

func TestSlidingWindow_Reserve(t *testing.T) {
	w := newSlidingWindow(2, time.Second)
	base := time.Unix(1_700_000_000, 0)

	_, _, ok := w.reserve(base)
	assert.True(t, ok)
	_, _, ok = w.reserve(base.Add(100 * time.Millisecond))
	assert.True(t, ok)

	delay, inWindow, ok := w.reserve(base.Add(200 * time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 2, inWindow)
	assert.Equal(t, 800*time.Millisecond, delay)

	// 第一条时间戳到期后可以再次占用
	_, _, ok = w.reserve(base.Add(time.Second))
	assert.True(t, ok)
}
