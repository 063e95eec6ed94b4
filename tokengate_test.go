package tokengate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/tokengate/agent/strategy"
	"github.com/BaSui01/tokengate/config"
	"github.com/BaSui01/tokengate/internal/metrics"
	"github.com/BaSui01/tokengate/llm/dispatch"
	tgtest "github.com/BaSui01/tokengate/testutil"
	"github.com/BaSui01/tokengate/testutil/fixtures"
	"github.com/BaSui01/tokengate/testutil/mocks"
	"github.com/BaSui01/tokengate/types"
)

const testModel = "flat-model"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Dispatch.Model = testModel
	cfg.Dispatch.MaxConcurrency = 2
	cfg.Dispatch.RequestsPerMinute = 1000
	cfg.Dispatch.Timeout = time.Second
	cfg.Retry.Unit = time.Millisecond
	cfg.Retry.Jitter = false
	cfg.Pricing = map[string][]config.PricingTierConfig{
		testModel: {{InputRate: 1, OutputRate: 2}},
	}
	cfg.Cache.Enabled = false
	cfg.Cache.ManifestPath = tgtest.TempManifestPath(t)
	cfg.Cache.MinTokens = 10
	cfg.Strategy.Iterations = 12
	cfg.Strategy.Actions = []string{"concise", "detailed"}
	return cfg
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testConfig(t), nil)
	tgtest.AssertErrorCode(t, err, types.ErrInvalidConfig)

	cfg := testConfig(t)
	cfg.Dispatch.MaxConcurrency = 0
	_, err = New(cfg, mocks.NewMockTransport())
	tgtest.AssertErrorCode(t, err, types.ErrInvalidConfig)
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	s, err := New(nil, mocks.NewMockTransport(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "gemini-2.5-pro", s.Snapshot().Model)
	// MockTransport 不提供上下文服务，缓存自动关闭
	assert.Nil(t, s.Cache())
}

func TestSession_ConcurrentCallsAccumulateCost(t *testing.T) {
	tr := mocks.NewMockTransport().WithTokenUsage(1000, 500).WithDelay(10 * time.Millisecond)
	s, err := New(testConfig(t), tr)
	require.NoError(t, err)
	defer s.Close()

	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			_, err := s.Execute(ctx, dispatch.CallSpec{Payload: dispatch.Payload{Contents: "hello"}})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.LessOrEqual(t, tr.PeakConcurrency(), 2)
	snap := s.Snapshot()
	assert.Equal(t, int64(4000), snap.InputTokens)
	assert.Equal(t, int64(2000), snap.OutputTokens)
	assert.InDelta(t, 0.008, snap.CostUSD, 1e-12)
	assert.Equal(t, int64(0), s.Gate().Stats().InFlight)
}

func TestSession_ExecuteCached_MissThenHit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	svc := mocks.NewMockContextService()
	tr := mocks.NewMockTransport()
	s, err := New(cfg, tr, WithContextService(svc))
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.Cache())

	req := CallRequest{
		Instructions: "answer from the document",
		Context:      strings.Repeat("x", 400),
		Prompt:       "what is x?",
	}
	ctx := tgtest.TestContext(t)

	res, err := s.ExecuteCached(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	first, ok := tr.LastCall()
	require.True(t, ok)
	assert.Equal(t, "cachedContents/mock-1", first.CachedContent)
	assert.Equal(t, "what is x?", first.Contents)
	assert.Empty(t, first.SystemInstruction)

	res, err = s.ExecuteCached(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 1, svc.CreateCount())

	stats := s.Cache().Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Created)
}

func TestSession_ExecuteCached_CreationFailureProceedsInline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	svc := mocks.NewMockContextService().
		WithCreateError(types.NewError(types.ErrResourceExhausted, "quota"))
	tr := mocks.NewMockTransport()
	core, logs := observer.New(zap.WarnLevel)
	s, err := New(cfg, tr, WithContextService(svc), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ExecuteCached(tgtest.TestContext(t), CallRequest{
		Instructions: "sys",
		Context:      strings.Repeat("y", 400),
		Prompt:       "q",
	})
	require.NoError(t, err)

	p, _ := tr.LastCall()
	assert.Empty(t, p.CachedContent)
	assert.Equal(t, "sys", p.SystemInstruction)
	assert.Equal(t, strings.Repeat("y", 400)+"\n\nq", p.Contents)
	assert.Equal(t, 1, logs.FilterMessage("context cache unavailable, proceeding without handle").Len())
}

func TestSession_ExecuteCached_BelowThresholdSkipsCreation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.MinTokens = 1_000_000
	svc := mocks.NewMockContextService()
	tr := mocks.NewMockTransport()
	s, err := New(cfg, tr, WithContextService(svc))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ExecuteCached(tgtest.TestContext(t), CallRequest{Context: "short", Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, 0, svc.CreateCount())
	assert.Equal(t, int64(1), s.Cache().Stats().Skipped)
	p, _ := tr.LastCall()
	assert.Equal(t, "short\n\nq", p.Contents)
}

func TestSession_BudgetStopsFurtherCalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.Budget.LimitUSD = 0.001
	tr := mocks.NewMockTransport().WithTokenUsage(2000, 0)
	s, err := New(cfg, tr)
	require.NoError(t, err)
	defer s.Close()

	ctx := tgtest.TestContext(t)
	res, err := s.Execute(ctx, dispatch.CallSpec{})
	require.NotNil(t, res)
	tgtest.AssertErrorCode(t, err, types.ErrBudgetExceeded)

	_, err = s.Execute(ctx, dispatch.CallSpec{})
	tgtest.AssertErrorKind(t, err, types.KindBudget)
	assert.Equal(t, 1, tr.CallCount())
	assert.True(t, s.Snapshot().Exceeded)
}

func scoredSimulator(scores map[string]float64) strategy.Simulator {
	return strategy.SimulatorFunc(func(_ context.Context, action string, _ strategy.Task) (float64, error) {
		return scores[action], nil
	})
}

func TestSession_OptimizeOrRoute(t *testing.T) {
	deep := strategy.DeepSearcherFunc(func(_ context.Context, _ strategy.Task) (*strategy.Outcome, error) {
		return &strategy.Outcome{BestAction: "chain-of-thought", Score: 0.9}, nil
	})
	s, err := New(testConfig(t), mocks.NewMockTransport(),
		WithSimulator(scoredSimulator(map[string]float64{"concise": 0.2, "detailed": 0.8})),
		WithDeepSearcher(deep))
	require.NoError(t, err)
	defer s.Close()
	ctx := tgtest.TestContext(t)

	d, err := s.OptimizeOrRoute(ctx, fixtures.FastTask(), strategy.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, strategy.ModeFast, d.Optimizer)
	assert.Equal(t, "detailed", d.BestAction)

	d, err = s.OptimizeOrRoute(ctx, fixtures.DeepTask(), strategy.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, strategy.ModeDeep, d.Optimizer)
	assert.Equal(t, "chain-of-thought", d.BestAction)

	d, err = s.OptimizeOrRoute(ctx, fixtures.DeepTask(), strategy.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, strategy.ModeFast, d.Optimizer)

	_, err = s.OptimizeOrRoute(ctx, fixtures.FastTask(), strategy.Mode("turbo"))
	tgtest.AssertErrorCode(t, err, types.ErrInvalidRequest)

	assert.Equal(t, strategy.ModeDeep, s.Classify(fixtures.LongTask()))
}

func TestSession_DeepWithoutSearcher(t *testing.T) {
	s, err := New(testConfig(t), mocks.NewMockTransport(), WithSimulator(scoredSimulator(nil)))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.OptimizeOrRoute(tgtest.TestContext(t), fixtures.DeepTask(), strategy.ModeDeep)
	tgtest.AssertErrorCode(t, err, types.ErrInvalidConfig)
}

func TestSession_DispatchBackedSearch(t *testing.T) {
	tr := mocks.NewMockTransport().WithCallFunc(func(_ context.Context, p dispatch.Payload) (*dispatch.Response, error) {
		if p.SystemInstruction == "detailed" {
			return fixtures.StopResponse("a long and thorough answer", 10, 5), nil
		}
		return fixtures.StopResponse("", 10, 0), nil
	})
	s, err := New(testConfig(t), tr)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.OptimizeOrRoute(tgtest.TestContext(t), fixtures.FastTask(), strategy.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, "detailed", d.BestAction)
	assert.Equal(t, 12, tr.CallCount())
	// 搜索调用同样计入台账
	assert.Equal(t, int64(120), s.Snapshot().InputTokens)
}

func TestSession_NoActionsMakesNoCalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategy.Actions = nil
	tr := mocks.NewMockTransport()
	s, err := New(cfg, tr)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.OptimizeOrRoute(tgtest.TestContext(t), fixtures.FastTask(), strategy.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, strategy.RootAction, d.BestAction)
	assert.Zero(t, tr.CallCount())
	assert.Zero(t, s.Snapshot().InputTokens)
}

func TestSession_Collector(t *testing.T) {
	collector := metrics.NewCollector("tokengate_session_test", zap.NewNop())
	s, err := New(testConfig(t), mocks.NewMockTransport(),
		WithCollector(collector),
		WithSimulator(scoredSimulator(map[string]float64{"concise": 1})))
	require.NoError(t, err)
	defer s.Close()
	ctx := tgtest.TestContext(t)

	_, err = s.Execute(ctx, dispatch.CallSpec{})
	require.NoError(t, err)
	_, err = s.OptimizeOrRoute(ctx, fixtures.FastTask(), strategy.ModeFast)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "tokengate_session_test_llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(prometheus.DefaultGatherer, "tokengate_session_test_strategy_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
