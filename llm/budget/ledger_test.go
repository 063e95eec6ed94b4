package budget

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/tokengate/types"
)

func flatPricing(model string, in, out float64) PricingTable {
	return PricingTable{model: {{InputRate: in, OutputRate: out}}}
}

func TestLedger_TotalCostDeterministic(t *testing.T) {
	l := NewLedger(Config{Model: "flat", Pricing: flatPricing("flat", 4.0, 18.0)}, zap.NewNop())
	l.RecordUsage(1_000_000, 1_000_000)

	cost, err := l.TotalCost()
	require.NoError(t, err)
	assert.InDelta(t, 22.0, cost, 1e-9)
}

func TestLedger_TieredPricing(t *testing.T) {
	l := NewLedger(Config{Model: "Gemini-2.5-Pro"}, zap.NewNop())

	// 第一档：<= 200k 输入
	l.RecordUsage(200_000, 100_000)
	cost, err := l.TotalCost()
	require.NoError(t, err)
	assert.InDelta(t, 0.2*1.25+0.1*10, cost, 1e-9)

	// 越过档位上限后整体按第二档计价
	l.RecordUsage(1, 0)
	cost, err = l.TotalCost()
	require.NoError(t, err)
	assert.InDelta(t, 200_001/1e6*2.5+0.1*15, cost, 1e-9)
}

func TestLedger_UnsupportedModel(t *testing.T) {
	l := NewLedger(Config{Model: "gpt-unknown", LimitUSD: 1}, zap.NewNop())
	l.RecordUsage(10, 10)

	_, err := l.TotalCost()
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedModel, types.GetErrorCode(err))
	assert.True(t, types.IsKind(err, types.KindConfig))

	// CheckBudget 同样透传配置错误
	assert.Equal(t, types.ErrUnsupportedModel, types.GetErrorCode(l.CheckBudget()))
}

func TestLedger_NoMatchingTier(t *testing.T) {
	ten := int64(10)
	l := NewLedger(Config{
		Model:   "capped",
		Pricing: PricingTable{"capped": {{MaxInputTokens: &ten, InputRate: 1, OutputRate: 1}}},
	}, zap.NewNop())
	l.RecordUsage(11, 0)

	_, err := l.TotalCost()
	assert.Equal(t, types.ErrUnsupportedModel, types.GetErrorCode(err))
}

func TestLedger_NoBudgetDisablesChecks(t *testing.T) {
	l := NewLedger(Config{Model: "unpriced"}, zap.NewNop())
	l.RecordUsage(1_000_000, 1_000_000)

	pct, err := l.BudgetUsagePercent()
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)
	assert.NoError(t, l.CheckBudget())
}

func TestLedger_ThresholdEmittedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := NewLedger(Config{Model: "flat", LimitUSD: 10, Pricing: flatPricing("flat", 1, 0)}, zap.New(core))

	var alerts []Alert
	l.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	l.RecordUsage(8_100_000, 0) // 81%
	require.NoError(t, l.CheckBudget())
	l.RecordUsage(100_000, 0) // 82%，再次越过 80% 不重复告警
	require.NoError(t, l.CheckBudget())

	require.Len(t, alerts, 1)
	assert.Equal(t, 80.0, alerts[0].Threshold)
	assert.Equal(t, 1, logs.FilterMessage("budget threshold crossed").Len())
}

func TestLedger_MultipleThresholdsAscending(t *testing.T) {
	l := NewLedger(Config{Model: "flat", LimitUSD: 10, Pricing: flatPricing("flat", 1, 0),
		WarnThresholds: []float64{95, 80, 90}}, zap.NewNop())

	var got []float64
	l.OnAlert(func(a Alert) { got = append(got, a.Threshold) })

	l.RecordUsage(9_600_000, 0)
	require.NoError(t, l.CheckBudget())

	assert.Equal(t, []float64{80, 90, 95}, got)
	assert.Equal(t, []float64{80, 90, 95}, l.Snapshot().EmittedThresholds)
}

func TestLedger_ExceededIsSticky(t *testing.T) {
	l := NewLedger(Config{Model: "flat", LimitUSD: 1, Pricing: flatPricing("flat", 1, 0)}, zap.NewNop())

	l.RecordUsage(1_500_000, 0)
	err := l.CheckBudget()
	require.Error(t, err)
	assert.Equal(t, types.ErrBudgetExceeded, types.GetErrorCode(err))
	assert.True(t, strings.Contains(err.Error(), "current $1.5000 of limit $1.00"), err.Error())
	assert.False(t, types.IsRetryable(err))

	for i := 0; i < 3; i++ {
		assert.Equal(t, types.ErrBudgetExceeded, types.GetErrorCode(l.CheckBudget()))
	}
	assert.True(t, l.Exceeded())
	assert.True(t, l.Snapshot().Exceeded)
}

func TestLedger_ExactlyAtLimitNotExceeded(t *testing.T) {
	l := NewLedger(Config{Model: "flat", LimitUSD: 1, Pricing: flatPricing("flat", 1, 0)}, zap.NewNop())
	l.RecordUsage(1_000_000, 0)
	assert.NoError(t, l.CheckBudget())
}

func TestLedger_ConcurrentRecordUsage(t *testing.T) {
	l := NewLedger(Config{Model: "gemini-2.5-flash"}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.RecordUsage(3, 2)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, types.TokenUsage{InputTokens: 15_000, OutputTokens: 10_000}, l.Usage())
}

func TestLedger_NegativeUsageIgnored(t *testing.T) {
	l := NewLedger(Config{Model: "gemini-2.5-flash"}, zap.NewNop())
	l.RecordUsage(-5, -1)
	assert.Equal(t, types.TokenUsage{}, l.Usage())
}

func TestSnapshot_String(t *testing.T) {
	l := NewLedger(Config{Model: "flat", LimitUSD: 10, Pricing: flatPricing("flat", 1, 0)}, zap.NewNop())
	l.RecordUsage(1_000_000, 0)
	assert.Equal(t, "flat: in=1000000 out=0 cost=$1.0000 (10.0% of $10.00)", l.Snapshot().String())
}
