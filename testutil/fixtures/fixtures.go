// =============================================================================
// 📦 测试数据工厂
// =============================================================================
// 提供预定义的响应、任务与价格表，用于测试
// =============================================================================
package fixtures

import (
	"strings"

	"github.com/BaSui01/tokengate/agent/strategy"
	"github.com/BaSui01/tokengate/llm/budget"
	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/types"
)

// =============================================================================
// 🎯 Response 工厂
// =============================================================================

// StopResponse 正常结束的响应
func StopResponse(text string, input, output int) *dispatch.Response {
	return &dispatch.Response{
		Text:         text,
		FinishReason: dispatch.FinishStop,
		Usage:        types.TokenUsage{InputTokens: input, OutputTokens: output},
	}
}

// BlockedResponse 被安全策略拦截的响应
func BlockedResponse() *dispatch.Response {
	return &dispatch.Response{FinishReason: dispatch.FinishSafety, Usage: types.TokenUsage{InputTokens: 10}}
}

// =============================================================================
// 📋 Task 工厂
// =============================================================================

// FastTask 短小、无分析意图的任务
func FastTask() strategy.Task {
	return strategy.Task{ID: "task-fast", Description: "extract the invoice number"}
}

// DeepTask 含比较意图的任务
func DeepTask() strategy.Task {
	return strategy.Task{ID: "task-deep", Description: "compare the two contracts and explain the differences"}
}

// LongTask 超过词数上限的任务
func LongTask() strategy.Task {
	return strategy.Task{ID: "task-long", Description: strings.Repeat("clause ", strategy.DefaultMaxFastWords+1)}
}

// =============================================================================
// 💰 价格表
// =============================================================================

// FlatPricing 单档价格表，便于手算成本
func FlatPricing(model string, inputRate, outputRate float64) budget.PricingTable {
	return budget.PricingTable{
		strings.ToLower(model): {{InputRate: inputRate, OutputRate: outputRate}},
	}
}
