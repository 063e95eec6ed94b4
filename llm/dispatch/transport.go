package dispatch

import (
	"context"

	"github.com/BaSui01/tokengate/types"
)

// FinishReason 生成结束原因
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishSafety FinishReason = "safety"
	FinishOther  FinishReason = "other"
)

// Accepted 只有 stop 与 length 视为正常完成
func (r FinishReason) Accepted() bool {
	return r == FinishStop || r == FinishLength
}

// Payload 出站请求负载
type Payload struct {
	Model             string   `json:"model"`
	SystemInstruction string   `json:"system_instruction,omitempty"`
	Contents          string   `json:"contents"`
	CachedContent     string   `json:"cached_content,omitempty"` // 远端上下文句柄名
	MaxOutputTokens   int      `json:"max_output_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
}

// Response 传输层响应
type Response struct {
	Text         string           `json:"text"`
	FinishReason FinishReason     `json:"finish_reason"`
	Usage        types.TokenUsage `json:"usage"`
}

// Transport 生成服务传输契约
type Transport interface {
	// Call 发起一次生成调用。ctx 携带单次尝试超时。
	Call(ctx context.Context, payload Payload) (*Response, error)
	// CountTokens 远端计数，不产生费用
	CountTokens(ctx context.Context, content string) (int, error)
}
