package tokenizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 是统一的本地 Token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// 全局分词器注册表.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[strings.ToLower(model)] = t
}

// GetTokenizer 返回为给定模型注册的分词器。
// 也尝试前缀匹配(如 "gemini-2.5" 匹配 "gemini-2.5-flash")，取最长前缀.
func GetTokenizer(model string) (Tokenizer, error) {
	model = strings.ToLower(model)

	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	var (
		best    Tokenizer
		bestLen int
	)
	for prefix, t := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 返回该模型的注册分词器,
// 如果没有登记,则回到通用估算器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}

// Counter 把本地 Tokenizer 适配为带 context 的计数器，
// 与远端 count_tokens 接口形状一致，可互换使用.
type Counter struct {
	Tokenizer Tokenizer
}

// NewCounter 为模型创建本地计数器
func NewCounter(model string) *Counter {
	return &Counter{Tokenizer: GetTokenizerOrEstimator(model)}
}

// CountTokens 本地计数不阻塞，仅在 ctx 已结束时返回错误
func (c *Counter) CountTokens(ctx context.Context, content string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Tokenizer.CountTokens(content)
}
