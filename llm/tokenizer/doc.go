// Package tokenizer 提供本地 Token 计数：tiktoken 近似计数与 CJK 感知估算器，
// 用于在不调用远端 count_tokens 的情况下预估上下文大小。
package tokenizer
