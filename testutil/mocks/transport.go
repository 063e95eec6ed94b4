// MockTransport 生成服务传输的测试模拟实现。
//
// 支持固定响应、延迟、错误注入与前 N 次失败场景，并统计峰值并发。
package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/types"
)

// MockTransport 是 dispatch.Transport 的模拟实现
type MockTransport struct {
	mu sync.Mutex

	// 响应配置
	text         string
	finishReason dispatch.FinishReason
	usage        types.TokenUsage
	err          error
	callFunc     func(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error)

	// 行为控制
	delay     time.Duration
	failFirst int
	failErr   error

	// 调用记录
	calls    []dispatch.Payload
	counted  []string
	current  atomic.Int64
	peak     atomic.Int64
	callsNum atomic.Int64
}

// NewMockTransport 创建新的 MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		text:         "Mock response",
		finishReason: dispatch.FinishStop,
		usage:        types.TokenUsage{InputTokens: 10, OutputTokens: 20},
	}
}

// WithText 设置固定响应内容
func (m *MockTransport) WithText(text string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return m
}

// WithFinishReason 设置结束原因
func (m *MockTransport) WithFinishReason(reason dispatch.FinishReason) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishReason = reason
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockTransport) WithTokenUsage(input, output int) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = types.TokenUsage{InputTokens: input, OutputTokens: output}
	return m
}

// WithError 每次调用都返回该错误
func (m *MockTransport) WithError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailFirst 前 n 次调用返回 err，之后正常响应
func (m *MockTransport) WithFailFirst(n int, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	m.failErr = err
	return m
}

// WithDelay 设置响应延迟，延迟期间响应 ctx 取消
func (m *MockTransport) WithDelay(d time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCallFunc 设置自定义调用函数
func (m *MockTransport) WithCallFunc(fn func(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callFunc = fn
	return m
}

// Call 实现 dispatch.Transport
func (m *MockTransport) Call(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error) {
	n := m.callsNum.Add(1)
	cur := m.current.Add(1)
	defer m.current.Add(-1)
	for {
		old := m.peak.Load()
		if cur <= old || m.peak.CompareAndSwap(old, cur) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, p)
	delay, fn := m.delay, m.callFunc
	failFirst, failErr, err := m.failFirst, m.failErr, m.err
	resp := &dispatch.Response{Text: m.text, FinishReason: m.finishReason, Usage: m.usage}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if int(n) <= failFirst {
		return nil, failErr
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, p)
	}
	return resp, nil
}

// CountTokens 按 4 字节一个 token 估算
func (m *MockTransport) CountTokens(ctx context.Context, content string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.counted = append(m.counted, content)
	m.mu.Unlock()
	return (len(content) + 3) / 4, nil
}

// --- 查询方法 ---

// CallCount 返回调用次数
func (m *MockTransport) CallCount() int {
	return int(m.callsNum.Load())
}

// PeakConcurrency 返回观察到的最大同时调用数
func (m *MockTransport) PeakConcurrency() int {
	return int(m.peak.Load())
}

// Calls 返回所有调用负载的副本
func (m *MockTransport) Calls() []dispatch.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.Payload(nil), m.calls...)
}

// LastCall 返回最后一次调用负载
func (m *MockTransport) LastCall() (dispatch.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return dispatch.Payload{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// CountedContents 返回 CountTokens 收到的内容
func (m *MockTransport) CountedContents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.counted...)
}

var _ dispatch.Transport = (*MockTransport)(nil)
