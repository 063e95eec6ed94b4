// MockContextService 远端上下文服务的测试模拟实现。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/tokengate/llm/cache"
	"github.com/BaSui01/tokengate/types"
)

// MockContextService 是 cache.ContextService 的模拟实现
type MockContextService struct {
	mu sync.Mutex

	contexts  map[string]*cache.Handle
	createErr error
	getErr    error
	seq       int
	creates   []cache.CreateRequest
}

// NewMockContextService 创建新的 MockContextService
func NewMockContextService() *MockContextService {
	return &MockContextService{contexts: make(map[string]*cache.Handle)}
}

// WithCreateError 设置创建错误
func (m *MockContextService) WithCreateError(err error) *MockContextService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
	return m
}

// WithGetError 设置查询错误
func (m *MockContextService) WithGetError(err error) *MockContextService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
	return m
}

// CreateContext 实现 cache.ContextService
func (m *MockContextService) CreateContext(_ context.Context, req cache.CreateRequest) (*cache.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates = append(m.creates, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.seq++
	h := &cache.Handle{
		Name:       fmt.Sprintf("cachedContents/mock-%d", m.seq),
		Model:      req.Model,
		ExpireTime: time.Now().Add(time.Duration(req.TTLMinutes) * time.Minute),
	}
	m.contexts[h.Name] = h
	cp := *h
	return &cp, nil
}

// GetContext 实现 cache.ContextService
func (m *MockContextService) GetContext(_ context.Context, name string) (*cache.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	h, ok := m.contexts[name]
	if !ok {
		return nil, types.Errorf(types.ErrInvalidRequest, "context %q not found", name)
	}
	cp := *h
	return &cp, nil
}

// Delete 模拟远端上下文过期
func (m *MockContextService) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, name)
}

// CreateCount 返回创建请求次数（含失败）
func (m *MockContextService) CreateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates)
}

// Creates 返回创建请求副本
func (m *MockContextService) Creates() []cache.CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cache.CreateRequest(nil), m.creates...)
}

var _ cache.ContextService = (*MockContextService)(nil)
