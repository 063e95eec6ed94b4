package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

// Handle 远端上下文句柄
type Handle struct {
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Model       string    `json:"model,omitempty"`
	ExpireTime  time.Time `json:"expire_time,omitempty"`
}

// CreateRequest 创建远端上下文的请求
type CreateRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	Payload      string `json:"payload"`
	DisplayName  string `json:"display_name,omitempty"`
	TTLMinutes   int    `json:"ttl_minutes"`
}

// Content 拼接后的完整内容
func (r CreateRequest) Content() string {
	return CombineContent(r.Instructions, r.Payload)
}

// ContextService 远端上下文服务
type ContextService interface {
	// CreateContext 创建上下文并返回句柄
	CreateContext(ctx context.Context, req CreateRequest) (*Handle, error)
	// GetContext 按名解析已存在的上下文
	GetContext(ctx context.Context, name string) (*Handle, error)
}

// TokenCounter 内容 Token 计数
type TokenCounter interface {
	CountTokens(ctx context.Context, content string) (int, error)
}

// Stats 管理器统计
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Created        int64 `json:"created"`
	Skipped        int64 `json:"skipped"` // 低于阈值未创建
	CreateFailures int64 `json:"create_failures"`
}

// Option 管理器选项
type Option func(*Manager)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultTTL 设置默认 TTL（分钟）
func WithDefaultTTL(minutes int) Option {
	return func(m *Manager) { m.defaultTTL = minutes }
}

// Manager 上下文缓存管理器
type Manager struct {
	store      ManifestStore
	service    ContextService
	counter    TokenCounter
	defaultTTL int
	now        func() time.Time
	logger     *zap.Logger

	hits, misses, created, skipped, createFailures atomic.Int64
}

// NewManager 创建管理器。service 与 counter 仅在创建上下文时需要。
func NewManager(store ManifestStore, service ContextService, counter TokenCounter, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:      store,
		service:    service,
		counter:    counter,
		defaultTTL: 60,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "context_cache")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stats 返回统计快照
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		Created:        m.created.Load(),
		Skipped:        m.skipped.Load(),
		CreateFailures: m.createFailures.Load(),
	}
}

func (m *Manager) ttlOrDefault(ttlMinutes int) int {
	if ttlMinutes <= 0 {
		return m.defaultTTL
	}
	return ttlMinutes
}

// Lookup 查找未过期的条目并按名解析句柄。任何失败都返回 nil。
func (m *Manager) Lookup(ctx context.Context, fingerprint string, ttlMinutes int) *Handle {
	manifest, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("manifest load failed", zap.Error(err))
		m.misses.Add(1)
		return nil
	}

	entry, ok := manifest[fingerprint]
	if !ok || entry.Expired(m.now(), m.ttlOrDefault(ttlMinutes)) {
		m.misses.Add(1)
		return nil
	}

	if m.service == nil {
		m.misses.Add(1)
		return nil
	}
	h, err := m.service.GetContext(ctx, entry.Name)
	if err != nil || h == nil {
		m.logger.Debug("context resolution failed, treating as miss",
			zap.String("name", entry.Name),
			zap.Error(err))
		m.misses.Add(1)
		return nil
	}
	if h.Fingerprint == "" {
		h.Fingerprint = fingerprint
	}

	m.hits.Add(1)
	return h
}

// Store 以当前时间写入条目
func (m *Manager) Store(ctx context.Context, fingerprint, name string, ttlMinutes int) error {
	ttl := m.ttlOrDefault(ttlMinutes)
	entry := ManifestEntry{
		Name:       name,
		Created:    m.now().UTC().Format(time.RFC3339),
		TTLMinutes: &ttl,
	}
	err := m.store.Update(ctx, func(manifest Manifest) error {
		manifest[fingerprint] = entry
		return nil
	})
	if err != nil {
		return fmt.Errorf("store manifest entry: %w", err)
	}
	return nil
}

// CreateIfWorthwhile 内容达到 thresholdTokens 时创建远端上下文并写入清单。
// 低于阈值返回 (nil, nil)。清单写入失败只记录日志，仍返回句柄。
func (m *Manager) CreateIfWorthwhile(ctx context.Context, req CreateRequest, thresholdTokens int) (*Handle, error) {
	if m.service == nil || m.counter == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "context cache has no context service or token counter")
	}

	content := req.Content()
	tokens, err := m.counter.CountTokens(ctx, content)
	if err != nil {
		m.createFailures.Add(1)
		return nil, m.creationError(err, "count tokens")
	}
	if tokens < thresholdTokens {
		m.skipped.Add(1)
		m.logger.Debug("content below cache threshold, skipping",
			zap.Int("tokens", tokens),
			zap.Int("threshold", thresholdTokens))
		return nil, nil
	}

	req.TTLMinutes = m.ttlOrDefault(req.TTLMinutes)
	fp := Fingerprint(content)
	if req.DisplayName == "" {
		req.DisplayName = "tokengate-" + fp[:12]
	}

	h, err := m.service.CreateContext(ctx, req)
	if err == nil && h == nil {
		err = fmt.Errorf("context service returned no handle")
	}
	if err != nil {
		m.createFailures.Add(1)
		return nil, m.creationError(err, "create context")
	}
	m.created.Add(1)
	h.Fingerprint = fp

	if err := m.Store(ctx, fp, h.Name, req.TTLMinutes); err != nil {
		m.logger.Warn("context created but manifest write failed",
			zap.String("name", h.Name),
			zap.Error(err))
	}

	m.logger.Info("context created",
		zap.String("name", h.Name),
		zap.Int("tokens", tokens),
		zap.Int("ttl_minutes", req.TTLMinutes))
	return h, nil
}

// GetOrCreate 先查清单，未命中再按阈值创建。hit 表示句柄来自清单。
func (m *Manager) GetOrCreate(ctx context.Context, req CreateRequest, thresholdTokens int) (h *Handle, hit bool, err error) {
	fp := Fingerprint(req.Content())
	if h := m.Lookup(ctx, fp, req.TTLMinutes); h != nil {
		return h, true, nil
	}
	h, err = m.CreateIfWorthwhile(ctx, req, thresholdTokens)
	return h, false, err
}

// Entries 返回当前清单
func (m *Manager) Entries(ctx context.Context) (Manifest, error) {
	return m.store.Load(ctx)
}

// Prune 删除过期或时间戳损坏的条目，返回删除数
func (m *Manager) Prune(ctx context.Context) (int, error) {
	now := m.now()
	removed := 0
	err := m.store.Update(ctx, func(manifest Manifest) error {
		removed = 0
		for fp, entry := range manifest {
			if entry.Expired(now, m.defaultTTL) {
				delete(manifest, fp)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune manifest: %w", err)
	}
	if removed > 0 {
		m.logger.Info("pruned expired manifest entries", zap.Int("removed", removed))
	}
	return removed, nil
}

// creationError 根因为 RESOURCE_EXHAUSTED 时归为 CACHE_RATE_LIMITED
func (m *Manager) creationError(err error, op string) error {
	code := types.ErrCacheCreationError
	if types.GetErrorCode(err) == types.ErrResourceExhausted {
		code = types.ErrCacheRateLimited
	}
	m.logger.Warn("context creation failed",
		zap.String("op", op),
		zap.String("code", string(code)),
		zap.Error(err))
	return types.Errorf(code, "%s failed", op).WithCause(err)
}
