package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	internalcache "github.com/BaSui01/tokengate/internal/cache"
)

// DefaultRedisKey 清单在 Redis 中的默认 key
const DefaultRedisKey = "tokengate:cache:manifest"

// RedisStore 把整个清单作为一个 JSON 值存放在 Redis 中，
// 写入使用 WATCH 事务，多进程共享同一清单也不会丢失更新。
type RedisStore struct {
	redis  *internalcache.Manager
	key    string
	logger *zap.Logger
}

// NewRedisStore 连接 Redis 并创建清单存储
func NewRedisStore(cfg internalcache.Config, key string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr, err := internalcache.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("redis manifest store: %w", err)
	}
	return NewRedisStoreWithManager(mgr, key, logger), nil
}

// NewRedisStoreWithManager 复用已有连接
func NewRedisStoreWithManager(mgr *internalcache.Manager, key string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		redis:  mgr,
		key:    key,
		logger: logger.With(zap.String("component", "manifest_redis")),
	}
}

func (s *RedisStore) Load(ctx context.Context) (Manifest, error) {
	m := Manifest{}
	err := s.redis.GetJSON(ctx, s.key, &m)
	switch {
	case err == nil:
		if m == nil {
			m = Manifest{}
		}
		return m, nil
	case internalcache.IsCacheMiss(err):
		return Manifest{}, nil
	default:
		// 连接错误与损坏的值都按空清单处理
		s.logger.Warn("manifest unavailable, treating as empty", zap.String("key", s.key), zap.Error(err))
		return Manifest{}, nil
	}
}

func (s *RedisStore) Update(ctx context.Context, fn func(Manifest) error) error {
	return s.redis.Update(ctx, s.key, func(current string, exists bool) (string, error) {
		m := Manifest{}
		if exists {
			if err := json.Unmarshal([]byte(current), &m); err != nil {
				s.logger.Warn("manifest corrupt, treating as empty", zap.String("key", s.key), zap.Error(err))
				m = Manifest{}
			}
		}
		if m == nil {
			m = Manifest{}
		}
		if err := fn(m); err != nil {
			return "", err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("marshal manifest: %w", err)
		}
		return string(data), nil
	})
}

// Close 关闭底层连接
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
