package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ManifestEntry 清单条目
type ManifestEntry struct {
	Name       string `json:"name"`
	Created    string `json:"created"`               // RFC3339
	TTLMinutes *int   `json:"ttl_minutes,omitempty"` // nil 时使用调用方默认值
}

// CreatedAt 解析创建时间
func (e ManifestEntry) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Created)
}

// Expired 条目是否过期。时间戳无法解析视为过期。
func (e ManifestEntry) Expired(now time.Time, defaultTTLMinutes int) bool {
	created, err := e.CreatedAt()
	if err != nil {
		return true
	}
	ttl := defaultTTLMinutes
	if e.TTLMinutes != nil {
		ttl = *e.TTLMinutes
	}
	return now.Sub(created) > time.Duration(ttl)*time.Minute
}

// Manifest 指纹 -> 条目
type Manifest map[string]ManifestEntry

// ManifestStore 清单存储。Update 对整个清单做读-改-写。
type ManifestStore interface {
	Load(ctx context.Context) (Manifest, error)
	Update(ctx context.Context, fn func(Manifest) error) error
}

// FileStore 以单个 JSON 文件保存清单。
// 文件缺失或损坏视为空清单；写入先落临时文件再 rename。
// 进程内写入串行，多进程并发写入会丢失更新。
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore 创建文件清单存储
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger.With(zap.String("component", "manifest_file")),
	}
}

// Path 返回清单文件路径
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

func (s *FileStore) Update(ctx context.Context, fn func(Manifest) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.read()
	if err := fn(m); err != nil {
		return err
	}
	return s.write(m)
}

func (s *FileStore) read() Manifest {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("manifest unreadable, treating as empty", zap.String("path", s.path), zap.Error(err))
		}
		return Manifest{}
	}

	m := Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("manifest corrupt, treating as empty", zap.String("path", s.path), zap.Error(err))
		return Manifest{}
	}
	if m == nil {
		m = Manifest{}
	}
	return m
}

func (s *FileStore) write(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
