// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tokengate.yaml")

	yamlContent := `
dispatch:
  model: "gemini-3-pro-preview"
  max_concurrency: 2
  requests_per_minute: 10
  timeout: 30s

budget:
  limit_usd: 25.5
  warn_thresholds: [50, 75]

pricing:
  gemini-3-pro-preview:
    - max_input_tokens: 200000
      input_rate: 2.0
      output_rate: 12.0
    - max_input_tokens: null
      input_rate: 4.0
      output_rate: 18.0

cache:
  backend: redis
  ttl_minutes: 15

strategy:
  iterations: 40
  actions: ["concise", "step_by_step", "table"]
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini-3-pro-preview", cfg.Dispatch.Model)
	assert.Equal(t, 2, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 10, cfg.Dispatch.RequestsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	// 未覆盖的字段保留默认值
	assert.Equal(t, time.Minute, cfg.Dispatch.RateWindow)

	assert.Equal(t, 25.5, cfg.Budget.LimitUSD)
	assert.Equal(t, []float64{50, 75}, cfg.Budget.WarnThresholds)

	tiers := cfg.Pricing["gemini-3-pro-preview"]
	require.Len(t, tiers, 2)
	require.NotNil(t, tiers[0].MaxInputTokens)
	assert.Equal(t, int64(200000), *tiers[0].MaxInputTokens)
	assert.Nil(t, tiers[1].MaxInputTokens)
	assert.Equal(t, 18.0, tiers[1].OutputRate)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 15, cfg.Cache.TTLMinutes)
	assert.Equal(t, 40, cfg.Strategy.Iterations)
	assert.Equal(t, []string{"concise", "step_by_step", "table"}, cfg.Strategy.Actions)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("TOKENGATE_DISPATCH_MAX_CONCURRENCY", "7")
	t.Setenv("TOKENGATE_DISPATCH_RATE_WINDOW", "30s")
	t.Setenv("TOKENGATE_BUDGET_LIMIT_USD", "12.5")
	t.Setenv("TOKENGATE_BUDGET_WARN_THRESHOLDS", "60, 85")
	t.Setenv("TOKENGATE_STRATEGY_ACTIONS", "a, b")
	t.Setenv("TOKENGATE_RETRY_JITTER", "false")
	t.Setenv("TOKENGATE_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.RateWindow)
	assert.Equal(t, 12.5, cfg.Budget.LimitUSD)
	assert.Equal(t, []float64{60, 85}, cfg.Budget.WarnThresholds)
	assert.Equal(t, []string{"a", "b"}, cfg.Strategy.Actions)
	assert.False(t, cfg.Retry.Jitter)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tokengate.yaml")

	yamlContent := `
dispatch:
  model: "yaml-model"
  max_concurrency: 3
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("TOKENGATE_DISPATCH_MAX_CONCURRENCY", "9")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, 9, cfg.Dispatch.MaxConcurrency)
	// YAML 值应该保留
	assert.Equal(t, "yaml-model", cfg.Dispatch.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_DISPATCH_MODEL", "custom-model")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, "custom-model", cfg.Dispatch.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("TOKENGATE_BUDGET_WARN_THRESHOLDS", "80,abc")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Dispatch.MaxConcurrency > 8 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("TOKENGATE_DISPATCH_MAX_CONCURRENCY", "64")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/tokengate.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.Dispatch.Model)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
dispatch:
  max_concurrency: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{
			name:    "missing model",
			modify:  func(c *Config) { c.Dispatch.Model = "" },
			wantErr: "dispatch.model",
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Dispatch.MaxConcurrency = 0 },
			wantErr: "max_concurrency",
		},
		{
			name:    "zero rpm without explicit degraded mode",
			modify:  func(c *Config) { c.Dispatch.RequestsPerMinute = 0 },
			wantErr: "requests_per_minute",
		},
		{
			name: "zero rpm with degraded mode",
			modify: func(c *Config) {
				c.Dispatch.RequestsPerMinute = 0
				c.Dispatch.DisableRateWindow = true
			},
		},
		{
			name:    "descending thresholds",
			modify:  func(c *Config) { c.Budget.WarnThresholds = []float64{90, 80} },
			wantErr: "ascending",
		},
		{
			name:    "threshold out of range",
			modify:  func(c *Config) { c.Budget.WarnThresholds = []float64{120} },
			wantErr: "(0, 100]",
		},
		{
			name:    "unknown cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "s3" },
			wantErr: "cache.backend",
		},
		{
			name:    "backoff bounds inverted",
			modify:  func(c *Config) { c.Retry.MinBackoff = 20 },
			wantErr: "min_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("dispatch: [oops"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}
