// =============================================================================
// 📦 tokengate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Dispatch:  DefaultDispatchConfig(),
		Retry:     DefaultRetryConfig(),
		Budget:    DefaultBudgetConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Strategy:  DefaultStrategyConfig(),
		Transport: DefaultTransportConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultDispatchConfig 返回默认调度配置
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Model:             "gemini-2.5-pro",
		MaxConcurrency:    5,
		RequestsPerMinute: 60,
		RateWindow:        time.Minute,
		Timeout:           120 * time.Second,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		MinBackoff:   2,
		MaxBackoff:   10,
		Multiplier:   1,
		AdaptiveStep: 2,
		AdaptiveCap:  10,
		Unit:         time.Second,
		Jitter:       true,
	}
}

// DefaultBudgetConfig 返回默认预算配置（不设上限）
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		LimitUSD:       0,
		WarnThresholds: []float64{80, 90, 95},
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		Backend:      "file",
		ManifestPath: ".tokengate/cache_manifest.json",
		RedisKey:     "tokengate:cache:manifest",
		TTLMinutes:   60,
		MinTokens:    4096,
		CountMode:    "remote",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultStrategyConfig 返回默认策略配置
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Iterations:   20,
		Exploration:  1.414,
		MaxFastWords: 50,
	}
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BaseURL: "http://localhost:8080",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "tokengate",
		SampleRate:     0.1,
		ExportInterval: 30 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "tokengate",
	}
}
