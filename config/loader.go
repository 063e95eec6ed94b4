// =============================================================================
// 📦 tokengate 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("tokengate.yaml").
//	    WithEnvPrefix("TOKENGATE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 tokengate 的完整配置结构
type Config struct {
	// Dispatch 调度（并发 + RPM）配置
	Dispatch DispatchConfig `yaml:"dispatch" env:"DISPATCH"`

	// Retry 重试配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Budget 预算配置
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// Pricing 分级价格表，key 为模型标识（大小写不敏感）
	Pricing map[string][]PricingTierConfig `yaml:"pricing" env:"-"`

	// Cache 上下文缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 配置（cache.backend = redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Strategy 策略优化 / 路由配置
	Strategy StrategyConfig `yaml:"strategy" env:"STRATEGY"`

	// Transport HTTP 传输配置
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// DispatchConfig 调度器配置
type DispatchConfig struct {
	// 模型标识，同时用于价格表查找
	Model string `yaml:"model" env:"MODEL"`
	// 最大并发请求数
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 滚动窗口内允许的最大请求数
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	// 滚动窗口长度
	RateWindow time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
	// 显式关闭 RPM 窗口，仅保留并发上限
	DisableRateWindow bool `yaml:"disable_rate_window" env:"DISABLE_RATE_WINDOW"`
	// 单次传输调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 最大尝试次数（包含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 指数退避下限（单位数）
	MinBackoff float64 `yaml:"min_backoff" env:"MIN_BACKOFF"`
	// 指数退避上限（单位数）
	MaxBackoff float64 `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// 指数乘数
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 自适应延迟步长：step * attempt
	AdaptiveStep float64 `yaml:"adaptive_step" env:"ADAPTIVE_STEP"`
	// 自适应延迟上限
	AdaptiveCap float64 `yaml:"adaptive_cap" env:"ADAPTIVE_CAP"`
	// 时间单位
	Unit time.Duration `yaml:"unit" env:"UNIT"`
	// 是否启用随机抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// BudgetConfig 预算配置
type BudgetConfig struct {
	// 美元上限，0 表示不启用预算检查
	LimitUSD float64 `yaml:"limit_usd" env:"LIMIT_USD"`
	// 告警阈值（百分比，升序）
	WarnThresholds []float64 `yaml:"warn_thresholds" env:"WARN_THRESHOLDS"`
}

// PricingTierConfig 单个价格档位（USD / 百万 Token）
type PricingTierConfig struct {
	// 输入 Token 上限（包含），nil 表示无上限
	MaxInputTokens *int64 `yaml:"max_input_tokens" json:"max_input_tokens"`
	InputRate      float64 `yaml:"input_rate" json:"input_rate"`
	OutputRate     float64 `yaml:"output_rate" json:"output_rate"`
}

// CacheConfig 上下文缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 清单后端: file, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 清单文件路径
	ManifestPath string `yaml:"manifest_path" env:"MANIFEST_PATH"`
	// Redis 中的清单 key
	RedisKey string `yaml:"redis_key" env:"REDIS_KEY"`
	// 默认 TTL（分钟）
	TTLMinutes int `yaml:"ttl_minutes" env:"TTL_MINUTES"`
	// 低于该 Token 数不创建远端上下文
	MinTokens int `yaml:"min_tokens" env:"MIN_TOKENS"`
	// Token 计数方式: remote, local
	CountMode string `yaml:"count_mode" env:"COUNT_MODE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// StrategyConfig 策略配置
type StrategyConfig struct {
	// MCTS 迭代次数
	Iterations int `yaml:"iterations" env:"ITERATIONS"`
	// UCB1 探索常数
	Exploration float64 `yaml:"exploration" env:"EXPLORATION"`
	// 候选动作（模板 / 策略标识）
	Actions []string `yaml:"actions" env:"ACTIONS"`
	// 触发深度推理的关键词
	DeepKeywords []string `yaml:"deep_keywords" env:"DEEP_KEYWORDS"`
	// 超过该词数判定为深度任务
	MaxFastWords int `yaml:"max_fast_words" env:"MAX_FAST_WORDS"`
}

// TransportConfig HTTP 传输配置
type TransportConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 指标导出周期，0 使用 SDK 默认值
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 暴露 /metrics 的监听地址，空表示不暴露
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TOKENGATE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔，支持 []string 与 []float64
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch field.Type().Elem().Kind() {
		case reflect.String:
			field.Set(reflect.ValueOf(parts))
		case reflect.Float64:
			floats := make([]float64, 0, len(parts))
			for _, p := range parts {
				f, err := strconv.ParseFloat(p, 64)
				if err != nil {
					return err
				}
				floats = append(floats, f)
			}
			field.Set(reflect.ValueOf(floats))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Dispatch.Model == "" {
		errs = append(errs, "dispatch.model is required")
	}
	if c.Dispatch.MaxConcurrency <= 0 {
		errs = append(errs, "dispatch.max_concurrency must be positive")
	}
	if !c.Dispatch.DisableRateWindow && c.Dispatch.RequestsPerMinute <= 0 {
		errs = append(errs, "dispatch.requests_per_minute must be positive unless disable_rate_window is set")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if c.Retry.MinBackoff > c.Retry.MaxBackoff {
		errs = append(errs, "retry.min_backoff must not exceed retry.max_backoff")
	}
	if c.Budget.LimitUSD < 0 {
		errs = append(errs, "budget.limit_usd must not be negative")
	}
	for i, th := range c.Budget.WarnThresholds {
		if th <= 0 || th > 100 {
			errs = append(errs, "budget.warn_thresholds must be within (0, 100]")
			break
		}
		if i > 0 && th <= c.Budget.WarnThresholds[i-1] {
			errs = append(errs, "budget.warn_thresholds must be ascending")
			break
		}
	}
	switch c.Cache.Backend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend))
	}
	switch c.Cache.CountMode {
	case "remote", "local":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache.count_mode %q", c.Cache.CountMode))
	}
	if c.Strategy.Iterations <= 0 {
		errs = append(errs, "strategy.iterations must be positive")
	}
	if c.Strategy.Exploration < 0 {
		errs = append(errs, "strategy.exploration must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
