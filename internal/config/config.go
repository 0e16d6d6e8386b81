// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
	Workflow      WorkflowConfig      `yaml:"workflow" mapstructure:"workflow"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging        LoggingConfig        `yaml:"logging" mapstructure:"logging"`
	Tracing        TracingConfig        `yaml:"tracing" mapstructure:"tracing"`
	Metrics        MetricsConfig        `yaml:"metrics" mapstructure:"metrics"`
	ErrorReporting ErrorReportingConfig `yaml:"error_reporting" mapstructure:"error_reporting"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ErrorReportingConfig Sentry 错误上报配置
type ErrorReportingConfig struct {
	DSN        string  `yaml:"dsn" mapstructure:"dsn"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// WorkflowConfig 质量门控生成工作流配置
type WorkflowConfig struct {
	// MaxAttempts 生成轮次上限（成功与失败的生成都计入）
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// QualityThreshold 接受阈值（1-10 分制）
	QualityThreshold float64 `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	// TemperatureSchedule 按轮次取温度，超出部分复用最后一项
	TemperatureSchedule []float64 `yaml:"temperature_schedule" mapstructure:"temperature_schedule"`
	WordsPerMinute      int       `yaml:"words_per_minute" mapstructure:"words_per_minute"`

	GenerationProvider string `yaml:"generation_provider" mapstructure:"generation_provider"`
	ClassifierProvider string `yaml:"classifier_provider" mapstructure:"classifier_provider"`
	AssessorProvider   string `yaml:"assessor_provider" mapstructure:"assessor_provider"`

	Timeouts        WorkflowTimeouts `yaml:"timeouts" mapstructure:"timeouts"`
	GenerationRetry RetryConfig      `yaml:"generation_retry" mapstructure:"generation_retry"`

	// DisallowedTerms 第一阶段校验的第三方 IP 词表；为空时使用内置列表
	DisallowedTerms    []string      `yaml:"disallowed_terms" mapstructure:"disallowed_terms"`
	ValidationCacheTTL time.Duration `yaml:"validation_cache_ttl" mapstructure:"validation_cache_ttl"`
}

// WorkflowTimeouts 各外部调用的独立超时
type WorkflowTimeouts struct {
	Validation time.Duration `yaml:"validation" mapstructure:"validation"`
	Generation time.Duration `yaml:"generation" mapstructure:"generation"`
	Assessment time.Duration `yaml:"assessment" mapstructure:"assessment"`
}

// RetryConfig 生成调用内部重试配置
type RetryConfig struct {
	MaxTries   int           `yaml:"max_tries" mapstructure:"max_tries"`
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// Check 校验工作流配置的一致性
func (w WorkflowConfig) Check() error {
	if w.MaxAttempts < 1 || w.MaxAttempts > 10 {
		return fmt.Errorf("workflow.max_attempts must be within [1, 10], got %d", w.MaxAttempts)
	}
	if w.QualityThreshold < 1 || w.QualityThreshold > 10 {
		return fmt.Errorf("workflow.quality_threshold must be within [1, 10], got %v", w.QualityThreshold)
	}
	if len(w.TemperatureSchedule) == 0 {
		return fmt.Errorf("workflow.temperature_schedule must not be empty")
	}
	for i, t := range w.TemperatureSchedule {
		if t < 0 || t > 2 {
			return fmt.Errorf("workflow.temperature_schedule[%d] must be within [0, 2], got %v", i, t)
		}
	}
	if w.WordsPerMinute <= 0 {
		return fmt.Errorf("workflow.words_per_minute must be positive, got %d", w.WordsPerMinute)
	}
	if w.GenerationRetry.MaxTries < 1 {
		return fmt.Errorf("workflow.generation_retry.max_tries must be at least 1, got %d", w.GenerationRetry.MaxTries)
	}
	return nil
}
