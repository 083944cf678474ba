package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 存储驱动
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"
)

// ProviderConfig GET / 返回的服务描述，可由 PROVIDER_CONFIG 指向的 yaml 覆盖
type ProviderConfig struct {
	Title           string   `yaml:"title"`
	Subtitle        string   `yaml:"subtitle"`
	GlobusAuthScope string   `yaml:"globus_auth_scope"`
	AdminContact    string   `yaml:"admin_contact"`
	VisibleTo       []string `yaml:"visible_to"`
	RunnableBy      []string `yaml:"runnable_by"`
	AdministeredBy  []string `yaml:"administered_by"`
	LogSupported    bool     `yaml:"log_supported"`
	MaximumDeadline string   `yaml:"maximum_deadline"`
}

func defaultProvider() ProviderConfig {
	return ProviderConfig{
		Title:           "FuncX Action Provider",
		Subtitle:        "Run FuncX",
		VisibleTo:       []string{"all_authenticated_users"},
		RunnableBy:      []string{"all_authenticated_users"},
		AdministeredBy:  []string{"all_authenticated_users"},
		MaximumDeadline: "P30D",
	}
}

type AppConfig struct {
	HTTPPort  string
	URLPrefix string

	StoreDriver    string
	PostgresDSN    string
	SQLitePath     string
	RedisURL       string
	DynamoTable    string
	AWSRegion      string
	DynamoEndpoint string
	TaskGroupTTL   time.Duration

	ExecutorURL           string
	ExecutorToken         string
	ExecutorResultTimeout time.Duration
	CheckUUID             bool

	LogLevel         string
	LogFormat        string
	LogSensitiveData bool

	RateLimitRPS   float64
	RateLimitBurst int

	ReaperSpec     string
	ReaperTimezone string
	RoundLeaseTTL  time.Duration
	OTLPEndpoint   string

	Provider ProviderConfig
}

// Load 从环境变量读取配置，缺省值见各字段
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPPort:         env("HTTP_PORT", "8080"),
		URLPrefix:        env("URL_PREFIX", "/"),
		StoreDriver:      strings.ToLower(env("STORE_DRIVER", DriverMemory)),
		PostgresDSN:      os.Getenv("DATABASE_URL"),
		SQLitePath:       env("SQLITE_PATH", "task_groups.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DynamoTable:      os.Getenv("DYNAMODB_TABLE"),
		AWSRegion:        env("AWS_REGION", "us-east-1"),
		DynamoEndpoint:   os.Getenv("DYNAMODB_ENDPOINT"),
		ExecutorURL:      os.Getenv("EXECUTOR_URL"),
		ExecutorToken:    os.Getenv("EXECUTOR_TOKEN"),
		LogLevel:         env("LOG_LEVEL", "info"),
		LogFormat:        env("LOG_FORMAT", "text"),
		ReaperSpec:       env("REAPER_SPEC", "@every 1h"),
		ReaperTimezone:   env("REAPER_TIMEZONE", "UTC"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Provider:         defaultProvider(),
		RateLimitBurst:   10,
		RateLimitRPS:     5,
		CheckUUID:        true,
		TaskGroupTTL:     14 * 24 * time.Hour,
		LogSensitiveData: false,
	}
	var err error

	if cfg.ExecutorResultTimeout, err = durationEnv("EXECUTOR_RESULT_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.TaskGroupTTL, err = durationEnv("TASK_GROUP_TTL", cfg.TaskGroupTTL); err != nil {
		return cfg, err
	}
	if cfg.RoundLeaseTTL, err = durationEnv("ROUND_LEASE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CheckUUID, err = boolEnv("CHECK_UUID", cfg.CheckUUID); err != nil {
		return cfg, err
	}
	if cfg.LogSensitiveData, err = boolEnv("LOG_SENSITIVE_DATA", cfg.LogSensitiveData); err != nil {
		return cfg, err
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		parsed, perr := strconv.ParseFloat(v, 64)
		if perr != nil || parsed <= 0 {
			return cfg, fmt.Errorf("RATE_LIMIT_RPS: invalid value %q", v)
		}
		cfg.RateLimitRPS = parsed
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		parsed, perr := strconv.Atoi(v)
		if perr != nil || parsed <= 0 {
			return cfg, fmt.Errorf("RATE_LIMIT_BURST: invalid value %q", v)
		}
		cfg.RateLimitBurst = parsed
	}

	if path := os.Getenv("PROVIDER_CONFIG"); path != "" {
		if cfg.Provider, err = LoadProvider(path, cfg.Provider); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.validate()
}

func (c AppConfig) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("STORE_DRIVER=redis requires REDIS_URL")
		}
	case DriverDynamoDB:
		if c.DynamoTable == "" {
			return fmt.Errorf("STORE_DRIVER=dynamodb requires DYNAMODB_TABLE")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if !strings.HasPrefix(c.URLPrefix, "/") {
		return fmt.Errorf("URL_PREFIX must start with /")
	}
	return nil
}

// LoadProvider 读取 yaml，文件中未出现的字段保留 base 的值
func LoadProvider(path string, base ProviderConfig) (ProviderConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read provider config: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(b, &out); err != nil {
		return base, fmt.Errorf("parse provider config %s: %w", path, err)
	}
	return out, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid bool %q", key, v)
	}
	return b, nil
}
