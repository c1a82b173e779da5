package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Session    SessionConfig
	Stats      StatsConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	RateLimit  RateLimitConfig
	Validation ValidationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type EngineConfig struct {
	DelayMinMS    int
	DelayMaxMS    int
	HistoryWindow int
	KnowledgeFile string
}

type SessionConfig struct {
	TTLMinutes        int
	CleanupMinutes    int
	MaxActiveSessions int
}

type StatsConfig struct {
	// Backend is one of "sqlite", "redis" or "none".
	Backend string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	MaxRetries  int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type ValidationConfig struct {
	MaxQueryLength   int
	MaxAttachments   int
	AllowedMIMETypes []string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

func Load() (*Config, error) {
	// .env is optional; real environment variables always win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/study-pilot")

	v.SetEnvPrefix("STUDY_PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Existing deployments export the key as plain OPENAI_API_KEY.
	if err := v.BindEnv("llm.apiKey", "STUDY_PILOT_LLM_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind llm api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Engine.DelayMinMS < 0 || c.Engine.DelayMaxMS < c.Engine.DelayMinMS {
		return fmt.Errorf("invalid engine delay window [%d, %d]ms", c.Engine.DelayMinMS, c.Engine.DelayMaxMS)
	}
	if c.Engine.HistoryWindow <= 0 {
		return fmt.Errorf("engine history window must be positive, got %d", c.Engine.HistoryWindow)
	}
	switch c.Stats.Backend {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("unknown stats backend %q", c.Stats.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:5173"})
	v.SetDefault("server.development", false)

	v.SetDefault("engine.delayMinMS", 800)
	v.SetDefault("engine.delayMaxMS", 2000)
	v.SetDefault("engine.historyWindow", 10)
	v.SetDefault("engine.knowledgeFile", "")

	v.SetDefault("session.ttlMinutes", 60)
	v.SetDefault("session.cleanupMinutes", 10)
	v.SetDefault("session.maxActiveSessions", 10000)

	v.SetDefault("stats.backend", "sqlite")

	v.SetDefault("sqlite.path", "./data/studypilot.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 1000)
	v.SetDefault("llm.timeoutSec", 10)
	v.SetDefault("llm.maxRetries", 2)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequestsPerMinute", 60)

	v.SetDefault("validation.maxQueryLength", 5000)
	v.SetDefault("validation.maxAttachments", 10)
	v.SetDefault("validation.allowedMIMETypes", []string{
		"application/pdf",
		"text/plain",
		"text/markdown",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"image/png",
		"image/jpeg",
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
