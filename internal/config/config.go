package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings (broker transport and
// pipeline progress notifications).
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
}

// PipelineConfig carries the retry/backoff policy and worker settings.
// The schedule and LLM timeout are policy, not contract: operators may
// override all of them through the environment.
type PipelineConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetry        int           `mapstructure:"max_retry"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	LLMTimeout      time.Duration `mapstructure:"llm_timeout"`
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after"`
}

// GeminiConfig contains the LLM provider settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// ScoringConfig carries the match-score weights. They are normalized
// before use, so they need not sum to exactly 1.
type ScoringConfig struct {
	SkillsWeight     float64 `mapstructure:"skills_weight"`
	ExperienceWeight float64 `mapstructure:"experience_weight"`
	EducationWeight  float64 `mapstructure:"education_weight"`
	ConfidenceWeight float64 `mapstructure:"confidence_weight"`
}

// ClamdConfig contains the virus scanner address. Empty disables
// scanning of uploaded résumés.
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "hireflow")
	v.SetDefault("database.user", "hireflow")
	v.SetDefault("database.password", "hireflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "resumes")
	v.SetDefault("pipeline.concurrency", 10)
	v.SetDefault("pipeline.max_retry", 3)
	v.SetDefault("pipeline.retry_base_delay", time.Second)
	v.SetDefault("pipeline.llm_timeout", 30*time.Second)
	v.SetDefault("pipeline.stale_claim_after", 5*time.Minute)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("scoring.skills_weight", 0.4)
	v.SetDefault("scoring.experience_weight", 0.3)
	v.SetDefault("scoring.education_weight", 0.2)
	v.SetDefault("scoring.confidence_weight", 0.1)
	v.SetDefault("clamd.addr", "")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                    "API_PORT",
		"database.host":               "DATABASE_HOST",
		"database.port":               "DATABASE_PORT",
		"database.name":               "POSTGRES_DB",
		"database.user":               "POSTGRES_USER",
		"database.password":           "POSTGRES_PASSWORD",
		"database.sslmode":            "DATABASE_SSLMODE",
		"redis.host":                  "REDIS_HOST",
		"redis.port":                  "REDIS_PORT",
		"minio.endpoint":              "MINIO_ENDPOINT",
		"minio.access_key_id":         "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":     "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":               "MINIO_USE_SSL",
		"minio.bucket":                "MINIO_BUCKET",
		"pipeline.concurrency":        "PIPELINE_CONCURRENCY",
		"pipeline.max_retry":          "PIPELINE_MAX_RETRY",
		"pipeline.retry_base_delay":   "PIPELINE_RETRY_BASE_DELAY",
		"pipeline.llm_timeout":        "PIPELINE_LLM_TIMEOUT",
		"pipeline.stale_claim_after":  "PIPELINE_STALE_CLAIM_AFTER",
		"gemini.api_key":              "GEMINI_API_KEY",
		"gemini.model":                "GEMINI_MODEL",
		"scoring.skills_weight":       "SCORING_SKILLS_WEIGHT",
		"scoring.experience_weight":   "SCORING_EXPERIENCE_WEIGHT",
		"scoring.education_weight":    "SCORING_EDUCATION_WEIGHT",
		"scoring.confidence_weight":   "SCORING_CONFIDENCE_WEIGHT",
		"clamd.addr":                  "CLAMD_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline concurrency must be positive")
	}
	if cfg.Pipeline.MaxRetry < 0 {
		return errors.New("pipeline max retry must not be negative")
	}
	if cfg.Pipeline.RetryBaseDelay <= 0 {
		return errors.New("pipeline retry base delay must be positive")
	}
	if cfg.Pipeline.LLMTimeout <= 0 {
		return errors.New("pipeline llm timeout must be positive")
	}
	if cfg.Scoring.SkillsWeight < 0 || cfg.Scoring.ExperienceWeight < 0 ||
		cfg.Scoring.EducationWeight < 0 || cfg.Scoring.ConfidenceWeight < 0 {
		return errors.New("scoring weights must not be negative")
	}
	if cfg.Scoring.SkillsWeight+cfg.Scoring.ExperienceWeight+
		cfg.Scoring.EducationWeight+cfg.Scoring.ConfidenceWeight == 0 {
		return errors.New("at least one scoring weight must be positive")
	}
	return nil
}
