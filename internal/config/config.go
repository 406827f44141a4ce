package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Operator keys accepted as bearer tokens, comma separated
	APIKeys string `envconfig:"API_KEYS"`

	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"45s"`

	BraveAPIKey      string  `envconfig:"BRAVE_API_KEY"`
	NHTSAEnabled     bool    `envconfig:"NHTSA_ENABLED" default:"true"`
	SearchRatePerSec float64 `envconfig:"SEARCH_RATE_PER_SEC" default:"5"`

	RedisURL string `envconfig:"REDIS_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"servicechunks-reports"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	QASchedulerEnabled bool          `envconfig:"QA_SCHEDULER_ENABLED" default:"true"`
	QASchedule         string        `envconfig:"QA_SCHEDULE" default:"@every 24h"`
	QAFirstRunDelay    time.Duration `envconfig:"QA_FIRST_RUN_DELAY" default:"60s"`
	QABatchSize        int           `envconfig:"QA_BATCH_SIZE" default:"50"`
	RepairBatchSize    int           `envconfig:"REPAIR_BATCH_SIZE" default:"20"`

	GenerationConcurrency int64 `envconfig:"GENERATION_CONCURRENCY" default:"8"`

	// Optional YAML file extending the contamination guard tables
	GuardRulesFile string `envconfig:"GUARD_RULES_FILE"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CHUNKS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.QABatchSize <= 0 || cfg.RepairBatchSize <= 0 {
		return nil, fmt.Errorf("failed to process config: batch sizes must be positive")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) HasBrave() bool {
	return c.BraveAPIKey != ""
}

// APIKeyList splits API_KEYS, dropping blanks
func (c *Config) APIKeyList() []string {
	var keys []string
	for _, k := range strings.Split(c.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
