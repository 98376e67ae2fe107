package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM,required=true"`

	TelephonyURL  string `env:"TELEPHONY_URL,required=true"`
	TelephonyKey  string `env:"TELEPHONY_API_KEY"`
	TelephonyFrom string `env:"TELEPHONY_FROM"`

	VAPIDSubscriber string `env:"VAPID_SUBSCRIBER"`
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`

	RateLimitPerSec       int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency     int    `env:"WORKER_CONCURRENCY,default=16"`
	MaxJobAttempts        int    `env:"MAX_JOB_ATTEMPTS,default=5"`
	JobRetentionHours     int    `env:"JOB_RETENTION_HOURS,default=24"`
	TemplateCacheTTLSecs  int    `env:"TEMPLATE_CACHE_TTL_SECS,default=600"`
	OpsPort               int    `env:"OPS_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c *Config) TemplateCacheTTL() time.Duration {
	return time.Duration(c.TemplateCacheTTLSecs) * time.Second
}
