package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from the
// environment; an optional YAML file overrides them.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Accounts AccountConfig  `yaml:"accounts"`
	Mail     MailConfig     `yaml:"mail"`
}

type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR,default=:8080" yaml:"addr"`
}

type DatabaseConfig struct {
	// URL empty means the in-memory store; useful for development and tests.
	URL string `env:"DATABASE_URL" yaml:"url"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" yaml:"jwtSecret"`
}

type TokenConfig struct {
	TTL           time.Duration `env:"TOKEN_TTL,default=48h" yaml:"ttl"`
	PurgeSchedule string        `env:"TOKEN_PURGE_SCHEDULE,default=@every 10m" yaml:"purgeSchedule"`
}

type AccountConfig struct {
	// AnonymizedEmailDomain hosts the placeholder addresses of deleted
	// accounts. Must never be a deliverable domain.
	AnonymizedEmailDomain string `env:"ANONYMIZED_EMAIL_DOMAIN,default=deleted.invalid" yaml:"anonymizedEmailDomain"`
}

type MailConfig struct {
	SendAttempts int    `env:"MAIL_SEND_ATTEMPTS,default=3" yaml:"sendAttempts"`
	FromAddress  string `env:"MAIL_FROM,default=noreply@grantflow.local" yaml:"fromAddress"`
}

// Load decodes configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromPath decodes the environment first, then overrides with a YAML
// file.
func LoadFromPath(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Tokens.TTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Tokens.TTL)
	}
	if c.Mail.SendAttempts <= 0 {
		c.Mail.SendAttempts = 1
	}
	return nil
}
