package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`
	Redis struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	JWT struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"jwt"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// DispatchConfig holds the tunables of the dispatch engine. All durations are
// expressed in whole seconds/minutes in the YAML file.
type DispatchConfig struct {
	OfferTTLSeconds        int `yaml:"offer_ttl_seconds"`        // PENDING offer lifetime
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`   // expiry sweeper period
	TriggerIntervalSeconds int `yaml:"trigger_interval_seconds"` // scheduled-ride trigger period
	TriggerWindowMinutes   int `yaml:"trigger_window_minutes"`   // trailing window for missed triggers
	PendingCeilingMinutes  int `yaml:"pending_ceiling_minutes"`  // cancel rides pending longer than this
	PoolCap                int `yaml:"pool_cap"`                 // open-pool candidate cap
	StartupGraceSeconds    int `yaml:"startup_grace_seconds"`    // delay before the first job run
	PruneIntervalMinutes   int `yaml:"prune_interval_minutes"`   // audit-event pruning period
	EventRetentionDays     int `yaml:"event_retention_days"`     // audit-event retention
	PresenceTTLSeconds     int `yaml:"presence_ttl_seconds"`     // driver heartbeat TTL
}

func (d DispatchConfig) OfferTTL() time.Duration        { return secs(d.OfferTTLSeconds) }
func (d DispatchConfig) SweepInterval() time.Duration   { return secs(d.SweepIntervalSeconds) }
func (d DispatchConfig) TriggerInterval() time.Duration { return secs(d.TriggerIntervalSeconds) }
func (d DispatchConfig) TriggerWindow() time.Duration   { return mins(d.TriggerWindowMinutes) }
func (d DispatchConfig) PendingCeiling() time.Duration  { return mins(d.PendingCeilingMinutes) }
func (d DispatchConfig) StartupGrace() time.Duration    { return secs(d.StartupGraceSeconds) }
func (d DispatchConfig) PruneInterval() time.Duration   { return mins(d.PruneIntervalMinutes) }
func (d DispatchConfig) EventRetention() time.Duration  { return time.Duration(d.EventRetentionDays) * 24 * time.Hour }
func (d DispatchConfig) PresenceTTL() time.Duration     { return secs(d.PresenceTTLSeconds) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
func mins(n int) time.Duration { return time.Duration(n) * time.Minute }

// LoadFromFile loads config from a YAML file, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for optional fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// Redis
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// HTTP
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}

	// JWT: generate an ephemeral key for development setups
	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}

	// Dispatch engine
	d := &cfg.Dispatch
	if d.OfferTTLSeconds == 0 {
		d.OfferTTLSeconds = 30
	}
	if d.SweepIntervalSeconds == 0 {
		d.SweepIntervalSeconds = 15
	}
	if d.TriggerIntervalSeconds == 0 {
		d.TriggerIntervalSeconds = 30
	}
	if d.TriggerWindowMinutes == 0 {
		d.TriggerWindowMinutes = 5
	}
	if d.PendingCeilingMinutes == 0 {
		d.PendingCeilingMinutes = 10
	}
	if d.PoolCap == 0 {
		d.PoolCap = 5
	}
	if d.StartupGraceSeconds == 0 {
		d.StartupGraceSeconds = 5
	}
	if d.PruneIntervalMinutes == 0 {
		d.PruneIntervalMinutes = 60
	}
	if d.EventRetentionDays == 0 {
		d.EventRetentionDays = 30
	}
	if d.PresenceTTLSeconds == 0 {
		d.PresenceTTLSeconds = 90
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database is required")
	}

	// Redis
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		problems = append(problems, "redis.port must be in 1..65535")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// HTTP
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, "http.port must be in 1..65535")
	}

	// Dispatch
	d := c.Dispatch
	if d.OfferTTLSeconds < 1 {
		problems = append(problems, "dispatch.offer_ttl_seconds must be >= 1")
	}
	if d.SweepIntervalSeconds < 1 {
		problems = append(problems, "dispatch.sweep_interval_seconds must be >= 1")
	}
	if d.TriggerIntervalSeconds < 1 {
		problems = append(problems, "dispatch.trigger_interval_seconds must be >= 1")
	}
	if d.PendingCeilingMinutes < 1 {
		problems = append(problems, "dispatch.pending_ceiling_minutes must be >= 1")
	}
	if d.PoolCap < 1 {
		problems = append(problems, "dispatch.pool_cap must be >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
