package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	// Redis connection used for caching, rate counters and batch queues
	RedisURL string `yaml:"redis_url"`

	// Outbound IP pool for SMTP probes (round-robin)
	IPPool []string `yaml:"ip_pool"`

	// Key prefix for batch queues and job records
	QueuePrefix string `yaml:"queue_prefix"`

	// Worker pool sizes
	VerificationConcurrency int `yaml:"verification_concurrency"`
	BulkConcurrency         int `yaml:"bulk_concurrency"`

	// Origins allowed on the HTTP edge; validated here, consumed by the
	// embedding service
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Logging level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Prometheus metrics toggle
	EnableMetrics bool `yaml:"enable_metrics"`

	// DNS resolution settings
	DNS DNSConfig `yaml:"dns"`

	// SMTP probe settings
	SMTP SMTPConfig `yaml:"smtp"`

	// Per-domain outbound rate limits
	RateLimits RateLimitsConfig `yaml:"rate_limits"`

	// Cache TTL settings
	Cache CacheConfig `yaml:"cache"`

	// Batch executor settings
	Batch BatchConfig `yaml:"batch"`
}

// DNSConfig contains DNS resolver settings.
type DNSConfig struct {
	// Per-query timeout in milliseconds
	TimeoutMs int `yaml:"timeout_ms"`

	// Secondary nameservers tried after a timeout or SERVFAIL
	AltNameservers []string `yaml:"alt_nameservers"`

	// Timeout for the secondary attempt, milliseconds
	AltTimeoutMs int `yaml:"alt_timeout_ms"`
}

// SMTPConfig contains SMTP probe settings.
type SMTPConfig struct {
	// Identity presented in HELO
	HeloDomain string `yaml:"helo_domain"`

	// Neutral envelope sender for MAIL FROM
	MailFrom string `yaml:"mail_from"`

	// Ports to try in order; 465 is implicit TLS
	Ports []int `yaml:"ports"`

	// Per-operation timeout, seconds
	OpTimeoutSec int `yaml:"op_timeout_sec"`

	// Global ceiling for a single probe, seconds
	TotalTimeoutSec int `yaml:"total_timeout_sec"`
}

// DomainLimit is one row of the per-domain rate limit table.
type DomainLimit struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// RateLimitsConfig contains the outbound rate limit table. Domains holds
// overrides keyed by recipient domain; Default applies to everything else.
type RateLimitsConfig struct {
	Default DomainLimit            `yaml:"default"`
	Domains map[string]DomainLimit `yaml:"domains"`
}

// CacheConfig contains per-kind cache TTLs in seconds.
type CacheConfig struct {
	MXTTLSec       int `yaml:"mx_ttl_sec"`
	PositiveTTLSec int `yaml:"positive_ttl_sec"`
	NegativeTTLSec int `yaml:"negative_ttl_sec"`
	UsageTTLSec    int `yaml:"usage_ttl_sec"`
}

// BatchConfig contains batch executor settings.
type BatchConfig struct {
	// Flush progress to the job record every N emails
	FlushEvery int `yaml:"flush_every"`

	// Pause between emails, milliseconds
	EmailPauseMs int `yaml:"email_pause_ms"`

	// Enqueue retry attempts and initial backoff
	EnqueueRetries    int `yaml:"enqueue_retries"`
	EnqueueBackoffSec int `yaml:"enqueue_backoff_sec"`

	// Terminal jobs are retained this many days before cleanup
	RetentionDays int `yaml:"retention_days"`

	// Addresses an owner may submit per usage window, 0 for unlimited
	OwnerAllowance int64 `yaml:"owner_allowance"`
}

// Default returns the engine default configuration.
func Default() *Config {
	return &Config{
		RedisURL:                "redis://localhost:6379",
		IPPool:                  []string{"0.0.0.0"},
		QueuePrefix:             "verify",
		VerificationConcurrency: 20,
		BulkConcurrency:         5,
		LogLevel:                "info",
		EnableMetrics:           false,
		DNS: DNSConfig{
			TimeoutMs:      5000,
			AltNameservers: []string{"8.8.8.8:53", "1.1.1.1:53", "9.9.9.9:53"},
			AltTimeoutMs:   5000,
		},
		SMTP: SMTPConfig{
			HeloDomain:      "verimail.io",
			MailFrom:        "verify@verimail.io",
			Ports:           []int{25},
			OpTimeoutSec:    10,
			TotalTimeoutSec: 15,
		},
		RateLimits: RateLimitsConfig{
			Default: DomainLimit{PerMinute: 100, PerHour: 2000},
			Domains: map[string]DomainLimit{
				"gmail.com":   {PerMinute: 100, PerHour: 2000},
				"yahoo.com":   {PerMinute: 60, PerHour: 1200},
				"outlook.com": {PerMinute: 60, PerHour: 1200},
				"hotmail.com": {PerMinute: 60, PerHour: 1200},
				"aol.com":     {PerMinute: 30, PerHour: 600},
				"icloud.com":  {PerMinute: 30, PerHour: 600},
			},
		},
		Cache: CacheConfig{
			MXTTLSec:       86400,
			PositiveTTLSec: 86400,
			NegativeTTLSec: 43200,
			UsageTTLSec:    3600,
		},
		Batch: BatchConfig{
			FlushEvery:        50,
			EmailPauseMs:      50,
			EnqueueRetries:    3,
			EnqueueBackoffSec: 5,
			RetentionDays:     7,
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url must be set")
	}
	if len(c.IPPool) == 0 {
		return fmt.Errorf("ip_pool must contain at least one address")
	}
	if c.QueuePrefix == "" {
		return fmt.Errorf("queue_prefix must be set")
	}
	if strings.ContainsAny(c.QueuePrefix, " :") {
		return fmt.Errorf("queue_prefix %q must not contain spaces or colons", c.QueuePrefix)
	}
	if c.VerificationConcurrency < 1 {
		return fmt.Errorf("verification_concurrency must be >= 1, got %d", c.VerificationConcurrency)
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("bulk_concurrency must be >= 1, got %d", c.BulkConcurrency)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.DNS.TimeoutMs < 1 {
		return fmt.Errorf("dns.timeout_ms must be positive")
	}
	if c.SMTP.HeloDomain == "" || c.SMTP.MailFrom == "" {
		return fmt.Errorf("smtp.helo_domain and smtp.mail_from must be set")
	}
	for _, p := range c.SMTP.Ports {
		if p != 25 && p != 465 && p != 587 {
			return fmt.Errorf("smtp.ports entry %d: only 25, 465 and 587 are supported", p)
		}
	}
	if c.RateLimits.Default.PerMinute < 1 || c.RateLimits.Default.PerHour < 1 {
		return fmt.Errorf("rate_limits.default must have positive per_minute and per_hour")
	}
	for d, l := range c.RateLimits.Domains {
		if l.PerMinute < 1 || l.PerHour < 1 {
			return fmt.Errorf("rate_limits.domains[%s] must have positive per_minute and per_hour", d)
		}
	}
	if c.Batch.FlushEvery < 1 {
		return fmt.Errorf("batch.flush_every must be >= 1")
	}
	return nil
}

// Limit returns the rate limit row for a domain, falling back to the
// default row.
func (c *RateLimitsConfig) Limit(domain string) DomainLimit {
	if l, ok := c.Domains[strings.ToLower(domain)]; ok {
		return l
	}
	return c.Default
}
