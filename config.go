package outreach

import (
	"fmt"
	"time"

	"github.com/gotify/configor"
)

// Config is the serialisable engine configuration. It can be populated from
// YAML and environment variables; the zero value inherits package defaults.
type Config struct {
	Store struct {
		// BaseURL is the location of the durable record sets, e.g.
		// file:///var/lib/outreach. Empty selects in-memory sets.
		BaseURL string `default:"" env:"OUTREACH_STORE_URL" yaml:"baseURL"`
	} `yaml:"store"`

	Pool struct {
		Workers        int `default:"4" env:"OUTREACH_WORKERS" yaml:"workers"`
		JobTimeoutSec  int `default:"300" env:"OUTREACH_JOB_TIMEOUT_SEC" yaml:"jobTimeoutSec"`
		PollIntervalMs int `default:"250" env:"OUTREACH_POOL_POLL_MS" yaml:"pollIntervalMs"`
		RetentionHours int `default:"24" env:"OUTREACH_RETENTION_HOURS" yaml:"retentionHours"`
	} `yaml:"pool"`

	Dispatch struct {
		PollIntervalMs  int    `default:"500" env:"OUTREACH_DISPATCH_POLL_MS" yaml:"pollIntervalMs"`
		MaxSendAttempts int    `default:"3" env:"OUTREACH_MAX_SEND_ATTEMPTS" yaml:"maxSendAttempts"`
		ClaimTimeoutSec int    `default:"60" env:"OUTREACH_CLAIM_TIMEOUT_SEC" yaml:"claimTimeoutSec"`
		PolicyPath      string `default:"" env:"OUTREACH_POLICY_PATH" yaml:"policyPath"`
	} `yaml:"dispatch"`

	Retry struct {
		MaxAttempts int `default:"3" env:"OUTREACH_MAX_ATTEMPTS" yaml:"maxAttempts"`
		BaseDelayMs int `default:"2000" env:"OUTREACH_BASE_DELAY_MS" yaml:"baseDelayMs"`
		MaxDelaySec int `default:"120" env:"OUTREACH_MAX_DELAY_SEC" yaml:"maxDelaySec"`
	} `yaml:"retry"`
}

// LoadConfig reads configuration from the given YAML files (later files
// override earlier ones) with environment variables taking final
// precedence.
func LoadConfig(files ...string) (*Config, error) {
	config := &Config{}
	if err := configor.New(&configor.Config{}).Load(config, files...); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.maxAttempts must be > 0")
	}
	if c.Dispatch.MaxSendAttempts <= 0 {
		return fmt.Errorf("dispatch.maxSendAttempts must be > 0")
	}
	return nil
}

// JobTimeout returns the per-run wall-clock budget.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Pool.JobTimeoutSec) * time.Second
}

// PoolPollInterval returns the worker idle wait.
func (c *Config) PoolPollInterval() time.Duration {
	return time.Duration(c.Pool.PollIntervalMs) * time.Millisecond
}

// Retention returns how long terminal jobs are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Pool.RetentionHours) * time.Hour
}

// DispatchPollInterval returns the dispatcher poll wait.
func (c *Config) DispatchPollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMs) * time.Millisecond
}

// ClaimTimeout returns how long an unsettled dispatch claim may hold the
// transient marker before it is swept back to approved.
func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Dispatch.ClaimTimeoutSec) * time.Second
}

// BaseRetryDelay returns the first backoff step.
func (c *Config) BaseRetryDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}

// MaxRetryDelay returns the backoff cap.
func (c *Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySec) * time.Second
}
