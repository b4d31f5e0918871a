package automation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds tuning knobs for the scheduler and step executor.
type Config struct {
	// TickInterval is how often the scheduler scans for due runs.
	// It bounds wake precision for sleeping workflows.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Concurrency is the maximum number of workflow runs resumed
	// concurrently by one scheduler instance.
	Concurrency int `yaml:"concurrency"`

	// ResumeRate caps sustained run resumptions per second, protecting
	// downstream providers (email, payment APIs) from wake bursts.
	// Zero disables rate limiting.
	ResumeRate float64 `yaml:"resume_rate"`

	// ResumeBurst is the token-bucket burst size for ResumeRate.
	ResumeBurst int `yaml:"resume_burst"`

	// LeaseTTL is how long a worker's exclusive hold on a run lasts
	// before the run becomes eligible for pickup by another worker.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// ShutdownTimeout is the maximum time to wait for in-flight runs
	// during graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// DefaultMaxRetries is used by workflow definitions that do not set
	// their own retry bound.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// RetryInitial and RetryMax bound the default retry backoff for
	// transient step failures. These are sub-minute failure timers,
	// distinct from the multi-day business delays expressed as SLEEP
	// steps inside definitions.
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:      5 * time.Second,
		Concurrency:       10,
		ResumeRate:        0,
		ResumeBurst:       1,
		LeaseTTL:          30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		DefaultMaxRetries: 3,
		RetryInitial:      1 * time.Second,
		RetryMax:          1 * time.Minute,
	}
}

// LoadConfig reads a YAML config file and merges it over DefaultConfig.
// Fields absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("automation: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("automation: parse config %s: %w", path, err)
	}

	return cfg, nil
}
