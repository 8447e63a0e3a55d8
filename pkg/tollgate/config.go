package tollgate

import (
	"fmt"
	"os"
	"time"

	"github.com/KanavDutta/tollgate/core"
	"gopkg.in/yaml.v3"
)

// Config holds the rate limiting configuration.
// It has a default class plus named classes selected by the key classifier.
type Config struct {
	// DefaultClass applies to every key whose class is not listed in Classes
	DefaultClass ClassConfig `yaml:"default_class"`

	// Classes maps class names to their parameters
	// Example: "login" -> strict, "search" -> lenient
	Classes map[string]ClassConfig `yaml:"classes,omitempty"`

	// FailurePolicy is required: "fail-open" or "fail-closed"
	FailurePolicy FailurePolicy `yaml:"failure_policy,omitempty"`

	// MaxIdle is how long a bucket may go unchecked before eviction ("1h", "30m")
	MaxIdle time.Duration `yaml:"max_idle,omitempty"`

	// SweepInterval is how often idle buckets are evicted by Run
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`

	// StoreTimeout bounds each store round trip
	StoreTimeout time.Duration `yaml:"store_timeout,omitempty"`
}

// ClassConfig defines rate limiting parameters for a key class.
type ClassConfig struct {
	// Capacity is the maximum number of tokens (burst size)
	Capacity int64 `yaml:"capacity"`

	// RefillRate is the number of tokens added per second
	// Example: 10.0 = 10 tokens/sec = 600 requests/minute
	RefillRate float64 `yaml:"refill_rate"`
}

// Params converts a ClassConfig to bucket parameters.
func (c ClassConfig) Params() core.Params {
	return core.Params{Capacity: c.Capacity, RefillRate: c.RefillRate}
}

// NewConfig creates a new Config with sensible defaults.
// FailurePolicy is left unset on purpose; callers must choose one.
func NewConfig() *Config {
	return &Config{
		DefaultClass: ClassConfig{
			Capacity:   100,
			RefillRate: 10.0, // 600 req/min
		},
		Classes:       make(map[string]ClassConfig),
		MaxIdle:       time.Hour,
		SweepInterval: 10 * time.Minute,
		StoreTimeout:  100 * time.Millisecond,
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration. Durations left out of the document
// take the NewConfig defaults.
func ParseConfig(data []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	if config.Classes == nil {
		config.Classes = make(map[string]ClassConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
// An unset FailurePolicy is allowed here so it can come from another source.
func (c *Config) Validate() error {
	if err := c.DefaultClass.Params().Validate(); err != nil {
		return fmt.Errorf("%w: invalid default class: %v", ErrInvalidConfig, err)
	}

	for name, class := range c.Classes {
		if name == "" {
			return fmt.Errorf("%w: class name cannot be empty", ErrInvalidConfig)
		}
		if err := class.Params().Validate(); err != nil {
			return fmt.Errorf("%w: invalid class %s: %v", ErrInvalidConfig, name, err)
		}
	}

	if c.MaxIdle < 0 || c.SweepInterval < 0 || c.StoreTimeout < 0 {
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// GetClass returns the parameters for a class, or the default class.
func (c *Config) GetClass(name string) ClassConfig {
	if class, exists := c.Classes[name]; exists {
		return class
	}
	return c.DefaultClass
}

// SetClass sets the parameters for a class.
func (c *Config) SetClass(name string, class ClassConfig) error {
	if err := class.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Classes == nil {
		c.Classes = make(map[string]ClassConfig)
	}
	c.Classes[name] = class
	return nil
}
