package config

import (
	"fmt"
	"time"
)

// Config represents a ~/.cmda.yaml configuration file.
// All values are optional and act as defaults for the global CLI flags.
// CLI flags, the environment and .env files always override config values.
type Config struct {
	// Profiles are keyed by AWS profile name. The "default" entry applies
	// when no profile is selected.
	Profiles map[string]Profile `yaml:"profiles"`
	Storage  StorageConfig      `yaml:"storage"`
	Invoke   InvokeConfig       `yaml:"invoke"`
}

// Profile holds per-AWS-profile defaults.
type Profile struct {
	Function string `yaml:"function"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
}

// StorageConfig holds staging store defaults from the config file.
type StorageConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	S3PathStyle  bool     `yaml:"s3_path_style"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	PartSize     int64    `yaml:"part_size"`
	Concurrency  int      `yaml:"concurrency"`
}

// InvokeConfig holds endpoint invocation defaults from the config file.
type InvokeConfig struct {
	// MaxRetries bounds corruption retries for uploads. Nil keeps the
	// client default.
	MaxRetries *int `yaml:"max_retries,omitempty"`
	// LogTail requests the function's log tail with each invocation.
	LogTail bool `yaml:"log_tail"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Profile returns the defaults for the named profile. A nil Config or an
// unknown profile yields the zero Profile.
func (c *Config) Profile(name string) Profile {
	if c == nil || c.Profiles == nil {
		return Profile{}
	}
	return c.Profiles[name]
}
