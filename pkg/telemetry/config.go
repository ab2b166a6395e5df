package telemetry

import (
	"maps"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxBufferSize = 1000
	DefaultFlushInterval = 30 * time.Second
)

// PrivacyConfig holds the scrubbing and feature-gate settings.
//
// The feature gates act upstream of scrubbing: a disabled gate drops the
// corresponding record kind before enrichment rather than delivering it
// unscrubbed.
type PrivacyConfig struct {
	ScrubPII                    bool `yaml:"scrub_pii"`
	EnableAnalytics             bool `yaml:"enable_analytics"`
	EnableErrorReporting        bool `yaml:"enable_error_reporting"`
	EnablePerformanceMonitoring bool `yaml:"enable_performance_monitoring"`
	EnableLogging               bool `yaml:"enable_logging"`

	// PIIPatterns are additional regular expressions applied after the
	// built-in set, in declaration order.
	PIIPatterns []string `yaml:"pii_patterns"`
}

// Config is the recognized option surface of the pipeline. The core
// consumes it; producing it (flag parsing, env lookup, bootstrap) is the
// host application's concern.
type Config struct {
	// BackendConfigs is passed through untouched; the host application
	// pairs entries with the adapters it registers.
	BackendConfigs []map[string]any `yaml:"backend_configs"`

	Privacy PrivacyConfig `yaml:"privacy"`

	EnableOfflineBuffer bool          `yaml:"enable_offline_buffer"`
	MaxBufferSize       int           `yaml:"max_buffer_size"`
	FlushInterval       time.Duration `yaml:"flush_interval"`

	EnableDebugLogging bool `yaml:"enable_debug_logging"`

	GlobalUserID    string         `yaml:"global_user_id"`
	GlobalSessionID string         `yaml:"global_session_id"`
	GlobalContext   map[string]any `yaml:"global_context"`
}

// DefaultConfig returns the configuration used when the host application
// provides nothing: everything enabled, scrubbing on, a bounded buffer.
func DefaultConfig() Config {
	return Config{
		Privacy: PrivacyConfig{
			ScrubPII:                    true,
			EnableAnalytics:             true,
			EnableErrorReporting:        true,
			EnablePerformanceMonitoring: true,
			EnableLogging:               true,
		},
		EnableOfflineBuffer: true,
		MaxBufferSize:       DefaultMaxBufferSize,
		FlushInterval:       DefaultFlushInterval,
	}
}

// ApplyDefaults fills zero values that have no meaningful zero semantics.
func (c *Config) ApplyDefaults() {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.GlobalContext == nil {
		c.GlobalContext = map[string]any{}
	}
}

// ConfigFromYAML parses a YAML document over DefaultConfig, so absent keys
// keep their defaults.
func ConfigFromYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// kindEnabled reports whether the feature gate for the record kind is on.
func (c *Config) kindEnabled(kind Kind) bool {
	switch kind {
	case KindEvent:
		return c.Privacy.EnableAnalytics
	case KindError:
		return c.Privacy.EnableErrorReporting
	case KindLog:
		return c.Privacy.EnableLogging
	case KindMetric:
		return c.Privacy.EnablePerformanceMonitoring
	default:
		return false
	}
}

// cloneGlobalContext returns a copy safe to hand to the context state.
func (c *Config) cloneGlobalContext() map[string]any {
	return maps.Clone(c.GlobalContext)
}
