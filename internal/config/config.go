package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDuration    = 10 * time.Second
	DefaultWorkers     = 1
	DefaultInterval    = time.Second
	DefaultSendTimeout = time.Second
	DefaultPayload     = "UDP traffic test"
	DefaultPayloadSize = 9096
	MaxPayloadSize     = 65507
)

type Config struct {
	Host        string        `mapstructure:"host" yaml:"host"`
	Port        int           `mapstructure:"port" yaml:"port"`
	Duration    time.Duration `mapstructure:"duration" yaml:"duration"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	SendTimeout time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	Payload     string        `mapstructure:"payload" yaml:"payload"`
	PayloadSize int           `mapstructure:"payload_size" yaml:"payload_size"`
	Source      string        `mapstructure:"source" yaml:"source,omitempty"`
	Arrival     ArrivalModel  `mapstructure:"arrival_model" yaml:"arrival_model"`
	JSONOutput  bool          `mapstructure:"json_output" yaml:"json_output"`
	Quiet       bool          `mapstructure:"quiet" yaml:"quiet"`
	Dashboard   bool          `mapstructure:"dashboard" yaml:"dashboard"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   LogFormat     `mapstructure:"log_format" yaml:"log_format"`
	HistoryFile string        `mapstructure:"history_file" yaml:"history_file,omitempty"`
	Thresholds  []string      `mapstructure:"thresholds" yaml:"thresholds,omitempty"`
	Expires     string        `mapstructure:"expires" yaml:"expires,omitempty"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	PrintConfig bool          `mapstructure:"-" yaml:"-"`
	ConfigFile  string        `mapstructure:"-" yaml:"-"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// TracingConfig configures OpenTelemetry export of per-send spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol,omitempty"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure,omitempty"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name,omitempty"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Duration:    DefaultDuration,
		Workers:     DefaultWorkers,
		Interval:    DefaultInterval,
		SendTimeout: DefaultSendTimeout,
		Payload:     DefaultPayload,
		PayloadSize: DefaultPayloadSize,
		Arrival:     ArrivalModelUniform,
		LogLevel:    "info",
		LogFormat:   LogFormatConsole,
		Tracing:     TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Host) == "" {
		issues = append(issues, "host is required (use --help for usage information)")
	}
	if c.Port < 0 || c.Port > 65535 {
		issues = append(issues, "port must be between 0 and 65535")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Workers < 1 {
		issues = append(issues, "workers must be >= 1")
	}
	if c.Interval <= 0 {
		issues = append(issues, "interval must be > 0")
	}
	if c.SendTimeout <= 0 {
		issues = append(issues, "send timeout must be > 0")
	}
	if c.PayloadSize < 1 || c.PayloadSize > MaxPayloadSize {
		issues = append(issues, fmt.Sprintf("payload size must be between 1 and %d", MaxPayloadSize))
	}
	if c.Quiet && c.JSONOutput {
		issues = append(issues, "quiet and json-output are mutually exclusive")
	}
	if c.Dashboard && (c.Quiet || c.JSONOutput) {
		issues = append(issues, "dashboard cannot be combined with quiet or json-output")
	}

	switch c.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q is not supported", c.Arrival))
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "off", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", c.LogLevel))
	}
	switch c.LogFormat {
	case "", LogFormatConsole, LogFormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported", c.LogFormat))
	}

	if c.Expires != "" {
		if _, err := ParseExpiry(c.Expires); err != nil {
			issues = append(issues, fmt.Sprintf("expires: %v", err))
		}
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

// Warnings returns advisory messages about aggressive settings.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Workers > 500 {
		warnings = append(warnings, fmt.Sprintf("High worker count configured (%d workers). Ensure you have authorization to send traffic to the target.", c.Workers))
	}
	if c.Interval > 0 && c.Interval < time.Millisecond {
		warnings = append(warnings, fmt.Sprintf("Sub-millisecond interval configured (%s). Each worker will send as fast as the socket allows.", c.Interval))
	}
	if c.Tracing.Insecure && c.Tracing.Endpoint != "" {
		warnings = append(warnings, "Tracing export TLS is DISABLED (insecure: true).")
	}
	return warnings
}

func validateTracingConfig(tc TracingConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(tc.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (use grpc or http)", tc.Protocol))
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	return issues
}
