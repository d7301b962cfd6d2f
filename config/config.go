// Package config loads the YAML configuration of the signer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/pdfsignatures/sign/digest"
	"github.com/georgepadayatti/pdfsignatures/sign/fields"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// EnvConfigFile names the environment variable holding a config path.
const EnvConfigFile = "PDFSIGNATURES_CONFIG"

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnexpectedField    = errors.New("unexpected field in configuration")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// Is makes every ConfigError match ErrConfigurationError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// DefaultsConfig holds the values used when a command line flag is absent.
type DefaultsConfig struct {
	EstimatedSize      int    `yaml:"estimated-size"`
	Algorithm          string `yaml:"algorithm"`
	CertificationLevel int    `yaml:"certification-level"`
}

// SignatureConfig controls the signature dictionary and field naming.
type SignatureConfig struct {
	Filter      string `yaml:"filter"`
	SubFilter   string `yaml:"sub-filter"`
	FieldPrefix string `yaml:"field-prefix"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// File receives log output. Empty discards it, "-" means stderr.
	File   string   `yaml:"file"`
	Prefix string   `yaml:"prefix"`
	Flags  []string `yaml:"flags"`
}

// Config contains the complete application configuration.
type Config struct {
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Signature SignatureConfig `yaml:"signature"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			EstimatedSize:      signers.DefaultEstimatedSize,
			Algorithm:          string(digest.Default),
			CertificationLevel: int(signers.NotCertified),
		},
		Signature: SignatureConfig{
			Filter:      signers.DefaultFilter,
			SubFilter:   string(signers.DefaultSigSubFilter),
			FieldPrefix: signers.DefaultFieldPrefix,
		},
		Logging: LoggingConfig{
			Prefix: "pdfsignatures: ",
			Flags:  []string{"date", "time"},
		},
	}
}

// Parse decodes data over the built-in defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: "failed to parse config", Err: fmt.Errorf("%w: %w", ErrUnexpectedField, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Message: "failed to read config file", Err: err}
	}
	return Parse(data)
}

// Load returns the configuration from path, or from the file named by
// PDFSIGNATURES_CONFIG when path is empty, or the defaults when neither
// is set.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Defaults.EstimatedSize <= 0 {
		return NewConfigError("defaults.estimated-size", fmt.Sprintf("must be positive, got %d", c.Defaults.EstimatedSize))
	}
	if _, err := digest.ParseAlgorithm(c.Defaults.Algorithm); err != nil {
		return &ConfigError{Field: "defaults.algorithm", Message: err.Error(), Err: err}
	}
	if _, err := signers.ParseCertificationLevel(c.Defaults.CertificationLevel); err != nil {
		return &ConfigError{Field: "defaults.certification-level", Message: err.Error(), Err: err}
	}
	if c.Signature.Filter == "" {
		return NewConfigError("signature.filter", "must not be empty")
	}
	if _, err := fields.ParseSubFilter(c.Signature.SubFilter); err != nil {
		return &ConfigError{Field: "signature.sub-filter", Message: err.Error(), Err: err}
	}
	if c.Signature.FieldPrefix == "" || strings.Contains(c.Signature.FieldPrefix, ".") {
		return NewConfigError("signature.field-prefix", "must be a non-empty name without periods")
	}
	if _, err := logFlags(c.Logging.Flags); err != nil {
		return err
	}
	return nil
}

var logFlagNames = map[string]int{
	"date":         log.Ldate,
	"time":         log.Ltime,
	"microseconds": log.Lmicroseconds,
	"longfile":     log.Llongfile,
	"shortfile":    log.Lshortfile,
	"utc":          log.LUTC,
	"msgprefix":    log.Lmsgprefix,
}

func logFlags(names []string) (int, error) {
	flags := 0
	for _, name := range names {
		f, ok := logFlagNames[strings.ToLower(name)]
		if !ok {
			return 0, NewConfigError("logging.flags", fmt.Sprintf("unknown flag %q", name))
		}
		flags |= f
	}
	return flags, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the logger described by c. The returned closer
// releases the log file, if any.
func (c *LoggingConfig) NewLogger() (*log.Logger, io.Closer, error) {
	flags, err := logFlags(c.Flags)
	if err != nil {
		return nil, nil, err
	}
	switch c.File {
	case "":
		return log.New(io.Discard, c.Prefix, flags), nopCloser{}, nil
	case "-":
		return log.New(os.Stderr, c.Prefix, flags), nopCloser{}, nil
	}
	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, &ConfigError{Field: "logging.file", Message: "failed to open log file", Err: err}
	}
	return log.New(f, c.Prefix, flags), f, nil
}
