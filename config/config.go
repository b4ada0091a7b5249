// Package config loads the optional YAML signing configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aruthen/pdfsign/pdf/generic"
)

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
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// SigningConfig contains the signature metadata and placement defaults.
type SigningConfig struct {
	// Name is the signer name embedded in the signature dictionary.
	Name string `yaml:"name"`

	// Reason is the signing reason.
	Reason string `yaml:"reason"`

	// Location is the signing location; empty means omitted.
	Location string `yaml:"location"`

	// ContactInfo is the signer contact information; empty means omitted.
	ContactInfo string `yaml:"contact-info"`

	// FieldName is the signature form field name.
	FieldName string `yaml:"field-name"`

	// BytesReserved is the signature slot capacity in DER bytes.
	BytesReserved int `yaml:"bytes-reserved"`

	// Rect positions the signature widget as [llx lly urx ury].
	Rect []float64 `yaml:"rect"`
}

// Default returns the configuration used when no file is supplied.
func Default() *SigningConfig {
	return &SigningConfig{
		Name:          "pdfsign-cli",
		Reason:        "Digitally signed",
		FieldName:     "Signature1",
		BytesReserved: 4096,
		Rect:          []float64{100, 650, 300, 700},
	}
}

// Load reads a YAML configuration file and fills unset fields from the
// defaults. Unknown keys are rejected.
func Load(filename string) (*SigningConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*SigningConfig, error) {
	var config SigningConfig

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedField, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *SigningConfig) applyDefaults() {
	def := Default()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Reason == "" {
		c.Reason = def.Reason
	}
	if c.FieldName == "" {
		c.FieldName = def.FieldName
	}
	if c.BytesReserved == 0 {
		c.BytesReserved = def.BytesReserved
	}
	if len(c.Rect) == 0 {
		c.Rect = def.Rect
	}
}

// Validate checks the configuration invariants.
func (c *SigningConfig) Validate() error {
	if c.FieldName == "" {
		return NewConfigError("field-name", "required field is missing")
	}
	if c.BytesReserved <= 0 {
		return NewConfigError("bytes-reserved", "must be a positive byte count")
	}
	if len(c.Rect) != 4 {
		return NewConfigError("rect", fmt.Sprintf("needs 4 coordinates, got %d", len(c.Rect)))
	}
	if c.Rect[0] > c.Rect[2] || c.Rect[1] > c.Rect[3] {
		return NewConfigError("rect", "lower-left corner must not exceed upper-right corner")
	}
	return nil
}

// Rectangle converts the rect coordinates to a widget rectangle.
func (c *SigningConfig) Rectangle() *generic.Rectangle {
	return &generic.Rectangle{LLX: c.Rect[0], LLY: c.Rect[1], URX: c.Rect[2], URY: c.Rect[3]}
}
