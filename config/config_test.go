package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Name != "pdfsign-cli" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Reason != "Digitally signed" {
		t.Errorf("Reason = %q", cfg.Reason)
	}
	if cfg.FieldName != "Signature1" {
		t.Errorf("FieldName = %q", cfg.FieldName)
	}
	if cfg.BytesReserved != 4096 {
		t.Errorf("BytesReserved = %d", cfg.BytesReserved)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
name: Alice Example
reason: Approval
location: Berlin
field-name: ContractSig
bytes-reserved: 2048
rect: [10, 20, 110, 80]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Name != "Alice Example" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Reason != "Approval" {
		t.Errorf("Reason = %q", cfg.Reason)
	}
	if cfg.Location != "Berlin" {
		t.Errorf("Location = %q", cfg.Location)
	}
	if cfg.FieldName != "ContractSig" {
		t.Errorf("FieldName = %q", cfg.FieldName)
	}
	if cfg.BytesReserved != 2048 {
		t.Errorf("BytesReserved = %d", cfg.BytesReserved)
	}

	rect := cfg.Rectangle()
	if rect.LLX != 10 || rect.URY != 80 {
		t.Errorf("Rectangle = %+v", rect)
	}
}

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("location: Berlin\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Name != "pdfsign-cli" {
		t.Errorf("Name = %q, want default", cfg.Name)
	}
	if cfg.Reason != "Digitally signed" {
		t.Errorf("Reason = %q, want default", cfg.Reason)
	}
	if cfg.Location != "Berlin" {
		t.Errorf("Location = %q", cfg.Location)
	}
	if cfg.BytesReserved != 4096 {
		t.Errorf("BytesReserved = %d, want default", cfg.BytesReserved)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Name != "pdfsign-cli" {
		t.Errorf("empty config should yield defaults, Name = %q", cfg.Name)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("signer-name: Alice\n"))
	if !errors.Is(err, ErrUnexpectedField) {
		t.Fatalf("err = %v, want ErrUnexpectedField", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SigningConfig)
		field  string
	}{
		{
			name:   "negative reservation",
			modify: func(c *SigningConfig) { c.BytesReserved = -1 },
			field:  "bytes-reserved",
		},
		{
			name:   "short rect",
			modify: func(c *SigningConfig) { c.Rect = []float64{0, 0, 100} },
			field:  "rect",
		},
		{
			name:   "inverted rect",
			modify: func(c *SigningConfig) { c.Rect = []float64{300, 0, 100, 50} },
			field:  "rect",
		},
		{
			name:   "empty field name",
			modify: func(c *SigningConfig) { c.FieldName = "" },
			field:  "field-name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
			if !errors.Is(err, ErrConfigurationError) {
				t.Error("ConfigError should unwrap to ErrConfigurationError")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.yaml")
	if err := os.WriteFile(path, []byte("reason: Release approval\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reason != "Release approval" {
		t.Errorf("Reason = %q", cfg.Reason)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}
