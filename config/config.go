// Package config loads transync.yaml project configuration.
//
// The file lives in the translations directory next to the source
// directory. Every field is optional; command-line flags override the file
// and TRANSYNC_* environment variables sit between the two.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getlost-engine/transync/langs"
	"github.com/getlost-engine/transync/memo"
	"github.com/getlost-engine/transync/reconcile"
	"github.com/getlost-engine/transync/source"
	"github.com/getlost-engine/transync/translate"
)

// FileName is the configuration file name inside the translations directory.
const FileName = "transync.yaml"

// Defaults.
const (
	DefaultRPM        = 500
	DefaultParallel   = 1
	DefaultMaxRetries = 3
)

// ErrMissingCredentials is returned when the selected provider needs an
// API key and none was found.
var ErrMissingCredentials = errors.New("missing API credentials")

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// Config is the resolved project configuration.
type Config struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// RPM caps requests per minute; 0 disables the limit.
	RPM int `yaml:"rpm"`
	// Languages are the target language codes. Empty means all supported.
	Languages []string `yaml:"languages,omitempty"`
	// PrimaryLang skips language detection.
	PrimaryLang string `yaml:"primary_lang,omitempty"`
	SourceDir   string `yaml:"source_dir,omitempty"`
	// Policy is "fallback" or "strict".
	Policy     string        `yaml:"policy,omitempty"`
	Cache      bool          `yaml:"cache"`
	CachePath  string        `yaml:"cache_path,omitempty"`
	Parallel   int           `yaml:"parallel,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:   translate.DefaultProvider,
		RPM:        DefaultRPM,
		SourceDir:  source.DefaultDir,
		Policy:     reconcile.PolicyFallback.String(),
		Cache:      true,
		Parallel:   DefaultParallel,
		MaxRetries: DefaultMaxRetries,
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration file path for transDir.
func Path(transDir string) string {
	return filepath.Join(transDir, FileName)
}

// Load reads transDir/transync.yaml over the defaults. A missing file
// yields the defaults. Unknown keys are rejected.
func Load(transDir string) (*Config, error) {
	cfg := Default()
	path := Path(transDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%s: unsupported key: %w", path, err)
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to transDir/transync.yaml.
func (c *Config) Save(transDir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(transDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", transDir, err)
	}
	return os.WriteFile(Path(transDir), data, 0644)
}

// envVars maps TRANSYNC_* variables onto fields.
var envVars = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"TRANSYNC_PROVIDER", func(c *Config, v string) error { c.Provider = v; return nil }},
	{"TRANSYNC_MODEL", func(c *Config, v string) error { c.Model = v; return nil }},
	{"TRANSYNC_BASE_URL", func(c *Config, v string) error { c.BaseURL = v; return nil }},
	{"TRANSYNC_PRIMARY_LANG", func(c *Config, v string) error { c.PrimaryLang = v; return nil }},
	{"TRANSYNC_POLICY", func(c *Config, v string) error { c.Policy = v; return nil }},
	{"TRANSYNC_RPM", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.RPM = n
		return nil
	}},
	{"TRANSYNC_LANGUAGES", func(c *Config, v string) error { c.Languages = SplitList(v); return nil }},
}

// ApplyEnv overrides fields from TRANSYNC_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", ev.name, err)
		}
	}
	return c.Validate()
}

// SplitList splits a comma-separated flag or variable value.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Validation and derived values
// ---------------------------------------------------------------------------

// Validate checks the provider, policy, languages and numeric limits.
func (c *Config) Validate() error {
	if c.Provider != "" {
		if _, ok := translate.DefaultProviders()[c.Provider]; !ok {
			return fmt.Errorf("unknown provider %q (valid: %s)", c.Provider, strings.Join(translate.ProviderIDs(), ", "))
		}
	}
	if _, err := reconcile.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := langs.Subset(c.Languages); err != nil {
		return err
	}
	if c.PrimaryLang != "" {
		if _, ok := langs.Normalize(c.PrimaryLang); !ok {
			return fmt.Errorf("unsupported primary_lang %q", c.PrimaryLang)
		}
	}
	if c.Parallel < 0 {
		return fmt.Errorf("parallel must not be negative, got %d", c.Parallel)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.SourceDir != "" && (filepath.IsAbs(c.SourceDir) || strings.ContainsAny(c.SourceDir, `/\`)) {
		return fmt.Errorf("source_dir must be a directory name, got %q", c.SourceDir)
	}
	return nil
}

// FailurePolicy returns the parsed failure policy.
func (c *Config) FailurePolicy() reconcile.Policy {
	p, _ := reconcile.ParsePolicy(c.Policy)
	return p
}

// MemoPath returns the translation memory location for transDir.
func (c *Config) MemoPath(transDir string) string {
	if c.CachePath == "" {
		return filepath.Join(transDir, memo.DefaultPath)
	}
	if filepath.IsAbs(c.CachePath) {
		return c.CachePath
	}
	return filepath.Join(transDir, c.CachePath)
}

// ProviderConfig resolves the provider definition with the configured
// model, base URL and timeout applied. key is the already resolved API key.
func (c *Config) ProviderConfig(key string) (translate.Provider, error) {
	id := c.Provider
	if id == "" {
		id = translate.DefaultProvider
	}
	prov, ok := translate.DefaultProviders()[id]
	if !ok {
		return prov, fmt.Errorf("unknown provider %q", id)
	}
	if c.Model != "" {
		prov.Model = c.Model
	}
	if c.BaseURL != "" {
		prov.BaseURL = c.BaseURL
	}
	if c.Timeout > 0 {
		prov.Timeout = c.Timeout
	}
	prov.APIKey = key
	if prov.NeedsKey() && key == "" {
		return prov, fmt.Errorf("%w: provider %s needs an API key", ErrMissingCredentials, prov.Name)
	}
	return prov, nil
}
