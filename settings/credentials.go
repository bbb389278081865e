// Package settings keeps per-user transync state outside the project:
// provider credentials in auth.json and prompt overrides in prompts.json,
// both under $XDG_DATA_HOME/transync (~/.local/share/transync when unset).
//
// An API key is resolved from, in order: the --api-key flag, the
// provider's own environment variable, TRANSYNC_API_KEY, auth.json.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appDir       = "transync"
	authFile     = "auth.json"
	promptsFile  = "prompts.json"
	authFileMode = 0o600

	// GenericKeyEnv applies to every provider.
	GenericKeyEnv = "TRANSYNC_API_KEY"
)

// providerEnv maps provider IDs to their conventional key variable.
var providerEnv = map[string]string{
	"openai":        "OPENAI_API_KEY",
	"custom-openai": "OPENAI_API_KEY",
	"openrouter":    "OPENROUTER_API_KEY",
	"groq":          "GROQ_API_KEY",
	"google":        "GOOGLE_API_KEY",
	"anthropic":     "ANTHROPIC_API_KEY",
}

// Info is what auth.json holds for one provider.
type Info struct {
	Key string `json:"key,omitempty"`
	// BaseURL is only set for custom-openai endpoints.
	BaseURL string `json:"baseUrl,omitempty"`
}

// Store is the decoded auth.json, keyed by provider ID.
type Store map[string]*Info

// Key returns the stored key of provider, or "".
func (s Store) Key(provider string) string {
	if in := s[provider]; in != nil {
		return in.Key
	}
	return ""
}

// BaseURL returns the stored endpoint of provider, or "".
func (s Store) BaseURL(provider string) string {
	if in := s[provider]; in != nil {
		return in.BaseURL
	}
	return ""
}

// DataDir returns the per-user transync directory. It is not created.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appDir), nil
}

func dataFile(name string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// FilePath returns where auth.json lives, or "" when the home directory
// is unknown. Used in messages only.
func FilePath() string {
	p, _ := dataFile(authFile)
	return p
}

// PromptsFilePath returns where prompt overrides are read from.
func PromptsFilePath() (string, error) {
	return dataFile(promptsFile)
}

// Load decodes auth.json. A missing or unreadable file yields an empty
// store so that key resolution falls through to nothing.
func Load() Store {
	s := make(Store)
	p, err := dataFile(authFile)
	if err != nil {
		return s
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil || s == nil {
		return make(Store)
	}
	return s
}

// Save replaces auth.json with s. The file is owner-only and swapped in
// by rename so a crash never leaves it half written.
func Save(s Store) error {
	p, err := dataFile(authFile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(authFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

// update loads the store, applies fn and saves only when fn reports a change.
func update(fn func(Store) bool) error {
	s := Load()
	if !fn(s) {
		return nil
	}
	return Save(s)
}

// Get returns the entry of provider, or nil.
func Get(provider string) *Info {
	return Load()[provider]
}

// Set replaces the entry of provider.
func Set(provider string, info *Info) error {
	return update(func(s Store) bool {
		s[provider] = info
		return true
	})
}

// Remove drops the entry of provider. Unknown providers leave the file alone.
func Remove(provider string) error {
	return update(func(s Store) bool {
		if _, ok := s[provider]; !ok {
			return false
		}
		delete(s, provider)
		return true
	})
}

// RemoveAll deletes auth.json.
func RemoveAll() error {
	p, err := dataFile(authFile)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

func SetAPIKey(provider, key string) error {
	return Set(provider, &Info{Key: key})
}

// SetAPIKeyWithBaseURL saves a custom-openai endpoint together with its key.
func SetAPIKeyWithBaseURL(provider, key, baseURL string) error {
	return Set(provider, &Info{Key: key, BaseURL: baseURL})
}

func GetAPIKey(provider string) string {
	return Load().Key(provider)
}

func GetBaseURL(provider string) string {
	return Load().BaseURL(provider)
}

// EnvVarForProvider returns the key variable of provider, or "" when it
// has none (ollama, unknown IDs).
func EnvVarForProvider(provider string) string {
	return providerEnv[provider]
}

// ResolveAPIKey picks the key for provider in package lookup order.
func ResolveAPIKey(provider, flagKey string) string {
	if flagKey != "" {
		return flagKey
	}
	for _, env := range []string{EnvVarForProvider(provider), GenericKeyEnv} {
		if env == "" {
			continue
		}
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return GetAPIKey(provider)
}

// MaskKey shortens key to its first and last four bytes for display.
// Keys of eight bytes or fewer are hidden entirely.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
