package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/janekbaraniewski/usagesync/internal/docstore"
)

const (
	DefaultAPIBase = "https://api.agenticcommons.xyz"
	LocalAPIBase   = "http://127.0.0.1:8787"
)

type DeliveryConfig struct {
	TimeoutSeconds int     `json:"timeout_seconds"`
	Concurrency    int     `json:"concurrency"`
	RatePerSecond  float64 `json:"rate_per_second"`
}

type WatchConfig struct {
	DebounceSeconds int `json:"debounce_seconds"`
	PollSeconds     int `json:"poll_seconds"`
}

// SourcesConfig overrides where each reader looks. Empty values fall back to
// the tool's own default location.
type SourcesConfig struct {
	Disabled           []string `json:"disabled,omitempty"`
	ClaudeProjectsDirs []string `json:"claude_projects_dirs,omitempty"`
	CodexSessionsDir   string   `json:"codex_sessions_dir,omitempty"`
	GeminiTmpDir       string   `json:"gemini_tmp_dir,omitempty"`
	OpenCodeDBPath     string   `json:"opencode_db_path,omitempty"`
	OpenCodeDir        string   `json:"opencode_dir,omitempty"`
	ExternalUsageDir   string   `json:"external_usage_dir,omitempty"`
}

type Config struct {
	APIBase string `json:"api_base,omitempty"`
	// APIToken is the legacy plaintext token location. It is moved into the
	// encrypted token store the first time it is read.
	APIToken string         `json:"api_token,omitempty"`
	Delivery DeliveryConfig `json:"delivery"`
	Watch    WatchConfig    `json:"watch"`
	Sources  SourcesConfig  `json:"sources"`
}

func DefaultConfig() Config {
	return Config{
		Delivery: DeliveryConfig{
			TimeoutSeconds: 5,
			Concurrency:    4,
		},
		Watch: WatchConfig{
			DebounceSeconds: 10,
			PollSeconds:     30,
		},
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "usagesync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "usagesync")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if cfg.Delivery.TimeoutSeconds <= 0 {
		cfg.Delivery.TimeoutSeconds = defaults.Delivery.TimeoutSeconds
	}
	if cfg.Delivery.Concurrency <= 0 {
		cfg.Delivery.Concurrency = defaults.Delivery.Concurrency
	}
	if cfg.Delivery.RatePerSecond < 0 {
		cfg.Delivery.RatePerSecond = 0
	}
	if cfg.Watch.DebounceSeconds <= 0 {
		cfg.Watch.DebounceSeconds = defaults.Watch.DebounceSeconds
	}
	if cfg.Watch.PollSeconds <= 0 {
		cfg.Watch.PollSeconds = defaults.Watch.PollSeconds
	}
	cfg.APIBase = strings.TrimSpace(cfg.APIBase)

	return cfg, nil
}

// SourceEnabled reports whether the named reader is enabled.
func (c Config) SourceEnabled(name string) bool {
	return !slices.ContainsFunc(c.Sources.Disabled, func(d string) bool {
		return strings.EqualFold(strings.TrimSpace(d), name)
	})
}

// saveMu guards read-modify-write cycles on the config file.
var saveMu sync.Mutex

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	if err := docstore.Save(path, cfg, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveAPIBaseTo persists the collector base URL (read-modify-write).
func SaveAPIBaseTo(path, apiBase string) error {
	apiBase = strings.TrimSpace(apiBase)
	return updateConfig(path, func(cfg *Config) bool {
		if cfg.APIBase == apiBase {
			return false
		}
		cfg.APIBase = apiBase
		return true
	})
}

// ClearLegacyTokenFrom drops the plaintext token field (read-modify-write).
func ClearLegacyTokenFrom(path string) error {
	return updateConfig(path, func(cfg *Config) bool {
		if cfg.APIToken == "" {
			return false
		}
		cfg.APIToken = ""
		return true
	})
}

// updateConfig rewrites the file only when mutate reports a change. A corrupt
// file is reported and left untouched.
func updateConfig(path string, mutate func(*Config) bool) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	cfg := DefaultConfig()
	err := docstore.Update(path, &cfg, 0o644, func() (bool, error) {
		return mutate(&cfg), nil
	})
	if err != nil {
		return fmt.Errorf("updating config: %w", err)
	}
	return nil
}

// ResolveAPIBase picks the collector base URL: USAGESYNC_API_URL, then the
// configured value, then the local development server when
// USAGESYNC_LOCAL_API=true, then the public default.
func ResolveAPIBase(cfg Config, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("USAGESYNC_API_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	if cfg.APIBase != "" {
		return strings.TrimRight(cfg.APIBase, "/")
	}
	if strings.EqualFold(strings.TrimSpace(getenv("USAGESYNC_LOCAL_API")), "true") {
		return LocalAPIBase
	}
	return DefaultAPIBase
}
