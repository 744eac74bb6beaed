package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths locates every state document usagesync owns.
type Paths struct {
	StateDir         string
	ClaudeLedger     string
	CodexLedger      string
	GeminiLedger     string
	UploadTracker    string
	DeviceSecret     string
	APIToken         string
	ExternalUsageDir string
}

func DefaultStateDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, "usagesync"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "usagesync"), nil
}

// PathsIn lays out the state documents below dir.
func PathsIn(dir string) Paths {
	return Paths{
		StateDir:         dir,
		ClaudeLedger:     filepath.Join(dir, "claude-ledger.json"),
		CodexLedger:      filepath.Join(dir, "codex-ledger.json"),
		GeminiLedger:     filepath.Join(dir, "gemini-ledger.json"),
		UploadTracker:    filepath.Join(dir, "upload-tracker.json"),
		DeviceSecret:     filepath.Join(dir, "device-secret.key"),
		APIToken:         filepath.Join(dir, "api-token.secret"),
		ExternalUsageDir: filepath.Join(dir, "external-usage"),
	}
}

// ResolvePaths returns the default layout, honoring a configured drop-in dir.
func ResolvePaths(cfg Config) (Paths, error) {
	dir, err := DefaultStateDir()
	if err != nil {
		return Paths{}, err
	}
	p := PathsIn(dir)
	if v := strings.TrimSpace(cfg.Sources.ExternalUsageDir); v != "" {
		p.ExternalUsageDir = v
	}
	return p, nil
}
