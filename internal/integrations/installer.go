package integrations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InstallResult describes the outcome of an Install call.
type InstallResult struct {
	Action     string // "installed", "updated", "already_current"
	ConfigFile string
	Command    string
}

// Status reports how the hook is registered in the Claude Code settings.
type Status struct {
	ConfigFile string
	// Events lists the hook events that carry a usagesync command.
	Events       []string
	Command      string
	NeedsUpgrade bool
	State        string // "ready", "partial", "outdated", "missing"
	Summary      string
}

// Install registers the hook command for every HookEvent, replacing any
// earlier usagesync entry. The previous settings file is kept as .bak.
func Install(dirs Dirs) (InstallResult, error) {
	configFile := dirs.SettingsFile()
	command := dirs.HookCommand()

	before := Detect(dirs)
	if before.State == "ready" && !before.NeedsUpgrade {
		return InstallResult{Action: "already_current", ConfigFile: configFile, Command: command}, nil
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return InstallResult{}, fmt.Errorf("integrations: create config dir: %w", err)
	}
	configData, err := os.ReadFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return InstallResult{}, fmt.Errorf("integrations: read config: %w", err)
	}
	patched, err := patchClaudeSettings(configData, command, true)
	if err != nil {
		return InstallResult{}, fmt.Errorf("integrations: patch config: %w", err)
	}
	if err := backupIfExists(configFile); err != nil {
		return InstallResult{}, fmt.Errorf("integrations: backup config: %w", err)
	}
	if err := os.WriteFile(configFile, patched, 0o600); err != nil {
		return InstallResult{}, fmt.Errorf("integrations: write config: %w", err)
	}

	action := "installed"
	if len(before.Events) > 0 {
		action = "updated"
	}
	return InstallResult{Action: action, ConfigFile: configFile, Command: command}, nil
}

// Uninstall removes every usagesync hook entry. A missing settings file is
// not an error.
func Uninstall(dirs Dirs) error {
	configFile := dirs.SettingsFile()

	configData, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("integrations: read config for uninstall: %w", err)
	}
	if len(bytes.TrimSpace(configData)) == 0 {
		return nil
	}
	patched, err := patchClaudeSettings(configData, dirs.HookCommand(), false)
	if err != nil {
		return fmt.Errorf("integrations: unpatch config: %w", err)
	}
	if err := backupIfExists(configFile); err != nil {
		return fmt.Errorf("integrations: backup config: %w", err)
	}
	if err := os.WriteFile(configFile, patched, 0o600); err != nil {
		return fmt.Errorf("integrations: write config: %w", err)
	}
	return nil
}

// Detect inspects the settings file without modifying it.
func Detect(dirs Dirs) Status {
	st := Status{ConfigFile: dirs.SettingsFile(), Command: dirs.HookCommand()}

	data, err := os.ReadFile(st.ConfigFile)
	if err == nil {
		var cfg map[string]any
		if json.Unmarshal(data, &cfg) == nil {
			for _, event := range HookEvents {
				cmd, ok := findOwnedCommand(cfg, event)
				if !ok {
					continue
				}
				st.Events = append(st.Events, event)
				if cmd != st.Command {
					st.NeedsUpgrade = true
				}
			}
		}
	}
	deriveState(&st)
	return st
}

func deriveState(st *Status) {
	switch {
	case len(st.Events) == 0:
		st.State = "missing"
		st.Summary = "Not installed"
	case st.NeedsUpgrade:
		st.State = "outdated"
		st.Summary = "Hook points at a different binary"
	case len(st.Events) < len(HookEvents):
		st.State = "partial"
		st.Summary = "Installed for " + strings.Join(st.Events, ", ") + " only"
	default:
		st.State = "ready"
		st.Summary = "Installed and active"
	}
}

func backupIfExists(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup source %s: %w", path, err)
	}
	backupPath := path + ".bak"
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return fmt.Errorf("write backup %s: %w", backupPath, err)
	}
	return nil
}
