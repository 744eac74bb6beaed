package integrations

import (
	"os"
	"path/filepath"
	"strings"
)

// HookEvents are the Claude Code events that trigger a hook sync.
var HookEvents = []string{"Stop", "SubagentStop"}

const hookTimeoutSeconds = 30

// Dirs holds the resolved paths the installer touches.
type Dirs struct {
	Home string
	// Bin is the usagesync binary the hook command invokes.
	Bin string
	// ClaudeSettingsFile overrides ~/.claude/settings.json when set.
	ClaudeSettingsFile string
}

// NewDefaultDirs resolves Dirs from environment variables and platform defaults.
func NewDefaultDirs() Dirs {
	home, _ := os.UserHomeDir()

	bin := strings.TrimSpace(os.Getenv("USAGESYNC_BIN"))
	if bin == "" {
		if exe, err := os.Executable(); err == nil {
			bin = exe
		}
	}
	if bin == "" {
		bin = "usagesync"
	}

	return Dirs{
		Home:               home,
		Bin:                bin,
		ClaudeSettingsFile: strings.TrimSpace(os.Getenv("CLAUDE_SETTINGS_FILE")),
	}
}

// SettingsFile is the Claude Code settings document the hook is registered in.
func (d Dirs) SettingsFile() string {
	if d.ClaudeSettingsFile != "" {
		return d.ClaudeSettingsFile
	}
	return filepath.Join(d.Home, ".claude", "settings.json")
}

// HookCommand is the command line written into the settings document.
func (d Dirs) HookCommand() string {
	return `"` + strings.ReplaceAll(d.Bin, `"`, `\"`) + `" hook`
}
