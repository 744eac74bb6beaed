package integrations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// patchClaudeSettings adds (install) or strips the hook command on every
// HookEvent while leaving unrelated settings and hooks untouched.
func patchClaudeSettings(configData []byte, command string, install bool) ([]byte, error) {
	cfg := map[string]any{}
	if len(bytes.TrimSpace(configData)) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("parse claude settings: %w", err)
		}
	}

	hooks, _ := cfg["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}

	for _, event := range HookEvents {
		entries, _ := hooks[event].([]any)
		entries = removeOwnedEntries(entries)
		if install {
			entries = append(entries, map[string]any{
				"matcher": "*",
				"hooks": []any{map[string]any{
					"type":    "command",
					"command": command,
					"timeout": hookTimeoutSeconds,
				}},
			})
		}
		if len(entries) == 0 {
			delete(hooks, event)
			continue
		}
		hooks[event] = entries
	}

	if len(hooks) == 0 {
		delete(cfg, "hooks")
	} else {
		cfg["hooks"] = hooks
	}

	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize claude settings: %w", err)
	}
	return append(payload, '\n'), nil
}

// ownsCommand matches any hook command this tool installed, including ones
// pointing at an older binary path.
func ownsCommand(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	if !strings.HasSuffix(cmd, " hook") {
		return false
	}
	return strings.Contains(strings.ToLower(cmd), "usagesync")
}

func removeOwnedEntries(entries []any) []any {
	var filtered []any
	for _, entry := range entries {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			filtered = append(filtered, entry)
			continue
		}
		hooksList, ok := entryMap["hooks"].([]any)
		if !ok {
			filtered = append(filtered, entry)
			continue
		}
		var remaining []any
		for _, hook := range hooksList {
			if cmd, ok := commandOf(hook); ok && ownsCommand(cmd) {
				continue
			}
			remaining = append(remaining, hook)
		}
		if len(remaining) > 0 {
			entryMap["hooks"] = remaining
			filtered = append(filtered, entryMap)
		}
	}
	return filtered
}

func findOwnedCommand(root map[string]any, eventName string) (string, bool) {
	hooksRaw, ok := root["hooks"].(map[string]any)
	if !ok {
		return "", false
	}
	entries, ok := hooksRaw[eventName].([]any)
	if !ok {
		return "", false
	}
	for _, entry := range entries {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		hooksList, ok := entryMap["hooks"].([]any)
		if !ok {
			continue
		}
		for _, hook := range hooksList {
			if cmd, ok := commandOf(hook); ok && ownsCommand(cmd) {
				return strings.TrimSpace(cmd), true
			}
		}
	}
	return "", false
}

func commandOf(hook any) (string, bool) {
	hookMap, ok := hook.(map[string]any)
	if !ok {
		return "", false
	}
	if strings.TrimSpace(stringOrEmpty(hookMap["type"])) != "command" {
		return "", false
	}
	return stringOrEmpty(hookMap["command"]), true
}

func stringOrEmpty(value any) string {
	text, _ := value.(string)
	return text
}
