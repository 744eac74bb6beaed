// Package codex reads cumulative token totals from Codex CLI session logs.
// Each session file reports running totals, so readers only need the most
// recent token_count event near the end of the file.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const (
	tailChunk    = 8 * 1024
	tailFallback = 64 * 1024
	headChunk    = 16 * 1024
	defaultModel = "gpt-5"
)

type sessionEvent struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type eventPayload struct {
	Type string     `json:"type"`
	Info *tokenInfo `json:"info,omitempty"`
}

type tokenInfo struct {
	TotalTokenUsage tokenUsage `json:"total_token_usage"`
}

type tokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

type sessionMeta struct {
	ID            string `json:"id"`
	ModelProvider string `json:"model_provider"`
	Model         string `json:"model"`
	CWD           string `json:"cwd"`
}

type turnContext struct {
	Model    string `json:"model"`
	Settings struct {
		Model string `json:"model"`
	} `json:"settings"`
}

// DefaultSessionsDir returns the Codex session root, honoring CODEX_HOME.
func DefaultSessionsDir() string {
	if home := strings.TrimSpace(os.Getenv("CODEX_HOME")); home != "" {
		return filepath.Join(home, "sessions")
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

// ReadSessions returns one snapshot per session file that carries a token
// count. Files without one, or that cannot be read, are skipped.
func ReadSessions(ctx context.Context, dir string) []usage.Snapshot {
	files := shared.CollectFiles(ctx, []string{dir}, shared.WalkOptions{Exts: map[string]bool{".jsonl": true}})
	out := make([]usage.Snapshot, 0, len(files))
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		if snap, ok := ParseSessionFile(file); ok {
			out = append(out, snap)
		}
	}
	return out
}

// ParseSessionFile extracts the latest cumulative totals of one session log.
func ParseSessionFile(path string) (usage.Snapshot, bool) {
	f, err := os.Open(path)
	if err != nil {
		return usage.Snapshot{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return usage.Snapshot{}, false
	}

	var (
		tail  []byte
		event sessionEvent
		found bool
	)
	for _, window := range []int64{tailChunk, tailFallback} {
		tail = readTail(f, info.Size(), window)
		if event, found = findLastTokenEvent(tail); found {
			break
		}
		if window >= info.Size() {
			break
		}
	}
	if !found {
		return usage.Snapshot{}, false
	}

	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.Info == nil {
		return usage.Snapshot{}, false
	}
	total := payload.Info.TotalTokenUsage

	meta, _ := parseSessionMeta(readHead(f, headChunk))
	model := shared.FirstNonEmpty(findLastModel(tail), meta.Model, defaultModel)

	return usage.Snapshot{
		SessionKey: shared.FirstNonEmpty(meta.ID, path),
		Date:       usage.DatePrefix(event.Timestamp),
		Timestamp:  event.Timestamp,
		Provider:   usage.NormalizeProvider(meta.ModelProvider, usage.ProviderOpenAI),
		Model:      model,
		Totals:     usage.FromCodex(total.InputTokens, total.CachedInputTokens, total.OutputTokens),
	}, true
}

func readTail(f *os.File, size, n int64) []byte {
	start := max(size-n, 0)
	buf := make([]byte, size-start)
	read, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil
	}
	buf = buf[:read]
	if start > 0 {
		// Drop the first partial line of the window.
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	return buf
}

func readHead(f *os.File, n int64) []byte {
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil
	}
	return buf[:read]
}

func splitLines(chunk []byte) [][]byte {
	return bytes.FieldsFunc(chunk, func(r rune) bool { return r == '\n' || r == '\r' })
}

func findLastTokenEvent(chunk []byte) (sessionEvent, bool) {
	lines := splitLines(chunk)
	for i := len(lines) - 1; i >= 0; i-- {
		if !bytes.Contains(lines[i], []byte(`"token_count"`)) {
			continue
		}
		var ev sessionEvent
		if err := json.Unmarshal(lines[i], &ev); err != nil || ev.Type != "event_msg" {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		if payload.Type == "token_count" && payload.Info != nil {
			return ev, true
		}
	}
	return sessionEvent{}, false
}

func findLastModel(chunk []byte) string {
	lines := splitLines(chunk)
	for i := len(lines) - 1; i >= 0; i-- {
		if !bytes.Contains(lines[i], []byte(`"turn_context"`)) {
			continue
		}
		var ev sessionEvent
		if err := json.Unmarshal(lines[i], &ev); err != nil || ev.Type != "turn_context" {
			continue
		}
		var tc turnContext
		if err := json.Unmarshal(ev.Payload, &tc); err != nil {
			continue
		}
		if m := shared.FirstNonEmpty(tc.Model, tc.Settings.Model); m != "" {
			return m
		}
	}
	return ""
}

func parseSessionMeta(head []byte) (sessionMeta, bool) {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	var ev sessionEvent
	if err := json.Unmarshal(bytes.TrimSpace(line), &ev); err != nil || ev.Type != "session_meta" {
		return sessionMeta{}, false
	}
	var meta sessionMeta
	if err := json.Unmarshal(ev.Payload, &meta); err != nil {
		return sessionMeta{}, false
	}
	return meta, true
}
