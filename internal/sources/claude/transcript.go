// Package claude reads token usage from Claude Code conversation transcripts.
// Transcripts are append-only JSONL files, consumed incrementally by line.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const maxLineSize = 8 * 1024 * 1024

// Incremental is the result of reading a transcript past a cursor.
type Incremental struct {
	SessionID  string
	TotalLines int
	Events     []usage.Event
}

type entry struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	RequestID string   `json:"requestId"`
	UUID      string   `json:"uuid"`
	Timestamp string   `json:"timestamp"`
	Message   *message `json:"message"`
}

type message struct {
	ID    string         `json:"id"`
	Role  string         `json:"role"`
	Model string         `json:"model"`
	Usage map[string]any `json:"usage"`
}

// DefaultProjectsDirs returns the default Claude Code conversation roots.
func DefaultProjectsDirs() []string {
	home, _ := os.UserHomeDir()
	if strings.TrimSpace(home) == "" {
		return nil
	}
	return []string{
		filepath.Join(home, ".claude", "projects"),
		filepath.Join(home, ".config", "claude", "projects"),
	}
}

// DiscoverTranscripts lists transcript files below the given roots.
func DiscoverTranscripts(ctx context.Context, roots []string) []string {
	return shared.CollectFiles(ctx, roots, shared.WalkOptions{Exts: map[string]bool{".jsonl": true}})
}

// ReadIncremental parses the lines of path that follow processedLines. A
// missing or unreadable file yields ok=false. A trailing line without a
// newline that is not valid JSON is treated as still being written and is
// neither parsed nor counted.
func ReadIncremental(path string, processedLines int, now time.Time) (Incremental, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Incremental{}, false
	}
	defer f.Close()

	var (
		out     Incremental
		order   []string
		byEvent = make(map[string]usage.Event)
	)
	reader := bufio.NewReaderSize(f, 64*1024)
	lineNumber := 0

	for {
		raw, err := readLine(reader)
		if len(raw) == 0 && err != nil {
			break
		}
		terminated := err == nil
		trimmed := bytes.TrimSpace(bytes.TrimSuffix(raw, []byte{'\n'}))
		if !terminated && len(trimmed) > 0 && !json.Valid(trimmed) {
			break
		}
		lineNumber++
		if lineNumber > processedLines && len(trimmed) > 0 {
			if ev, ok := parseLine(trimmed, lineNumber, now); ok {
				if out.SessionID == "" && ev.SessionID != "" {
					out.SessionID = ev.SessionID
				}
				if _, seen := byEvent[ev.EventID]; !seen {
					order = append(order, ev.EventID)
				}
				byEvent[ev.EventID] = ev
			}
		}
		if !terminated {
			break
		}
	}

	out.TotalLines = lineNumber
	for _, id := range order {
		out.Events = append(out.Events, byEvent[id])
	}
	return out, true
}

// readLine returns the next line including its newline. Lines longer than
// maxLineSize are consumed and returned empty so they count but never parse.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > maxLineSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			if err == nil {
				return []byte{'{', '}', '\n'}, nil
			}
			return []byte{'{', '}'}, err
		}
		if err == io.EOF && len(buf) == 0 {
			return nil, io.EOF
		}
		return buf, err
	}
}

func parseLine(line []byte, lineNumber int, now time.Time) (usage.Event, bool) {
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return usage.Event{}, false
	}
	if e.Type != "assistant" || e.Message == nil || e.Message.Role != "assistant" {
		return usage.Event{}, false
	}
	model := usage.SanitizeModel(e.Message.Model)
	if model == "" || e.Message.Usage == nil {
		return usage.Event{}, false
	}
	u := e.Message.Usage
	totals := usage.FromClaude(
		pick(u, "input_tokens", "inputTokens"),
		pick(u, "output_tokens", "outputTokens"),
		pick(u, "cache_read_input_tokens", "cacheReadInputTokens"),
		pick(u, "cache_creation_input_tokens", "cacheCreationInputTokens"),
	)
	if totals.Gross() <= 0 {
		return usage.Event{}, false
	}

	date := usage.DatePrefix(e.Timestamp)
	if date == "" {
		date = usage.Today(now)
	}
	return usage.Event{
		EventID:   eventID(e, lineNumber),
		SessionID: strings.TrimSpace(e.SessionID),
		Date:      date,
		Model:     model,
		Provider:  usage.ProviderAnthropic,
		Totals:    totals,
	}, true
}

func pick(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return usage.ToCount(v)
		}
	}
	return 0
}

func eventID(e entry, lineNumber int) string {
	switch {
	case strings.TrimSpace(e.Message.ID) != "":
		return "msg:" + e.Message.ID
	case strings.TrimSpace(e.RequestID) != "":
		return "req:" + e.RequestID
	case strings.TrimSpace(e.UUID) != "":
		return "uuid:" + e.UUID
	}
	return "line:" + strconv.Itoa(lineNumber)
}
