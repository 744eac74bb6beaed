// Package gemini reads token usage from Gemini CLI chat session files. The CLI
// rewrites each session file in full, so every read yields cumulative totals.
package gemini

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const defaultModel = "gemini"

type chatFile struct {
	SessionID   string        `json:"sessionId"`
	StartTime   string        `json:"startTime"`
	LastUpdated string        `json:"lastUpdated"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"`
	Model     string        `json:"model"`
	Tokens    *messageToken `json:"tokens,omitempty"`
}

type messageToken struct {
	Input    int64 `json:"input"`
	Output   int64 `json:"output"`
	Cached   int64 `json:"cached"`
	Thoughts int64 `json:"thoughts"`
	Tool     int64 `json:"tool"`
	Total    int64 `json:"total"`
}

func DefaultTmpDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp")
}

// ReadSessions returns cumulative snapshots for every chat session below
// tmpDir, one per (session, date, model).
func ReadSessions(ctx context.Context, tmpDir string) []usage.Snapshot {
	files := shared.CollectFiles(ctx, []string{tmpDir}, shared.WalkOptions{
		Exts: map[string]bool{".json": true},
		Match: func(name string) bool {
			return strings.HasPrefix(name, "session-")
		},
	})
	var out []usage.Snapshot
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		out = append(out, ParseChatFile(file)...)
	}
	return out
}

func ParseChatFile(path string) []usage.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var chat chatFile
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil
	}

	session := shared.FirstNonEmpty(chat.SessionID, path)
	fallbackDate := usage.DatePrefix(chat.StartTime)

	type bucket struct {
		date, model, ts string
		totals          usage.Totals
	}
	buckets := make(map[string]*bucket)
	for _, msg := range chat.Messages {
		if msg.Type != "gemini" || msg.Tokens == nil {
			continue
		}
		date := shared.FirstNonEmpty(usage.DatePrefix(msg.Timestamp), fallbackDate)
		model := shared.FirstNonEmpty(usage.SanitizeModel(msg.Model), defaultModel)
		key := date + "/" + model
		b, ok := buckets[key]
		if !ok {
			b = &bucket{date: date, model: model}
			buckets[key] = b
		}
		b.totals = b.totals.Add(usage.FromGemini(msg.Tokens.Input, msg.Tokens.Cached, msg.Tokens.Output))
		if msg.Timestamp > b.ts {
			b.ts = msg.Timestamp
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]usage.Snapshot, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		out = append(out, usage.Snapshot{
			SessionKey: session + "/" + k,
			Date:       b.date,
			Timestamp:  shared.FirstNonEmpty(b.ts, chat.LastUpdated, chat.StartTime),
			Provider:   usage.ProviderGoogle,
			Model:      b.model,
			Totals:     b.totals,
		})
	}
	return out
}
