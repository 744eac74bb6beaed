package gemini

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const chatJSON = `{
  "sessionId": "g-1",
  "startTime": "2026-02-21T22:00:00Z",
  "lastUpdated": "2026-02-22T01:00:00Z",
  "messages": [
    {"type": "user", "timestamp": "2026-02-21T22:00:00Z"},
    {"type": "gemini", "timestamp": "2026-02-21T22:00:05Z", "model": "gemini-2.5-pro", "tokens": {"input": 100, "output": 20, "cached": 40, "thoughts": 5, "tool": 0, "total": 125}},
    {"type": "gemini", "timestamp": "2026-02-21T23:00:05Z", "model": "gemini-2.5-pro", "tokens": {"input": 50, "output": 10, "cached": 0}},
    {"type": "gemini", "timestamp": "2026-02-22T00:30:00Z", "tokens": {"input": 7, "output": 3, "cached": 0}},
    {"type": "gemini", "timestamp": "2026-02-22T00:31:00Z", "model": "gemini-2.5-flash"}
  ]
}`

func TestParseChatFileGroupsByDateAndModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-1.json")
	if err := os.WriteFile(path, []byte(chatJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	snaps := ParseChatFile(path)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}

	first := snaps[0]
	if first.SessionKey != "g-1/2026-02-21/gemini-2.5-pro" {
		t.Fatalf("session key = %q", first.SessionKey)
	}
	if first.Provider != "google" {
		t.Fatalf("provider = %q, want google", first.Provider)
	}
	if first.Totals.InputUncached != 110 || first.Totals.CachedRead != 40 || first.Totals.Output != 30 {
		t.Fatalf("totals = %+v", first.Totals)
	}
	if first.Timestamp != "2026-02-21T23:00:05Z" {
		t.Fatalf("timestamp = %q", first.Timestamp)
	}

	second := snaps[1]
	if second.Model != defaultModel || second.Date != "2026-02-22" {
		t.Fatalf("second snapshot = %+v", second)
	}
	if second.Totals.TotalIO != 10 {
		t.Fatalf("total_io = %d, want 10", second.Totals.TotalIO)
	}
}

func TestReadSessionsOnlyMatchesSessionFiles(t *testing.T) {
	dir := t.TempDir()
	chats := filepath.Join(dir, "abc123", "chats")
	if err := os.MkdirAll(chats, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(chats, "session-1.json"), []byte(chatJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(chats, "logs.json"), []byte(chatJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(chats, "session-2.json"), []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	snaps := ReadSessions(context.Background(), dir)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
}
