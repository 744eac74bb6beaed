package external

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/janekbaraniewski/usagesync/internal/usage"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadManagedDirNormalizesAndSums(t *testing.T) {
	root := t.TempDir()
	managed := filepath.Join(root, "external-usage")
	writeLines(t, filepath.Join(managed, "My Agent.jsonl"),
		`{"date":"2026-02-22","model":"gpt-4o","input_uncached":10,"output":5}`,
		`{"timestamp":"2026-02-22T08:00:00Z","model":"gpt-4o","usage":{"prompt_tokens":30,"completion_tokens":10,"prompt_tokens_details":{"cached_tokens":20}}}`,
		`{"created":1771761600,"model":"claude-sonnet-4","usage":{"input_tokens":7,"output_tokens":3,"cache_read_input_tokens":50}}`,
		`{"created_at":1771761600000,"model":"gemini-2.5-pro","source":"Gem Tool","usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":1}}`,
		`{"date":"2026-02-22","model":"llama3","provider":"Ollama","output":4}`,
		`{"date":"2026-02-22","usage":{"prompt_tokens":1}}`,
		`{"model":"gpt-4o","output":9}`,
		`not json`,
		`{"date":"2026-02-22","model":"gpt-4o","input_uncached":0,"output":0,"cached_read":100}`,
	)
	writeLines(t, filepath.Join(managed, "notes.txt"), `{"date":"2026-02-22","model":"gpt-4o","output":100}`)
	writeLines(t, filepath.Join(managed, "a", "b", "c", "deep.jsonl"), `{"date":"2026-02-22","model":"gpt-4o","output":100}`)

	rows, diag := Read(context.Background(), Options{ManagedDir: managed})

	want := []usage.Aggregate{
		{Date: "2026-02-22", Source: "gem-tool", Provider: "google", Model: "gemini-2.5-pro", InputUncached: 9, Output: 1, TotalIO: 10},
		{Date: "2026-02-22", Source: "my-agent", Provider: "anthropic", Model: "claude-sonnet-4", InputUncached: 7, Output: 3, CachedRead: 50, TotalIO: 10},
		{Date: "2026-02-22", Source: "my-agent", Provider: "ollama", Model: "llama3", Output: 4, TotalIO: 4},
		{Date: "2026-02-22", Source: "my-agent", Provider: "openai", Model: "gpt-4o", InputUncached: 20, Output: 15, CachedRead: 20, TotalIO: 35},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if !diag.ManagedDirExists || diag.ManagedFiles != 1 {
		t.Fatalf("diagnostics = %+v", diag)
	}
	if diag.ParsedRows != 4 {
		t.Fatalf("parsed rows = %d, want 4", diag.ParsedRows)
	}
	if diag.NormalizerMatches["openai"] != 1 || diag.NormalizerMatches["direct"] != 2 {
		t.Fatalf("normalizer matches = %v", diag.NormalizerMatches)
	}
}

func TestReadOpenCodeLogsUseOpenCodeSource(t *testing.T) {
	root := t.TempDir()
	writeLines(t, filepath.Join(root, "storage", "session-log.jsonl"),
		`{"date":"2026-02-22","model":"claude-sonnet-4","usage":{"input_tokens":4,"output_tokens":4}}`,
	)
	writeLines(t, filepath.Join(root, "storage", "random.jsonl"),
		`{"date":"2026-02-22","model":"claude-sonnet-4","usage":{"input_tokens":4,"output_tokens":4}}`,
	)

	rows, diag := Read(context.Background(), Options{OpenCodeDir: root})
	if diag.OpenCodeFiles != 1 {
		t.Fatalf("opencode files = %d, want 1", diag.OpenCodeFiles)
	}
	if len(rows) != 1 || rows[0].Source != usage.SourceOpenCode {
		t.Fatalf("rows = %+v", rows)
	}

	if left := DropSource(rows, usage.SourceOpenCode); len(left) != 0 {
		t.Fatalf("DropSource left %d rows", len(left))
	}
}

func TestReadMissingDirs(t *testing.T) {
	rows, diag := Read(context.Background(), Options{
		ManagedDir:  filepath.Join(t.TempDir(), "none"),
		OpenCodeDir: "",
	})
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
	if diag.ManagedDirExists || diag.OpenCodeDirExists {
		t.Fatalf("diagnostics = %+v", diag)
	}
}
