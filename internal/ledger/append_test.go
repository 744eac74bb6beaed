package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/usagesync/internal/usage"
)

func fixedNow() time.Time {
	return time.Date(2026, time.February, 22, 10, 0, 0, 0, time.UTC)
}

func claudeEvent(id, date, model string, in, out int64) usage.Event {
	return usage.Event{
		EventID: id,
		Date:    date,
		Model:   model,
		Totals:  usage.Totals{InputUncached: in, Output: out},
	}
}

func TestAppendLedgerAccumulatesAndTracksPending(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow

	touched := l.ApplyBatch("s1", "/tmp/s1.jsonl", 3, []usage.Event{
		claudeEvent("msg:a", "2026-02-21", "claude-sonnet-4", 10, 5),
		claudeEvent("msg:b", "2026-02-21", "claude-sonnet-4", 1, 1),
		claudeEvent("msg:c", "", "claude-opus-4", 2, 0),
	})

	want := []string{"2026-02-21|claude-sonnet-4", "2026-02-22|claude-opus-4"}
	if len(touched) != len(want) {
		t.Fatalf("touched = %v, want %v", touched, want)
	}
	for i := range want {
		if touched[i] != want[i] {
			t.Fatalf("touched[%d] = %q, want %q", i, touched[i], want[i])
		}
	}
	if got := l.PendingKeys(); len(got) != 2 {
		t.Fatalf("pending = %v, want 2 keys", got)
	}

	aggs := l.Aggregates()
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	if aggs[0].TotalIO != 17 || aggs[0].Provider != usage.ProviderAnthropic || aggs[0].Source != usage.SourceClaude {
		t.Fatalf("first aggregate = %+v", aggs[0])
	}
}

func TestAppendLedgerCursorFallsBackToPath(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow

	l.ApplyBatch("", "/tmp/t.jsonl", 4, nil)
	c, ok := l.Cursor("unknown-session", "/tmp/t.jsonl")
	if !ok {
		t.Fatal("expected path fallback cursor")
	}
	if c.ProcessedLines != 4 {
		t.Fatalf("processed = %d, want 4", c.ProcessedLines)
	}

	l.ApplyBatch("sess", "/tmp/t.jsonl", 6, nil)
	c, ok = l.Cursor("sess", "")
	if !ok || c.ProcessedLines != 6 {
		t.Fatalf("session cursor = %+v ok=%v, want processed 6", c, ok)
	}
	c, _ = l.Cursor("", "/tmp/t.jsonl")
	if c.ProcessedLines != 6 {
		t.Fatalf("path cursor processed = %d, want 6", c.ProcessedLines)
	}
}

func TestAppendLedgerCursorNeverMovesBackwards(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.ApplyBatch("s", "/p", 10, nil)
	l.ApplyBatch("s", "/p", 3, nil)
	c, _ := l.Cursor("s", "/p")
	if c.ProcessedLines != 10 {
		t.Fatalf("processed = %d, want 10", c.ProcessedLines)
	}
}

func TestAppendLedgerSubagentTranscriptKeepsOwnCursor(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow

	parent := "/proj/S.jsonl"
	agent := "/proj/S/subagents/agent.jsonl"
	l.ApplyBatch("S", parent, 10, []usage.Event{claudeEvent("msg:p", "2026-02-22", "m", 5, 5)})

	from, _ := l.Cursor("S", agent)
	if from.ProcessedLines != 0 {
		t.Fatalf("agent start line = %d, want 0", from.ProcessedLines)
	}
	l.ApplyBatchFrom(from, "S", agent, 3, []usage.Event{claudeEvent("msg:a", "2026-02-22", "m", 1, 1)})

	c, _ := l.Cursor("", agent)
	if c.ProcessedLines != 3 {
		t.Fatalf("agent cursor processedLines = %d, want 3", c.ProcessedLines)
	}
	c, _ = l.Cursor("S", parent)
	if c.ProcessedLines != 10 {
		t.Fatalf("parent cursor processedLines = %d, want 10", c.ProcessedLines)
	}

	// Lines appended to the agent file later are still read from line 3.
	from, _ = l.Cursor("S", agent)
	if from.ProcessedLines != 3 {
		t.Fatalf("agent resume line = %d, want 3", from.ProcessedLines)
	}
	l.ApplyBatchFrom(from, "S", agent, 5, []usage.Event{claudeEvent("msg:b", "2026-02-22", "m", 2, 2)})
	if got := l.Aggregates()[0].TotalIO; got != 16 {
		t.Fatalf("total_io = %d, want 16", got)
	}
}

func TestAppendLedgerIgnoresCursorOfAnotherFile(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow
	l.ApplyBatch("S", "/a.jsonl", 10, nil)

	other, _ := l.Cursor("S", "/a.jsonl")
	l.ApplyBatchFrom(other, "S", "/b.jsonl", 2, nil)
	if c, _ := l.Cursor("", "/b.jsonl"); c.ProcessedLines != 2 {
		t.Fatalf("processedLines = %d, want 2", c.ProcessedLines)
	}
}

func TestAppendLedgerSkipsEventsSeenInPreviousBatch(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow

	l.ApplyBatch("s", "/p", 1, []usage.Event{claudeEvent("msg:x", "2026-02-22", "m", 10, 10)})
	touched := l.ApplyBatch("s", "/p", 2, []usage.Event{claudeEvent("msg:x", "2026-02-22", "m", 10, 10)})
	if len(touched) != 0 {
		t.Fatalf("touched = %v, want none for straddling duplicate", touched)
	}
	if got := l.Aggregates()[0].TotalIO; got != 20 {
		t.Fatalf("total_io = %d, want 20", got)
	}
}

func TestAppendLedgerMarkDeliveredAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude-ledger.json")

	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	l.now = fixedNow
	l.ApplyBatch("s", "/p", 2, []usage.Event{
		claudeEvent("msg:1", "2026-02-20", "a", 1, 1),
		claudeEvent("msg:2", "2026-02-20", "b", 1, 1),
	})
	l.MarkDelivered("2026-02-20|a")
	if !l.Dirty() {
		t.Fatal("expected dirty ledger")
	}
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if l.Dirty() {
		t.Fatal("expected clean ledger after save")
	}

	loaded, err := LoadAppendLedger(path, usage.SourceClaude, usage.ProviderAnthropic)
	if err != nil {
		t.Fatalf("LoadAppendLedger: %v", err)
	}
	pending := loaded.PendingKeys()
	if len(pending) != 1 || pending[0] != "2026-02-20|b" {
		t.Fatalf("pending = %v, want [2026-02-20|b]", pending)
	}
	c, ok := loaded.Cursor("s", "")
	if !ok || c.ProcessedLines != 2 {
		t.Fatalf("cursor = %+v ok=%v", c, ok)
	}
	if len(loaded.Aggregates()) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(loaded.Aggregates()))
	}
}

func TestAppendLedgerIgnoresEmptyModelAndZeroUsage(t *testing.T) {
	l := NewAppendLedger(usage.SourceClaude, usage.ProviderAnthropic)
	touched := l.ApplyEvents([]usage.Event{
		claudeEvent("msg:1", "2026-02-20", "", 5, 5),
		claudeEvent("msg:2", "2026-02-20", "m", 0, 0),
	})
	if touched != nil {
		t.Fatalf("touched = %v, want nil", touched)
	}
	if l.Dirty() {
		t.Fatal("ledger should stay clean")
	}
}
