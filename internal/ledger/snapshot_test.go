package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janekbaraniewski/usagesync/internal/usage"
)

func codexSnap(session, ts, model string, in, out int64) usage.Snapshot {
	return usage.Snapshot{
		SessionKey: session,
		Date:       ts[:10],
		Timestamp:  ts,
		Provider:   "openai",
		Model:      model,
		Totals:     usage.Totals{InputUncached: in, Output: out},
	}
}

func TestSnapshotLedgerAppliesDeltas(t *testing.T) {
	l := NewSnapshotLedger(usage.SourceCodex, usage.ProviderOpenAI)
	l.now = fixedNow

	touched := l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:00:00Z", "gpt-5", 100, 50)})
	if len(touched) != 1 || touched[0] != "2026-02-22|openai|gpt-5" {
		t.Fatalf("touched = %v", touched)
	}

	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:30:00Z", "gpt-5", 130, 60)})
	aggs := l.Aggregates()
	if len(aggs) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(aggs))
	}
	if aggs[0].TotalIO != 190 {
		t.Fatalf("total_io = %d, want 190", aggs[0].TotalIO)
	}
}

func TestSnapshotLedgerNeverRegresses(t *testing.T) {
	l := NewSnapshotLedger(usage.SourceCodex, usage.ProviderOpenAI)
	l.now = fixedNow

	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:00:00Z", "gpt-5", 100, 50)})
	touched := l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T10:00:00Z", "gpt-5", 40, 10)})
	if touched != nil {
		t.Fatalf("touched = %v, want none for a lower snapshot", touched)
	}
	if got := l.Aggregates()[0].TotalIO; got != 150 {
		t.Fatalf("total_io = %d, want 150", got)
	}
	if c, _ := l.Session("s1"); c.Totals.InputUncached != 40 || c.Totals.Output != 10 {
		t.Fatalf("cursor = %+v, want last observed 40/10", c.Totals)
	}

	// Growth after the lower snapshot counts from the lower values.
	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T11:00:00Z", "gpt-5", 120, 50)})
	if got := l.Aggregates()[0].TotalIO; got != 270 {
		t.Fatalf("total_io = %d, want 270", got)
	}
}

func TestSnapshotLedgerCountsGrowthAfterReset(t *testing.T) {
	l := NewSnapshotLedger(usage.SourceCodex, usage.ProviderOpenAI)
	l.now = fixedNow

	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:00:00Z", "gpt-5", 1000, 0)})
	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T10:00:00Z", "gpt-5", 100, 0)})
	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T11:00:00Z", "gpt-5", 600, 0)})

	c, _ := l.Session("s1")
	if c.Totals.InputUncached != 600 {
		t.Fatalf("cursor input = %d, want 600", c.Totals.InputUncached)
	}
	if got := l.Aggregates()[0].TotalIO; got != 1500 {
		t.Fatalf("total_io = %d, want 1500", got)
	}
}

func TestSnapshotLedgerOrdersByTimestamp(t *testing.T) {
	l := NewSnapshotLedger(usage.SourceCodex, usage.ProviderOpenAI)
	l.now = fixedNow

	l.ApplySnapshots([]usage.Snapshot{
		codexSnap("s1", "2026-02-22T10:00:00Z", "gpt-5", 200, 0),
		codexSnap("s1", "2026-02-22T09:00:00Z", "gpt-5", 100, 0),
	})
	if got := l.Aggregates()[0].TotalIO; got != 200 {
		t.Fatalf("total_io = %d, want 200", got)
	}
	c, _ := l.Session("s1")
	if c.Timestamp != "2026-02-22T10:00:00Z" {
		t.Fatalf("cursor timestamp = %q", c.Timestamp)
	}
}

func TestSnapshotLedgerModelSwitchDiffsAgainstSession(t *testing.T) {
	l := NewSnapshotLedger(usage.SourceCodex, usage.ProviderOpenAI)
	l.now = fixedNow

	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:00:00Z", "gpt-5", 100, 0)})
	l.ApplySnapshots([]usage.Snapshot{codexSnap("s1", "2026-02-22T09:10:00Z", "gpt-5-codex", 130, 0)})

	byModel := map[string]int64{}
	for _, a := range l.Aggregates() {
		byModel[a.Model] = a.TotalIO
	}
	if byModel["gpt-5"] != 100 || byModel["gpt-5-codex"] != 30 {
		t.Fatalf("per-model totals = %v, want gpt-5=100 gpt-5-codex=30", byModel)
	}
}

func TestSnapshotLedgerMigratesLegacyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codex-ledger.json")
	legacy := `{
  "version": 1,
  "dailyByModel": {
    "2026-02-20": {
      "gpt-5": {"inputUncached": 10, "output": 5, "cachedRead": 0, "cachedWrite": 0, "totalIO": 999},
      "[\"openai\",\"gpt-5\"]": {"inputUncached": 12, "output": 1, "cachedRead": 0, "cachedWrite": 0, "totalIO": 13},
      "claude-x": {"inputUncached": 1, "output": 1, "cachedRead": 0, "cachedWrite": 0, "totalIO": 2}
    }
  },
  "sessions": {
    "s1": {"totals": {"inputUncached": 10, "output": 5}, "date": "2026-02-20", "provider": "", "model": "gpt-5"},
    "s2": {"totals": {"inputUncached": 1, "output": 1}, "date": "2026-02-20", "provider": "unknown", "model": "m"}
  },
  "pendingKeys": ["2026-02-20|gpt-5", "2026-02-20|openai|gpt-5"]
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := LoadSnapshotLedger(path, usage.SourceCodex, usage.ProviderOpenAI)
	if err != nil {
		t.Fatalf("LoadSnapshotLedger: %v", err)
	}
	if !l.Dirty() {
		t.Fatal("expected migration to mark ledger dirty")
	}

	got := map[string]usage.Aggregate{}
	for _, a := range l.Aggregates() {
		got[a.Provider+"/"+a.Model] = a
	}
	if len(got) != 2 {
		t.Fatalf("aggregates = %v, want 2 rows", got)
	}
	if a := got["openai/gpt-5"]; a.InputUncached != 12 || a.Output != 5 || a.TotalIO != 17 {
		t.Fatalf("merged gpt-5 row = %+v, want per-metric max", a)
	}
	if _, ok := got["anthropic/claude-x"]; !ok {
		t.Fatalf("expected provider inferred for claude-x, got %v", got)
	}

	pending := l.PendingKeys()
	if len(pending) != 1 || pending[0] != "2026-02-20|openai|gpt-5" {
		t.Fatalf("pending = %v", pending)
	}
	for _, id := range []string{"s1", "s2"} {
		c, _ := l.Session(id)
		if c.Provider != usage.ProviderOpenAI {
			t.Fatalf("session %s provider = %q, want openai", id, c.Provider)
		}
	}

	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := LoadSnapshotLedger(path, usage.SourceCodex, usage.ProviderOpenAI)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Dirty() {
		t.Fatal("second load should not migrate anything")
	}
}

func TestParseModelKey(t *testing.T) {
	p, m, ok := ParseModelKey(ModelKey("openai", "gpt-5"))
	if !ok || p != "openai" || m != "gpt-5" {
		t.Fatalf("ParseModelKey = %q %q %v", p, m, ok)
	}
	if _, _, ok := ParseModelKey(`["broken"`); ok {
		t.Fatal("expected malformed key to fail")
	}
}
