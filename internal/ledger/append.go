package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/janekbaraniewski/usagesync/internal/docstore"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

// Cursor records how far an append-only transcript has been consumed.
type Cursor struct {
	TranscriptPath string   `json:"transcriptPath"`
	ProcessedLines int      `json:"processedLines"`
	SessionID      string   `json:"sessionId,omitempty"`
	RecentEventIDs []string `json:"recentEventIds,omitempty"`
	UpdatedAt      string   `json:"updatedAt"`
}

type appendDocument struct {
	Version      int                                `json:"version"`
	DailyByModel map[string]map[string]usage.Totals `json:"dailyByModel"`
	Cursors      map[string]Cursor                  `json:"cursors"`
	PendingKeys  []string                           `json:"pendingKeys"`
	UpdatedAt    string                             `json:"updatedAt,omitempty"`
}

// AppendLedger accumulates events from append-only logs per (date, model).
// Cursors are stored under both session:<id> and path:<path> so either
// identity resolves on the next read.
type AppendLedger struct {
	source   string
	provider string
	now      func() time.Time

	doc     appendDocument
	pending pendingSet
	dirty   bool
}

func NewAppendLedger(source, provider string) *AppendLedger {
	return &AppendLedger{
		source:   source,
		provider: provider,
		now:      time.Now,
		doc: appendDocument{
			Version:      docVersion,
			DailyByModel: make(map[string]map[string]usage.Totals),
			Cursors:      make(map[string]Cursor),
		},
		pending: newPendingSet(nil),
	}
}

// LoadAppendLedger reads the ledger at path. A missing file yields an empty
// ledger; a corrupt one yields an empty ledger and the decode error.
func LoadAppendLedger(path, source, provider string) (*AppendLedger, error) {
	l := NewAppendLedger(source, provider)
	var doc appendDocument
	if _, err := docstore.Load(path, &doc); err != nil {
		return l, err
	}
	if doc.DailyByModel != nil {
		for date, models := range doc.DailyByModel {
			l.doc.DailyByModel[date] = make(map[string]usage.Totals, len(models))
			for model, t := range models {
				l.doc.DailyByModel[date][model] = t.Normalize()
			}
		}
	}
	for k, c := range doc.Cursors {
		l.doc.Cursors[k] = c
	}
	l.pending = newPendingSet(doc.PendingKeys)
	l.doc.UpdatedAt = doc.UpdatedAt
	return l, nil
}

func (l *AppendLedger) Source() string { return l.source }

func (l *AppendLedger) Dirty() bool { return l.dirty }

func (l *AppendLedger) Save(path string) error {
	l.doc.Version = docVersion
	l.doc.PendingKeys = l.pending.sorted()
	l.doc.UpdatedAt = l.now().UTC().Format(time.RFC3339)
	if err := docstore.Save(path, l.doc, 0o644); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func sessionCursorKey(id string) string { return "session:" + id }
func pathCursorKey(p string) string     { return "path:" + p }

// Cursor resolves the cursor for a transcript, preferring the session id and
// falling back to the transcript path. A session cursor recorded for another
// file is ignored: subagent transcripts share their parent's session id.
func (l *AppendLedger) Cursor(sessionID, transcriptPath string) (Cursor, bool) {
	p := strings.TrimSpace(transcriptPath)
	if id := strings.TrimSpace(sessionID); id != "" {
		if c, ok := l.doc.Cursors[sessionCursorKey(id)]; ok {
			if p == "" || c.TranscriptPath == "" || c.TranscriptPath == p {
				return c, true
			}
		}
	}
	if p != "" {
		if c, ok := l.doc.Cursors[pathCursorKey(p)]; ok {
			return c, true
		}
	}
	return Cursor{}, false
}

func (l *AppendLedger) CursorCount() int {
	n := 0
	for k := range l.doc.Cursors {
		if strings.HasPrefix(k, "path:") {
			n++
		}
	}
	return n
}

// ApplyBatch folds one incremental read of a transcript into the ledger and
// advances its cursor to totalLines. Events already recorded by a previous
// batch of the same transcript are skipped. The touched date|model keys are
// returned and added to the pending set.
func (l *AppendLedger) ApplyBatch(sessionID, transcriptPath string, totalLines int, events []usage.Event) []string {
	from, _ := l.Cursor(sessionID, transcriptPath)
	return l.ApplyBatchFrom(from, sessionID, transcriptPath, totalLines, events)
}

// ApplyBatchFrom is ApplyBatch for a read that started at cursor from. Only a
// cursor of the same transcript carries its line count and recent event ids
// forward.
func (l *AppendLedger) ApplyBatchFrom(from Cursor, sessionID, transcriptPath string, totalLines int, events []usage.Event) []string {
	prev := from
	if p := strings.TrimSpace(prev.TranscriptPath); p != "" && p != strings.TrimSpace(transcriptPath) {
		prev = Cursor{}
	}
	found := prev.TranscriptPath != "" || prev.SessionID != "" || prev.ProcessedLines > 0
	seen := make(map[string]struct{}, len(prev.RecentEventIDs))
	for _, id := range prev.RecentEventIDs {
		seen[id] = struct{}{}
	}

	fresh := make([]usage.Event, 0, len(events))
	recent := append([]string(nil), prev.RecentEventIDs...)
	for _, ev := range events {
		if _, dup := seen[ev.EventID]; dup {
			continue
		}
		fresh = append(fresh, ev)
		if ev.EventID != "" && !strings.HasPrefix(ev.EventID, "line:") {
			seen[ev.EventID] = struct{}{}
			recent = append(recent, ev.EventID)
		}
	}
	if len(recent) > maxRecentEventIDs {
		recent = recent[len(recent)-maxRecentEventIDs:]
	}

	touched := l.ApplyEvents(fresh)

	if sessionID == "" {
		sessionID = prev.SessionID
	}
	next := Cursor{
		TranscriptPath: transcriptPath,
		ProcessedLines: max(prev.ProcessedLines, totalLines),
		SessionID:      sessionID,
		RecentEventIDs: recent,
	}
	if found && sameCursor(prev, next) {
		return touched
	}
	next.UpdatedAt = l.now().UTC().Format(time.RFC3339)
	l.setCursor(next)
	return touched
}

func sameCursor(a, b Cursor) bool {
	return a.TranscriptPath == b.TranscriptPath &&
		a.ProcessedLines == b.ProcessedLines &&
		a.SessionID == b.SessionID &&
		slices.Equal(a.RecentEventIDs, b.RecentEventIDs)
}

func (l *AppendLedger) setCursor(c Cursor) {
	if c.SessionID != "" {
		l.doc.Cursors[sessionCursorKey(c.SessionID)] = c
	}
	if c.TranscriptPath != "" {
		l.doc.Cursors[pathCursorKey(c.TranscriptPath)] = c
	}
	l.dirty = true
}

// ApplyEvents accumulates events without touching cursors.
func (l *AppendLedger) ApplyEvents(events []usage.Event) []string {
	var touched []string
	for _, ev := range events {
		model := usage.SanitizeModel(ev.Model)
		if model == "" {
			continue
		}
		t := ev.Totals.Normalize()
		if t.IsZero() {
			continue
		}
		date := ev.Date
		if !usage.IsDate(date) {
			date = usage.Today(l.now())
		}
		models, ok := l.doc.DailyByModel[date]
		if !ok {
			models = make(map[string]usage.Totals)
			l.doc.DailyByModel[date] = models
		}
		models[model] = models[model].Add(t)
		touched = append(touched, date+"|"+model)
	}
	if len(touched) == 0 {
		return nil
	}
	touched = sortedUnique(touched)
	l.pending.add(touched...)
	l.dirty = true
	return touched
}

// Aggregates lists every accumulated (date, model) row.
func (l *AppendLedger) Aggregates() []usage.Aggregate {
	var out []usage.Aggregate
	for date, models := range l.doc.DailyByModel {
		for model, t := range models {
			out = append(out, usage.NewAggregate(date, l.source, l.provider, model, t))
		}
	}
	usage.SortAggregates(out)
	return out
}

// PendingKey maps an aggregate of this ledger's source to its pending key.
func (l *AppendLedger) PendingKey(a usage.Aggregate) (string, bool) {
	if a.Source != l.source {
		return "", false
	}
	return a.Date + "|" + a.Model, true
}

func (l *AppendLedger) PendingKeys() []string {
	return l.pending.sorted()
}

// MarkDelivered removes acknowledged keys from the pending set.
func (l *AppendLedger) MarkDelivered(keys ...string) {
	if l.pending.remove(keys...) {
		l.dirty = true
	}
}
