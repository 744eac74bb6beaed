package ledger

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/janekbaraniewski/usagesync/internal/docstore"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

// SessionCursor holds the last observed cumulative totals for one snapshot
// session.
type SessionCursor struct {
	Totals    usage.Totals `json:"totals"`
	Date      string       `json:"date"`
	Provider  string       `json:"provider"`
	Model     string       `json:"model"`
	Timestamp string       `json:"timestamp,omitempty"`
	UpdatedAt string       `json:"updatedAt"`
}

type snapshotDocument struct {
	Version      int                                `json:"version"`
	DailyByModel map[string]map[string]usage.Totals `json:"dailyByModel"`
	Sessions     map[string]SessionCursor           `json:"sessions"`
	PendingKeys  []string                           `json:"pendingKeys"`
	UpdatedAt    string                             `json:"updatedAt,omitempty"`
}

// SnapshotLedger turns cumulative per-session snapshots into daily deltas per
// (date, provider, model). Model keys inside dailyByModel are JSON arrays of
// the form ["provider","model"].
type SnapshotLedger struct {
	source          string
	defaultProvider string
	now             func() time.Time

	doc     snapshotDocument
	pending pendingSet
	dirty   bool
}

func NewSnapshotLedger(source, defaultProvider string) *SnapshotLedger {
	return &SnapshotLedger{
		source:          source,
		defaultProvider: defaultProvider,
		now:             time.Now,
		doc: snapshotDocument{
			Version:      docVersion,
			DailyByModel: make(map[string]map[string]usage.Totals),
			Sessions:     make(map[string]SessionCursor),
		},
		pending: newPendingSet(nil),
	}
}

// LoadSnapshotLedger reads the ledger at path and upgrades legacy keys that
// predate provider tagging. The upgrade is idempotent; when it changes
// anything the ledger is marked dirty so the next save persists it.
func LoadSnapshotLedger(path, source, defaultProvider string) (*SnapshotLedger, error) {
	l := NewSnapshotLedger(source, defaultProvider)
	var doc snapshotDocument
	if _, err := docstore.Load(path, &doc); err != nil {
		return l, err
	}
	for date, models := range doc.DailyByModel {
		l.doc.DailyByModel[date] = make(map[string]usage.Totals, len(models))
		for key, t := range models {
			l.doc.DailyByModel[date][key] = t.Normalize()
		}
	}
	for k, c := range doc.Sessions {
		l.doc.Sessions[k] = c
	}
	l.pending = newPendingSet(doc.PendingKeys)
	l.doc.UpdatedAt = doc.UpdatedAt
	if l.migrate() {
		l.dirty = true
	}
	return l, nil
}

func (l *SnapshotLedger) migrate() bool {
	changed := false

	for date, models := range l.doc.DailyByModel {
		for key, t := range models {
			if strings.HasPrefix(key, "[") {
				continue
			}
			provider := usage.InferProvider(key, l.defaultProvider)
			newKey := ModelKey(provider, key)
			if existing, ok := models[newKey]; ok {
				models[newKey] = existing.MaxOf(t)
			} else {
				models[newKey] = t
			}
			delete(models, key)
			changed = true
		}
		l.doc.DailyByModel[date] = models
	}

	for key := range l.pending {
		parts := strings.Split(key, "|")
		if len(parts) != 2 {
			continue
		}
		provider := usage.InferProvider(parts[1], l.defaultProvider)
		l.pending.remove(key)
		l.pending.add(parts[0] + "|" + provider + "|" + parts[1])
		changed = true
	}

	for id, c := range l.doc.Sessions {
		p := usage.NormalizeProvider(c.Provider, "")
		if p == "" {
			c.Provider = l.defaultProvider
			l.doc.Sessions[id] = c
			changed = true
		}
	}
	return changed
}

// ModelKey encodes a provider/model pair as the JSON array used in documents.
func ModelKey(provider, model string) string {
	b, _ := json.Marshal([]string{provider, model})
	return string(b)
}

// ParseModelKey decodes a ModelKey. Legacy bare model names are returned with
// an empty provider.
func ParseModelKey(key string) (provider, model string, ok bool) {
	if !strings.HasPrefix(key, "[") {
		return "", key, key != ""
	}
	var parts []string
	if err := json.Unmarshal([]byte(key), &parts); err != nil || len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], parts[1] != ""
}

func (l *SnapshotLedger) Source() string { return l.source }

func (l *SnapshotLedger) Dirty() bool { return l.dirty }

func (l *SnapshotLedger) Save(path string) error {
	l.doc.Version = docVersion
	l.doc.PendingKeys = l.pending.sorted()
	l.doc.UpdatedAt = l.now().UTC().Format(time.RFC3339)
	if err := docstore.Save(path, l.doc, 0o644); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *SnapshotLedger) Session(key string) (SessionCursor, bool) {
	c, ok := l.doc.Sessions[key]
	return c, ok
}

func (l *SnapshotLedger) CursorCount() int { return len(l.doc.Sessions) }

// ApplySnapshots processes snapshots in timestamp order. Each contributes the
// per-metric growth since the session's last observed totals, clamped at
// zero, to its (date, provider, model) bucket. The cursor always moves to the
// latest observation, so growth after a counter reset is still counted. Touched date|provider|model
// keys are returned and added to the pending set.
func (l *SnapshotLedger) ApplySnapshots(snaps []usage.Snapshot) []string {
	ordered := append([]usage.Snapshot(nil), snaps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	var touched []string
	stamp := l.now().UTC().Format(time.RFC3339)
	for _, snap := range ordered {
		key := strings.TrimSpace(snap.SessionKey)
		model := usage.SanitizeModel(snap.Model)
		if key == "" || model == "" {
			continue
		}
		provider := usage.NormalizeProvider(snap.Provider, l.defaultProvider)
		date := snap.Date
		if !usage.IsDate(date) {
			date = usage.Today(l.now())
		}
		current := snap.Totals.Normalize()

		prev, seen := l.doc.Sessions[key]
		delta := current
		if seen {
			delta = current.DeltaSince(prev.Totals)
		}

		if !delta.IsZero() {
			models, ok := l.doc.DailyByModel[date]
			if !ok {
				models = make(map[string]usage.Totals)
				l.doc.DailyByModel[date] = models
			}
			mk := ModelKey(provider, model)
			models[mk] = models[mk].Add(delta)
			touched = append(touched, date+"|"+provider+"|"+model)
			l.dirty = true
		}

		next := SessionCursor{
			Totals:    current,
			Date:      date,
			Provider:  provider,
			Model:     model,
			Timestamp: snap.Timestamp,
		}
		if seen && next.Totals == prev.Totals && next.Date == prev.Date &&
			next.Provider == prev.Provider && next.Model == prev.Model && next.Timestamp == prev.Timestamp {
			continue
		}
		next.UpdatedAt = stamp
		l.doc.Sessions[key] = next
		l.dirty = true
	}

	if len(touched) == 0 {
		return nil
	}
	touched = sortedUnique(touched)
	l.pending.add(touched...)
	return touched
}

// Aggregates lists every accumulated (date, provider, model) row.
func (l *SnapshotLedger) Aggregates() []usage.Aggregate {
	var out []usage.Aggregate
	for date, models := range l.doc.DailyByModel {
		for key, t := range models {
			provider, model, ok := ParseModelKey(key)
			if !ok {
				continue
			}
			if provider == "" {
				provider = l.defaultProvider
			}
			out = append(out, usage.NewAggregate(date, l.source, provider, model, t))
		}
	}
	usage.SortAggregates(out)
	return out
}

func (l *SnapshotLedger) PendingKey(a usage.Aggregate) (string, bool) {
	if a.Source != l.source {
		return "", false
	}
	return a.Date + "|" + a.Provider + "|" + a.Model, true
}

func (l *SnapshotLedger) PendingKeys() []string {
	return l.pending.sorted()
}

func (l *SnapshotLedger) MarkDelivered(keys ...string) {
	if l.pending.remove(keys...) {
		l.dirty = true
	}
}
