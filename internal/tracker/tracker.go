// Package tracker remembers the last total_io successfully delivered for each
// aggregate identity, so unchanged aggregates are never sent twice.
package tracker

import (
	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagesync/internal/docstore"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

type Tracker struct {
	delivered map[string]int64
	dirty     bool
}

func New() *Tracker {
	return &Tracker{delivered: make(map[string]int64)}
}

// Load reads the tracker document. A missing file yields an empty tracker; a
// corrupt one yields an empty tracker and the decode error.
func Load(path string) (*Tracker, error) {
	t := New()
	doc := map[string]int64{}
	if _, err := docstore.Load(path, &doc); err != nil {
		return t, err
	}
	for k, v := range doc {
		t.delivered[k] = v
	}
	return t, nil
}

func (t *Tracker) Save(path string) error {
	if err := docstore.Save(path, t.delivered, 0o644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

func (t *Tracker) Dirty() bool { return t.dirty }

func (t *Tracker) Len() int { return len(t.delivered) }

// Value returns the last delivered total_io for key.
func (t *Tracker) Value(key string) (int64, bool) {
	v, ok := t.delivered[key]
	return v, ok
}

// Acknowledged reports whether a's current total_io was already delivered.
func (t *Tracker) Acknowledged(a usage.Aggregate) bool {
	v, ok := t.delivered[a.Key()]
	return ok && v == a.TotalIO
}

// FilterChanged keeps the aggregates whose total_io differs from the last
// delivered value, including those never delivered.
func (t *Tracker) FilterChanged(items []usage.Aggregate) []usage.Aggregate {
	return lo.Reject(items, func(a usage.Aggregate, _ int) bool {
		return t.Acknowledged(a)
	})
}

// MarkDelivered records the given acknowledged aggregates.
func (t *Tracker) MarkDelivered(items ...usage.Aggregate) {
	for _, a := range items {
		if v, ok := t.delivered[a.Key()]; ok && v == a.TotalIO {
			continue
		}
		t.delivered[a.Key()] = a.TotalIO
		t.dirty = true
	}
}
