package ledger

import (
	"sort"

	"github.com/janekbaraniewski/usagesync/internal/usage"
	"github.com/samber/lo"
)

const docVersion = 1

// maxRecentEventIDs bounds the per-cursor list used to skip events whose
// lines straddle two reads of the same transcript.
const maxRecentEventIDs = 256

type pendingSet map[string]struct{}

func newPendingSet(keys []string) pendingSet {
	s := make(pendingSet, len(keys))
	for _, k := range keys {
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

func (s pendingSet) add(keys ...string) bool {
	changed := false
	for _, k := range keys {
		if _, ok := s[k]; ok || k == "" {
			continue
		}
		s[k] = struct{}{}
		changed = true
	}
	return changed
}

func (s pendingSet) remove(keys ...string) bool {
	changed := false
	for _, k := range keys {
		if _, ok := s[k]; ok {
			delete(s, k)
			changed = true
		}
	}
	return changed
}

func (s pendingSet) sorted() []string {
	out := lo.Keys(s)
	sort.Strings(out)
	return out
}

func sortedUnique(keys []string) []string {
	out := lo.Uniq(keys)
	sort.Strings(out)
	return out
}

// Ledger is the part of AppendLedger and SnapshotLedger the sync run needs
// once sources have been applied.
type Ledger interface {
	Source() string
	Dirty() bool
	Save(path string) error
	Aggregates() []usage.Aggregate
	PendingKey(a usage.Aggregate) (string, bool)
	PendingKeys() []string
	MarkDelivered(keys ...string)
	CursorCount() int
}

var (
	_ Ledger = (*AppendLedger)(nil)
	_ Ledger = (*SnapshotLedger)(nil)
)
