package syncer

import (
	"fmt"

	"github.com/janekbaraniewski/usagesync/internal/ledger"
	"github.com/janekbaraniewski/usagesync/internal/tracker"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

type LedgerStatus struct {
	Source  string
	Path    string
	Rows    int
	Cursors int
	Pending []string
	Err     error
}

type Status struct {
	Ledgers        []LedgerStatus
	TrackerEntries int
	TrackerErr     error
	// Undelivered counts ledger aggregates whose current value the tracker
	// has not acknowledged.
	Undelivered int
}

// Status loads the state documents read-only and summarizes them.
func (e *Engine) Status() Status {
	p := e.opts.Paths
	var st Status

	tr, err := tracker.Load(p.UploadTracker)
	if err != nil {
		st.TrackerErr = fmt.Errorf("syncer: load upload tracker: %w", err)
	}
	st.TrackerEntries = tr.Len()

	type loader func() (ledger.Ledger, error)
	docs := []struct {
		source string
		path   string
		load   loader
	}{
		{usage.SourceClaude, p.ClaudeLedger, func() (ledger.Ledger, error) {
			return ledger.LoadAppendLedger(p.ClaudeLedger, usage.SourceClaude, usage.ProviderAnthropic)
		}},
		{usage.SourceCodex, p.CodexLedger, func() (ledger.Ledger, error) {
			return ledger.LoadSnapshotLedger(p.CodexLedger, usage.SourceCodex, usage.ProviderOpenAI)
		}},
		{usage.SourceGemini, p.GeminiLedger, func() (ledger.Ledger, error) {
			return ledger.LoadSnapshotLedger(p.GeminiLedger, usage.SourceGemini, usage.ProviderGoogle)
		}},
	}

	for _, d := range docs {
		ls := LedgerStatus{Source: d.source, Path: d.path}
		l, err := d.load()
		if err != nil {
			ls.Err = err
			st.Ledgers = append(st.Ledgers, ls)
			continue
		}
		rows := l.Aggregates()
		ls.Rows = len(rows)
		ls.Cursors = l.CursorCount()
		ls.Pending = l.PendingKeys()
		for _, a := range rows {
			if a.TotalIO > 0 && !tr.Acknowledged(a) {
				st.Undelivered++
			}
		}
		st.Ledgers = append(st.Ledgers, ls)
	}
	return st
}
