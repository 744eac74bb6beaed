package syncer

import (
	"context"
	"time"

	"github.com/janekbaraniewski/usagesync/internal/collector"
	"github.com/janekbaraniewski/usagesync/internal/sources/external"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseReading     Phase = "reading"
	PhaseAggregating Phase = "aggregating"
	PhaseMerging     Phase = "merging"
	PhaseFiltering   Phase = "filtering"
	PhaseDelivering  Phase = "delivering"
	PhasePersisting  Phase = "persisting"
)

type PlanKind string

const (
	PlanSync PlanKind = "sync"
	PlanHook PlanKind = "hook"
)

// Plan selects which readers a run executes.
type Plan struct {
	Kind           PlanKind
	TranscriptPath string
	SessionID      string
}

func SyncPlan() Plan { return Plan{Kind: PlanSync} }

// HookPlan reads a single Claude transcript and delivers the Claude ledger.
func HookPlan(transcriptPath, sessionID string) Plan {
	return Plan{Kind: PlanHook, TranscriptPath: transcriptPath, SessionID: sessionID}
}

// Skip reasons reported when nothing could be delivered.
const (
	SkipMissingAPIBase = "missing_api_base"
	SkipNotLinked      = "not_linked"
	SkipNoChanges      = "no_changes"
)

type Failure struct {
	Key   string
	Error string
}

type Report struct {
	RunID string
	Plan  PlanKind
	// Read counts events, snapshots or rows per source.
	Read       map[string]int
	Touched    int
	Candidates int
	Changed    int
	Delivered  int
	Failed     int
	Cleared    int
	Pending    int
	Skipped    string
	Failures   []Failure
	External   external.Diagnostics
	Durations  map[Phase]time.Duration
}

// Deliverer sends aggregates and reports one outcome per item, in order.
type Deliverer interface {
	DeliverAll(ctx context.Context, items []usage.Aggregate) []collector.Outcome
}
