// Package syncer runs one read → aggregate → merge → filter → deliver →
// persist cycle over every usage source and the upload tracker.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/collector"
	"github.com/janekbaraniewski/usagesync/internal/config"
	"github.com/janekbaraniewski/usagesync/internal/ledger"
	"github.com/janekbaraniewski/usagesync/internal/sources/claude"
	"github.com/janekbaraniewski/usagesync/internal/sources/codex"
	"github.com/janekbaraniewski/usagesync/internal/sources/external"
	"github.com/janekbaraniewski/usagesync/internal/sources/gemini"
	"github.com/janekbaraniewski/usagesync/internal/sources/opencode"
	"github.com/janekbaraniewski/usagesync/internal/tracker"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

// Locations says where each reader looks. Empty values disable that reader.
type Locations struct {
	ClaudeProjectsDirs []string
	CodexSessionsDir   string
	GeminiTmpDir       string
	OpenCodeDBPath     string
	OpenCodeDir        string
	ExternalUsageDir   string
}

type Options struct {
	Paths     config.Paths
	Locations Locations
	// Enabled filters readers by source name. Nil enables every reader.
	Enabled func(source string) bool
	// Connect builds the deliverer once a run has something to send.
	// collector.ErrMissingAPIBase and collector.ErrNotLinked turn into skip
	// reasons; any other error fails delivery of the whole batch.
	Connect func(ctx context.Context) (Deliverer, error)
	Logger  *zap.Logger
	Now     func() time.Time
}

type Engine struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time

	runMu sync.Mutex

	mu    sync.Mutex
	phase Phase
}

func New(opts Options) *Engine {
	e := &Engine{opts: opts, log: opts.Logger, now: opts.Now, phase: PhaseIdle}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.opts.Enabled == nil {
		e.opts.Enabled = func(string) bool { return true }
	}
	return e
}

// Phase reports the state of the run in progress, or PhaseIdle.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

type run struct {
	plan   Plan
	report Report
	log    *zap.Logger
	phase  Phase
	start  time.Time

	claude  *ledger.AppendLedger
	codex   *ledger.SnapshotLedger
	gemini  *ledger.SnapshotLedger
	ledgers []ledgerDoc
	tracker *tracker.Tracker

	transcripts  []transcriptBatch
	codexSnaps   []usage.Snapshot
	geminiSnaps  []usage.Snapshot
	openCodeRows []usage.Aggregate
	externalRows []usage.Aggregate
	merged       []usage.Aggregate
	changed      []usage.Aggregate
}

type transcriptBatch struct {
	sessionID string
	path      string
	from      ledger.Cursor
	inc       claude.Incremental
}

type ledgerDoc struct {
	ledger.Ledger
	path string
}

func (e *Engine) enter(r *run, next Phase) {
	now := e.now()
	if r.phase != PhaseIdle {
		r.report.Durations[r.phase] += now.Sub(r.start)
	}
	r.phase, r.start = next, now

	e.mu.Lock()
	e.phase = next
	e.mu.Unlock()
	if next != PhaseIdle {
		r.log.Debug("phase", zap.String("event", "phase"), zap.String("phase", string(next)))
	}
}

// Run executes one cycle. Source read failures degrade to empty input and
// delivery failures stay pending for the next run; only failures to load or
// write the state documents are returned.
func (e *Engine) Run(ctx context.Context, plan Plan) (Report, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if plan.Kind == "" {
		plan.Kind = PlanSync
	}
	r := &run{
		plan:  plan,
		phase: PhaseIdle,
		report: Report{
			RunID:     uuid.NewString(),
			Plan:      plan.Kind,
			Read:      map[string]int{},
			Durations: map[Phase]time.Duration{},
		},
	}
	r.log = e.log.With(zap.String("run_id", r.report.RunID), zap.String("plan", string(plan.Kind)))
	r.log.Info("run started", zap.String("event", "run_start"))
	defer e.enter(r, PhaseIdle)

	e.enter(r, PhaseReading)
	if err := e.load(r); err != nil {
		r.log.Error("load failed", zap.String("event", "load_failed"), zap.Error(err))
		return r.report, err
	}
	e.read(ctx, r)

	e.enter(r, PhaseAggregating)
	e.aggregate(r)

	e.enter(r, PhaseMerging)
	e.merge(r)

	e.enter(r, PhaseFiltering)
	e.filter(r)

	e.enter(r, PhaseDelivering)
	e.deliver(ctx, r)

	e.enter(r, PhasePersisting)
	err := e.persist(r)
	r.report.Pending = e.countPending(r)

	fields := []zap.Field{
		zap.String("event", "run_done"),
		zap.Int("candidates", r.report.Candidates),
		zap.Int("changed", r.report.Changed),
		zap.Int("delivered", r.report.Delivered),
		zap.Int("failed", r.report.Failed),
		zap.Int("pending", r.report.Pending),
	}
	if r.report.Skipped != "" {
		fields = append(fields, zap.String("skipped", r.report.Skipped))
	}
	if err != nil {
		r.log.Error("persist failed", zap.String("event", "persist_failed"), zap.Error(err))
		return r.report, err
	}
	r.log.Info("run finished", fields...)
	return r.report, nil
}

func (e *Engine) load(r *run) error {
	p := e.opts.Paths
	tr, err := tracker.Load(p.UploadTracker)
	if err != nil {
		return fmt.Errorf("syncer: load upload tracker: %w", err)
	}
	r.tracker = tr

	r.claude, err = ledger.LoadAppendLedger(p.ClaudeLedger, usage.SourceClaude, usage.ProviderAnthropic)
	if err != nil {
		return fmt.Errorf("syncer: load claude ledger: %w", err)
	}
	r.ledgers = append(r.ledgers, ledgerDoc{r.claude, p.ClaudeLedger})
	if r.plan.Kind == PlanHook {
		return nil
	}

	r.codex, err = ledger.LoadSnapshotLedger(p.CodexLedger, usage.SourceCodex, usage.ProviderOpenAI)
	if err != nil {
		return fmt.Errorf("syncer: load codex ledger: %w", err)
	}
	r.gemini, err = ledger.LoadSnapshotLedger(p.GeminiLedger, usage.SourceGemini, usage.ProviderGoogle)
	if err != nil {
		return fmt.Errorf("syncer: load gemini ledger: %w", err)
	}
	r.ledgers = append(r.ledgers, ledgerDoc{r.codex, p.CodexLedger}, ledgerDoc{r.gemini, p.GeminiLedger})
	return nil
}

func (e *Engine) read(ctx context.Context, r *run) {
	loc := e.opts.Locations
	now := e.now()

	if r.plan.Kind == PlanHook {
		if r.plan.TranscriptPath != "" && e.opts.Enabled(usage.SourceClaude) {
			e.readTranscript(r, r.plan.SessionID, r.plan.TranscriptPath, now)
		}
		return
	}

	if e.opts.Enabled(usage.SourceClaude) {
		for _, path := range claude.DiscoverTranscripts(ctx, loc.ClaudeProjectsDirs) {
			if ctx.Err() != nil {
				break
			}
			e.readTranscript(r, "", path, now)
		}
	}

	if e.opts.Enabled(usage.SourceCodex) && loc.CodexSessionsDir != "" {
		r.codexSnaps = codex.ReadSessions(ctx, loc.CodexSessionsDir)
		r.report.Read[usage.SourceCodex] += len(r.codexSnaps)
	}

	if e.opts.Enabled(usage.SourceGemini) && loc.GeminiTmpDir != "" {
		r.geminiSnaps = gemini.ReadSessions(ctx, loc.GeminiTmpDir)
		r.report.Read[usage.SourceGemini] += len(r.geminiSnaps)
	}

	if e.opts.Enabled(usage.SourceOpenCode) && loc.OpenCodeDBPath != "" {
		rows, err := opencode.ReadDaily(ctx, loc.OpenCodeDBPath)
		if err != nil {
			r.log.Warn("reader failed", zap.String("event", "reader_failed"),
				zap.String("source", usage.SourceOpenCode), zap.Error(err))
			rows = nil
		}
		r.openCodeRows = rows
		r.report.Read[usage.SourceOpenCode] += len(rows)
	}

	if e.opts.Enabled(usage.SourceExternal) {
		opts := external.Options{ManagedDir: loc.ExternalUsageDir}
		if e.opts.Enabled(usage.SourceOpenCode) {
			opts.OpenCodeDir = loc.OpenCodeDir
		}
		rows, diag := external.Read(ctx, opts)
		if len(r.openCodeRows) > 0 {
			rows = external.DropSource(rows, usage.SourceOpenCode)
		}
		r.externalRows = rows
		r.report.External = diag
		r.report.Read[usage.SourceExternal] += len(rows)
	}
}

func (e *Engine) readTranscript(r *run, sessionID, path string, now time.Time) {
	cur, _ := r.claude.Cursor(sessionID, path)
	inc, ok := claude.ReadIncremental(path, cur.ProcessedLines, now)
	if !ok {
		r.log.Debug("transcript unreadable", zap.String("event", "reader_failed"),
			zap.String("source", usage.SourceClaude), zap.String("path", path))
		return
	}
	if sessionID == "" {
		sessionID = inc.SessionID
	}
	r.transcripts = append(r.transcripts, transcriptBatch{sessionID: sessionID, path: path, from: cur, inc: inc})
	r.report.Read[usage.SourceClaude] += len(inc.Events)
}

// aggregate folds the batches read this run into the ledgers. Touched keys
// join each ledger's pending set.
func (e *Engine) aggregate(r *run) {
	for _, b := range r.transcripts {
		r.report.Touched += len(r.claude.ApplyBatchFrom(b.from, b.sessionID, b.path, b.inc.TotalLines, b.inc.Events))
	}
	if r.codex != nil {
		r.report.Touched += len(r.codex.ApplySnapshots(r.codexSnaps))
	}
	if r.gemini != nil {
		r.report.Touched += len(r.gemini.ApplySnapshots(r.geminiSnaps))
	}
}

func (e *Engine) countPending(r *run) int {
	n := 0
	for _, l := range r.ledgers {
		n += len(l.PendingKeys())
	}
	return n
}

func (e *Engine) merge(r *run) {
	lists := make([][]usage.Aggregate, 0, len(r.ledgers)+2)
	for _, l := range r.ledgers {
		lists = append(lists, l.Aggregates())
	}
	lists = append(lists, r.openCodeRows, r.externalRows)
	r.merged = usage.Merge(lists...)
	r.report.Candidates = len(r.merged)
}

// filter keeps aggregates whose value changed since the last acknowledged
// delivery and clears pending keys that need no further delivery.
func (e *Engine) filter(r *run) {
	r.changed = r.tracker.FilterChanged(r.merged)
	r.report.Changed = len(r.changed)

	for _, l := range r.ledgers {
		byKey := make(map[string]usage.Aggregate)
		for _, a := range r.merged {
			if k, ok := l.PendingKey(a); ok {
				byKey[k] = a
			}
		}
		var clear []string
		for _, k := range l.PendingKeys() {
			a, ok := byKey[k]
			if !ok || r.tracker.Acknowledged(a) {
				clear = append(clear, k)
			}
		}
		if len(clear) > 0 {
			l.MarkDelivered(clear...)
			r.report.Cleared += len(clear)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, r *run) {
	if len(r.changed) == 0 {
		r.report.Skipped = SkipNoChanges
		return
	}
	if e.opts.Connect == nil {
		r.report.Skipped = SkipNotLinked
		return
	}

	d, err := e.opts.Connect(ctx)
	if err != nil {
		switch {
		case errors.Is(err, collector.ErrMissingAPIBase):
			r.report.Skipped = SkipMissingAPIBase
		case errors.Is(err, collector.ErrNotLinked):
			r.report.Skipped = SkipNotLinked
		default:
			r.report.Failed = len(r.changed)
			for _, a := range r.changed {
				r.report.Failures = append(r.report.Failures, Failure{Key: a.Key(), Error: err.Error()})
			}
			r.log.Warn("deliverer unavailable", zap.String("event", "delivery_failed"), zap.Error(err))
			return
		}
		r.log.Info("delivery skipped", zap.String("event", "delivery_skipped"),
			zap.String("reason", r.report.Skipped), zap.Int("changed", len(r.changed)))
		return
	}

	outcomes := d.DeliverAll(ctx, r.changed)
	e.applyOutcomes(r, outcomes)
}

// applyOutcomes records acknowledged items only; everything else keeps its
// pending key and tracker value so the next run retries it.
func (e *Engine) applyOutcomes(r *run, outcomes []collector.Outcome) {
	for _, o := range outcomes {
		if !o.Acknowledged() {
			r.report.Failed++
			r.report.Failures = append(r.report.Failures, Failure{Key: o.Aggregate.Key(), Error: o.Err.Error()})
			continue
		}
		r.report.Delivered++
		r.tracker.MarkDelivered(o.Aggregate)
		for _, l := range r.ledgers {
			if k, ok := l.PendingKey(o.Aggregate); ok {
				l.MarkDelivered(k)
			}
		}
	}
}

func (e *Engine) persist(r *run) error {
	var errs []error
	for _, l := range r.ledgers {
		if !l.Dirty() {
			continue
		}
		if err := l.Save(l.path); err != nil {
			errs = append(errs, fmt.Errorf("syncer: save %s ledger: %w", l.Source(), err))
		}
	}
	if r.tracker.Dirty() {
		if err := r.tracker.Save(e.opts.Paths.UploadTracker); err != nil {
			errs = append(errs, fmt.Errorf("syncer: save upload tracker: %w", err))
		}
	}
	return errors.Join(errs...)
}
