package usage

import (
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	ProviderUnknown   = "unknown"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

const (
	SourceClaude   = "claude"
	SourceCodex    = "codex"
	SourceGemini   = "gemini"
	SourceOpenCode = "opencode"
	SourceExternal = "external"
)

// Totals is the normalized token breakdown shared by every source.
// TotalIO is derived and must never be taken from upstream data.
type Totals struct {
	InputUncached int64 `json:"inputUncached"`
	Output        int64 `json:"output"`
	CachedRead    int64 `json:"cachedRead"`
	CachedWrite   int64 `json:"cachedWrite"`
	TotalIO       int64 `json:"totalIO"`
}

// Normalize clamps negative counters to zero and recomputes TotalIO.
func (t Totals) Normalize() Totals {
	t.InputUncached = max(t.InputUncached, 0)
	t.Output = max(t.Output, 0)
	t.CachedRead = max(t.CachedRead, 0)
	t.CachedWrite = max(t.CachedWrite, 0)
	t.TotalIO = t.InputUncached + t.Output
	return t
}

func (t Totals) Gross() int64 {
	n := t.Normalize()
	return n.TotalIO + n.CachedRead + n.CachedWrite
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		InputUncached: t.InputUncached + o.InputUncached,
		Output:        t.Output + o.Output,
		CachedRead:    t.CachedRead + o.CachedRead,
		CachedWrite:   t.CachedWrite + o.CachedWrite,
	}.Normalize()
}

// DeltaSince returns the per-metric growth from prev to t. A metric that went
// backwards contributes zero rather than a negative correction.
func (t Totals) DeltaSince(prev Totals) Totals {
	return Totals{
		InputUncached: max(t.InputUncached-prev.InputUncached, 0),
		Output:        max(t.Output-prev.Output, 0),
		CachedRead:    max(t.CachedRead-prev.CachedRead, 0),
		CachedWrite:   max(t.CachedWrite-prev.CachedWrite, 0),
	}.Normalize()
}

// MaxOf keeps the larger value of each metric.
func (t Totals) MaxOf(o Totals) Totals {
	return Totals{
		InputUncached: max(t.InputUncached, o.InputUncached),
		Output:        max(t.Output, o.Output),
		CachedRead:    max(t.CachedRead, o.CachedRead),
		CachedWrite:   max(t.CachedWrite, o.CachedWrite),
	}.Normalize()
}

func (t Totals) IsZero() bool {
	n := t.Normalize()
	return n.TotalIO == 0 && n.CachedRead == 0 && n.CachedWrite == 0
}

// Event is one usage record read from an append-only log.
type Event struct {
	EventID   string
	SessionID string
	Date      string
	Model     string
	Provider  string
	Totals    Totals
}

// Snapshot is the cumulative usage a source reports for one session as of now.
type Snapshot struct {
	SessionKey string
	Date       string
	Timestamp  string
	Provider   string
	Model      string
	Totals     Totals
}

// Aggregate is the daily row delivered to the collector.
type Aggregate struct {
	Date          string `json:"date"`
	Source        string `json:"source"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	InputUncached int64  `json:"input_uncached"`
	Output        int64  `json:"output"`
	CachedRead    int64  `json:"cached_read"`
	CachedWrite   int64  `json:"cached_write"`
	TotalIO       int64  `json:"total_io"`
}

func NewAggregate(date, source, provider, model string, t Totals) Aggregate {
	t = t.Normalize()
	return Aggregate{
		Date:          date,
		Source:        source,
		Provider:      provider,
		Model:         model,
		InputUncached: t.InputUncached,
		Output:        t.Output,
		CachedRead:    t.CachedRead,
		CachedWrite:   t.CachedWrite,
		TotalIO:       t.TotalIO,
	}
}

func (a Aggregate) Totals() Totals {
	return Totals{
		InputUncached: a.InputUncached,
		Output:        a.Output,
		CachedRead:    a.CachedRead,
		CachedWrite:   a.CachedWrite,
	}.Normalize()
}

// Normalized returns a copy with clamped counters and a recomputed TotalIO.
func (a Aggregate) Normalized() Aggregate {
	return NewAggregate(a.Date, a.Source, a.Provider, a.Model, a.Totals())
}

// Key identifies the aggregate for delivery tracking: date|source|provider|model.
func (a Aggregate) Key() string {
	return strings.Join([]string{a.Date, a.Source, a.Provider, a.Model}, "|")
}

func (a Aggregate) groupKey() string {
	return strings.Join([]string{a.Date, a.Source, a.Model}, "|")
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func IsDate(s string) bool {
	return dateRe.MatchString(s)
}

// DatePrefix returns the YYYY-MM-DD prefix of an ISO timestamp, or "" when
// the value does not start with one.
func DatePrefix(ts string) string {
	ts = strings.TrimSpace(ts)
	if len(ts) < 10 || !IsDate(ts[:10]) {
		return ""
	}
	return ts[:10]
}

func Today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// ToCount converts a decoded JSON number into a non-negative integer counter.
func ToCount(v any) int64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Trunc(f))
}
