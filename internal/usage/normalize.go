package usage

import (
	"regexp"
	"strings"
)

// Normalizer recognizes one upstream usage shape inside a decoded JSON record.
type Normalizer struct {
	Name  string
	Match func(rec map[string]any) bool
	Read  func(rec map[string]any) Totals
}

// Normalizers are tried in order; the first match wins.
var Normalizers = []Normalizer{
	{Name: "direct", Match: matchDirect, Read: readDirect},
	{Name: "anthropic", Match: matchAnthropic, Read: readAnthropic},
	{Name: "openai", Match: matchOpenAI, Read: readOpenAI},
	{Name: "gemini", Match: matchGemini, Read: readGemini},
	{Name: "gemini-tokens", Match: matchGeminiTokens, Read: readGeminiTokens},
}

// NormalizeRecord maps a heterogeneous usage record onto Totals. The returned
// name identifies the normalizer that matched.
func NormalizeRecord(rec map[string]any) (Totals, string, bool) {
	for _, n := range Normalizers {
		if n.Match(rec) {
			return n.Read(rec).Normalize(), n.Name, true
		}
	}
	return Totals{}, "", false
}

func matchDirect(rec map[string]any) bool {
	for _, k := range []string{"input_uncached", "output", "cached_read", "cached_write"} {
		if _, ok := rec[k].(float64); ok {
			return true
		}
	}
	return false
}

func readDirect(rec map[string]any) Totals {
	return Totals{
		InputUncached: ToCount(rec["input_uncached"]),
		Output:        ToCount(rec["output"]),
		CachedRead:    ToCount(rec["cached_read"]),
		CachedWrite:   ToCount(rec["cached_write"]),
	}
}

func usageObject(rec map[string]any) map[string]any {
	for _, key := range []string{"usage", "usageMetadata"} {
		if u, ok := rec[key].(map[string]any); ok {
			return u
		}
	}
	if msg, ok := rec["message"].(map[string]any); ok {
		if u, ok := msg["usage"].(map[string]any); ok {
			return u
		}
	}
	return nil
}

func matchAnthropic(rec map[string]any) bool {
	u := usageObject(rec)
	return u != nil && hasAny(u, "input_tokens", "cache_read_input_tokens", "cache_creation_input_tokens")
}

func readAnthropic(rec map[string]any) Totals {
	u := usageObject(rec)
	return FromClaude(
		ToCount(u["input_tokens"]),
		ToCount(u["output_tokens"]),
		ToCount(u["cache_read_input_tokens"]),
		ToCount(u["cache_creation_input_tokens"]),
	)
}

func matchOpenAI(rec map[string]any) bool {
	u := usageObject(rec)
	return u != nil && hasAny(u, "prompt_tokens", "completion_tokens")
}

func readOpenAI(rec map[string]any) Totals {
	u := usageObject(rec)
	prompt := ToCount(u["prompt_tokens"])
	cached := ToCount(u["cached_input_tokens"])
	if details, ok := u["prompt_tokens_details"].(map[string]any); ok {
		cached = max(cached, ToCount(details["cached_tokens"]))
	}
	return Totals{
		InputUncached: prompt - cached,
		Output:        ToCount(u["completion_tokens"]),
		CachedRead:    cached,
	}
}

func matchGemini(rec map[string]any) bool {
	u := usageObject(rec)
	return u != nil && hasAny(u, "promptTokenCount", "candidatesTokenCount")
}

func readGemini(rec map[string]any) Totals {
	u := usageObject(rec)
	prompt := ToCount(u["promptTokenCount"])
	cached := ToCount(u["cachedContentTokenCount"])
	return Totals{
		InputUncached: prompt - cached,
		Output:        ToCount(u["candidatesTokenCount"]),
		CachedRead:    cached,
	}
}

func matchGeminiTokens(rec map[string]any) bool {
	tok, ok := rec["tokens"].(map[string]any)
	return ok && hasAny(tok, "input", "output")
}

func readGeminiTokens(rec map[string]any) Totals {
	tok := rec["tokens"].(map[string]any)
	return FromGemini(ToCount(tok["input"]), ToCount(tok["cached"]), ToCount(tok["output"]))
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// FromClaude maps Anthropic message usage. input_tokens already excludes cache reads.
func FromClaude(input, output, cacheRead, cacheCreation int64) Totals {
	return Totals{
		InputUncached: input,
		Output:        output,
		CachedRead:    cacheRead,
		CachedWrite:   cacheCreation,
	}.Normalize()
}

// FromCodex maps OpenAI-style usage where input_tokens includes cached input.
func FromCodex(input, cachedInput, output int64) Totals {
	return Totals{
		InputUncached: input - cachedInput,
		Output:        output,
		CachedRead:    cachedInput,
	}.Normalize()
}

// FromGemini maps Gemini CLI per-message tokens where input includes cached.
func FromGemini(input, cached, output int64) Totals {
	return Totals{
		InputUncached: input - cached,
		Output:        output,
		CachedRead:    cached,
	}.Normalize()
}

var (
	sourceRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	providerRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
	sourceStep = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// SanitizeSource lowercases a free-form source label and reduces it to the
// collector's accepted alphabet. It returns "" when nothing usable remains.
func SanitizeSource(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = sourceStep.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-_")
	if len(s) > 64 {
		s = s[:64]
	}
	if !sourceRe.MatchString(s) {
		return ""
	}
	return s
}

func SanitizeProvider(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !providerRe.MatchString(s) {
		return ""
	}
	return s
}

// SanitizeModel trims the model name and rejects empty or oversized values.
func SanitizeModel(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > 128 {
		return ""
	}
	return s
}

// NormalizeProvider returns a sanitized provider, or fallback when raw is
// empty, invalid or "unknown".
func NormalizeProvider(raw, fallback string) string {
	p := SanitizeProvider(raw)
	if p == "" || p == ProviderUnknown {
		return fallback
	}
	return p
}

// InferProvider guesses the provider from well-known model name prefixes.
func InferProvider(model, fallback string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1-"), strings.HasPrefix(m, "o3-"), strings.HasPrefix(m, "o4-"):
		return ProviderOpenAI
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini-"):
		return ProviderGoogle
	}
	return fallback
}
