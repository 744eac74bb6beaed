// Package external reads usage records dropped into a managed directory by
// other tools, plus OpenCode's own JSONL logs. Each line is one usage record
// in any of the shapes usage.NormalizeRecord understands.
package external

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const (
	maxFileBytes = 10 * 1024 * 1024
	// Depths count the root itself, so managed files may sit two directories
	// below the drop-in root and OpenCode logs five.
	managedDepth  = 3
	openCodeDepth = 6
)

var jsonlExts = map[string]bool{".jsonl": true, ".ndjson": true}

// Options locates the directories to scan.
type Options struct {
	ManagedDir  string
	OpenCodeDir string
}

// Diagnostics describes what a read found, for status output.
type Diagnostics struct {
	ManagedDirExists  bool           `json:"managed_dir_exists"`
	ManagedFiles      int            `json:"managed_files"`
	OpenCodeDirExists bool           `json:"opencode_dir_exists"`
	OpenCodeFiles     int            `json:"opencode_files"`
	ParsedRows        int            `json:"parsed_rows"`
	NormalizerMatches map[string]int `json:"normalizer_matches,omitempty"`
}

type defaults struct {
	source   string
	provider string
}

// DefaultOpenCodeDir is OpenCode's data directory, which holds its logs.
func DefaultOpenCodeDir() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "opencode")
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "share", "opencode")
}

// Read scans both directories and returns rows summed per
// (date, source, provider, model).
func Read(ctx context.Context, opts Options) ([]usage.Aggregate, Diagnostics) {
	diag := Diagnostics{
		ManagedDirExists:  isDir(opts.ManagedDir),
		OpenCodeDirExists: isDir(opts.OpenCodeDir),
		NormalizerMatches: map[string]int{},
	}

	var rows []usage.Aggregate

	managed := shared.CollectFiles(ctx, []string{opts.ManagedDir}, shared.WalkOptions{
		Exts:     jsonlExts,
		MaxDepth: managedDepth,
		MaxSize:  maxFileBytes,
	})
	diag.ManagedFiles = len(managed)
	for _, file := range managed {
		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		src := usage.SanitizeSource(base)
		if src == "" {
			src = usage.SourceExternal
		}
		rows = append(rows, parseFile(file, defaults{source: src, provider: usage.ProviderUnknown}, diag.NormalizerMatches)...)
	}

	openCode := shared.CollectFiles(ctx, []string{opts.OpenCodeDir}, shared.WalkOptions{
		Exts:     jsonlExts,
		MaxDepth: openCodeDepth,
		MaxSize:  maxFileBytes,
		Match:    isOpenCodeLog,
	})
	diag.OpenCodeFiles = len(openCode)
	for _, file := range openCode {
		rows = append(rows, parseFile(file, defaults{source: usage.SourceOpenCode, provider: usage.ProviderUnknown}, diag.NormalizerMatches)...)
	}

	merged := usage.SumByKey(rows)
	diag.ParsedRows = len(merged)
	return merged, diag
}

// DropSource removes rows of the given source. Used when a more
// authoritative reader already covered it.
func DropSource(rows []usage.Aggregate, source string) []usage.Aggregate {
	return lo.Reject(rows, func(r usage.Aggregate, _ int) bool { return r.Source == source })
}

func isOpenCodeLog(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"session", "history", "conversation", "chat", "log"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	path = shared.ExpandHome(path)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func parseFile(path string, def defaults, matches map[string]int) []usage.Aggregate {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []usage.Aggregate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFileBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		row, name, ok := parseRecord(line, def)
		if !ok {
			continue
		}
		matches[name]++
		out = append(out, row)
	}
	return out
}

func parseRecord(line []byte, def defaults) (usage.Aggregate, string, bool) {
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return usage.Aggregate{}, "", false
	}

	date, ok := recordDate(rec)
	if !ok {
		return usage.Aggregate{}, "", false
	}
	modelRaw, _ := rec["model"].(string)
	model := usage.SanitizeModel(modelRaw)
	if model == "" {
		return usage.Aggregate{}, "", false
	}
	totals, name, ok := usage.NormalizeRecord(rec)
	if !ok || totals.TotalIO <= 0 {
		return usage.Aggregate{}, "", false
	}

	source := def.source
	if raw, ok := rec["source"].(string); ok {
		if s := usage.SanitizeSource(raw); s != "" {
			source = s
		}
	}
	provider := usage.InferProvider(model, def.provider)
	if raw, ok := rec["provider"].(string); ok {
		if p := usage.SanitizeProvider(raw); p != "" {
			provider = p
		}
	}
	return usage.NewAggregate(date, source, provider, model, totals), name, true
}

func recordDate(rec map[string]any) (string, bool) {
	for _, key := range []string{"date", "timestamp", "created_at", "created"} {
		if v, ok := rec[key]; ok {
			if d, ok := shared.DateOf(v); ok {
				return d, true
			}
		}
	}
	return "", false
}
