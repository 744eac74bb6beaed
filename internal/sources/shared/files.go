// Package shared holds path, file and timestamp helpers used by the source
// readers.
package shared

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// WalkOptions restricts CollectFiles.
type WalkOptions struct {
	// Exts lists accepted lowercase extensions including the dot.
	Exts map[string]bool
	// MaxDepth limits directory depth below each root; zero means unlimited.
	MaxDepth int
	// MaxSize skips files larger than this many bytes; zero means unlimited.
	MaxSize int64
	// Match filters by base name after the extension check.
	Match func(name string) bool
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func ExpandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// CollectFiles walks roots and returns matching regular files, sorted and
// de-duplicated. Unreadable roots and entries are skipped.
func CollectFiles(ctx context.Context, roots []string, opts WalkOptions) []string {
	var files []string
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		root = ExpandHome(root)
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if accept(root, info, opts) {
				files = append(files, root)
			}
			continue
		}
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if walkErr != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
			if d.IsDir() {
				if opts.MaxDepth > 0 && depth >= opts.MaxDepth && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			if accept(path, fi, opts) {
				files = append(files, path)
			}
			return nil
		})
	}
	files = lo.Uniq(files)
	sort.Strings(files)
	return files
}

func accept(path string, fi os.FileInfo, opts WalkOptions) bool {
	if len(opts.Exts) > 0 && !opts.Exts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	if opts.MaxSize > 0 && fi.Size() > opts.MaxSize {
		return false
	}
	if opts.Match != nil && !opts.Match(filepath.Base(path)) {
		return false
	}
	return true
}

func ParseTimestampString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return UnixAuto(n), nil
	}
	return time.Time{}, strconv.ErrSyntax
}

// UnixAuto interprets ts as seconds, milliseconds or microseconds by magnitude.
func UnixAuto(ts int64) time.Time {
	switch {
	case ts > 1_000_000_000_000_000:
		return time.UnixMicro(ts).UTC()
	case ts > 10_000_000_000:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}

// DateOf extracts a YYYY-MM-DD day from a decoded JSON value holding either an
// ISO timestamp string or a unix number.
func DateOf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if len(s) >= 10 && isDigitDate(s[:10]) {
			return s[:10], true
		}
		ts, err := ParseTimestampString(s)
		if err != nil {
			return "", false
		}
		return ts.Format("2006-01-02"), true
	case float64:
		if t <= 0 {
			return "", false
		}
		return UnixAuto(int64(t)).Format("2006-01-02"), true
	}
	return "", false
}

func isDigitDate(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for i, r := range s {
		if i == 4 || i == 7 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
