// Package opencode reads daily usage aggregates from the OpenCode SQLite
// database. Rows are recomputed from the database on every read.
package opencode

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janekbaraniewski/usagesync/internal/usage"
)

const dailyByModelSQL = `
	SELECT
		date(time_created / 1000, 'unixepoch', 'localtime') AS day,
		COALESCE(json_extract(data, '$.providerID'), '') AS provider,
		COALESCE(json_extract(data, '$.modelID'), '') AS model,
		COALESCE(SUM(json_extract(data, '$.tokens.input')), 0) AS input_uncached,
		COALESCE(SUM(json_extract(data, '$.tokens.output')), 0) AS output,
		COALESCE(SUM(json_extract(data, '$.tokens.cache.read')), 0) AS cached_read,
		COALESCE(SUM(json_extract(data, '$.tokens.cache.write')), 0) AS cached_write
	FROM message
	WHERE json_extract(data, '$.role') = 'assistant'
		AND json_extract(data, '$.tokens') IS NOT NULL
	GROUP BY day, provider, model
	ORDER BY day
`

func DefaultDBPath() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "opencode", "opencode.db")
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "share", "opencode", "opencode.db")
}

// ReadDaily returns per (date, provider, model) aggregates from the OpenCode
// database. A missing database or message table yields no rows and no error.
func ReadDaily(ctx context.Context, dbPath string) ([]usage.Aggregate, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil
	}

	dsn := (&url.URL{Scheme: "file", Path: dbPath, RawQuery: "mode=ro&_busy_timeout=2000"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opencode: open db: %w", err)
	}
	defer db.Close()

	if !tableExists(ctx, db, "message") {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, dailyByModelSQL)
	if err != nil {
		return nil, fmt.Errorf("opencode: query daily usage: %w", err)
	}
	defer rows.Close()

	var out []usage.Aggregate
	for rows.Next() {
		var (
			day, provider, model                        string
			inputUncached, output, cachedRead, cachedWr float64
		)
		if err := rows.Scan(&day, &provider, &model, &inputUncached, &output, &cachedRead, &cachedWr); err != nil {
			return out, fmt.Errorf("opencode: scan row: %w", err)
		}
		if !usage.IsDate(day) {
			continue
		}
		out = append(out, usage.NewAggregate(
			day,
			usage.SourceOpenCode,
			usage.NormalizeProvider(provider, usage.ProviderUnknown),
			firstModel(model),
			usage.Totals{
				InputUncached: usage.ToCount(inputUncached),
				Output:        usage.ToCount(output),
				CachedRead:    usage.ToCount(cachedRead),
				CachedWrite:   usage.ToCount(cachedWr),
			},
		))
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("opencode: iterate rows: %w", err)
	}
	return out, nil
}

func firstModel(model string) string {
	if m := usage.SanitizeModel(model); m != "" {
		return m
	}
	return usage.ProviderUnknown
}

func tableExists(ctx context.Context, db *sql.DB, table string) bool {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM sqlite_master WHERE type='table' AND name=? LIMIT 1`, strings.TrimSpace(table)).Scan(&exists)
	return err == nil && exists == 1
}
