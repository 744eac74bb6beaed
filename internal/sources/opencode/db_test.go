package opencode

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func seedDB(t *testing.T, rows [][2]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opencode.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE message (id TEXT PRIMARY KEY, session_id TEXT, time_created INTEGER, data TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i, r := range rows {
		if _, err := db.Exec(`INSERT INTO message (id, session_id, time_created, data) VALUES (?, 's1', ?, ?)`, i, r[0], r[1]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func TestReadDailyGroupsByDateProviderModel(t *testing.T) {
	day := time.Date(2026, time.February, 22, 12, 0, 0, 0, time.Local).UnixMilli()
	path := seedDB(t, [][2]any{
		{day, `{"role":"assistant","providerID":"anthropic","modelID":"claude-sonnet-4","tokens":{"input":10,"output":5,"cache":{"read":100,"write":3}}}`},
		{day + 1000, `{"role":"assistant","providerID":"anthropic","modelID":"claude-sonnet-4","tokens":{"input":1,"output":1,"cache":{"read":0,"write":0}}}`},
		{day + 2000, `{"role":"assistant","modelID":"mystery","tokens":{"input":2,"output":2}}`},
		{day + 3000, `{"role":"user","providerID":"anthropic","modelID":"claude-sonnet-4","tokens":{"input":999}}`},
		{day + 4000, `{"role":"assistant","providerID":"openai","modelID":"gpt-5"}`},
	})

	rows, err := ReadDaily(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadDaily: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2: %+v", len(rows), rows)
	}

	byModel := map[string]int{}
	for i, r := range rows {
		byModel[r.Model] = i
		if r.Date != "2026-02-22" {
			t.Fatalf("date = %q, want 2026-02-22", r.Date)
		}
		if r.Source != "opencode" {
			t.Fatalf("source = %q, want opencode", r.Source)
		}
	}
	sonnet := rows[byModel["claude-sonnet-4"]]
	if sonnet.Provider != "anthropic" || sonnet.InputUncached != 11 || sonnet.Output != 6 || sonnet.CachedRead != 100 || sonnet.CachedWrite != 3 {
		t.Fatalf("sonnet row = %+v", sonnet)
	}
	if sonnet.TotalIO != 17 {
		t.Fatalf("total_io = %d, want 17", sonnet.TotalIO)
	}
	mystery := rows[byModel["mystery"]]
	if mystery.Provider != "unknown" {
		t.Fatalf("mystery provider = %q, want unknown", mystery.Provider)
	}
}

func TestReadDailyMissingDatabaseOrTable(t *testing.T) {
	rows, err := ReadDaily(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	if err != nil || rows != nil {
		t.Fatalf("missing db: rows=%v err=%v", rows, err)
	}

	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE session (id TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	rows, err = ReadDaily(context.Background(), path)
	if err != nil || rows != nil {
		t.Fatalf("no message table: rows=%v err=%v", rows, err)
	}
}
