package main

import (
	"bytes"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tilesync.io/internal/persistence/indexdb"
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/world"
)

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		_ = idx.WriteTick(world.TickLogEntry{
			Tick:   tick,
			Digest: "d",
			Commands: []world.RecordedCommand{
				{SessionID: "a", Cmd: protocol.CommandMsg{Command: protocol.CmdMove}},
				{SessionID: "b", Cmd: protocol.CommandMsg{Command: protocol.CmdBuild}, Result: protocol.ErrBlocked},
			},
		})
	}
	_ = idx.WriteSession(world.SessionEvent{Tick: 1, SessionID: "a", Name: "ann", Kind: "JOIN"})
	_ = idx.WriteSession(world.SessionEvent{Tick: 1, SessionID: "b", Name: "bob", Kind: "JOIN"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func lines(b *bytes.Buffer) []string {
	s := strings.TrimSpace(b.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRunQueryFilters(t *testing.T) {
	db := seededDB(t)
	cases := []struct {
		q    string
		f    dbFilter
		want int
	}{
		{"ticks", dbFilter{}, 3},
		{"ticks", dbFilter{Limit: 2}, 2},
		{"commands", dbFilter{}, 6},
		{"commands", dbFilter{Rejected: true}, 3},
		{"commands", dbFilter{Session: "a", Rejected: true}, 0},
		{"sessions", dbFilter{Session: "b"}, 1},
		{"snapshots", dbFilter{}, 0},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		if err := runQuery(db, c.q, c.f, &buf); err != nil {
			t.Fatalf("%s %+v: %v", c.q, c.f, err)
		}
		if got := len(lines(&buf)); got != c.want {
			t.Fatalf("%s %+v: rows = %d, want %d", c.q, c.f, got, c.want)
		}
	}
	if err := runQuery(db, "agents", dbFilter{}, &bytes.Buffer{}); err == nil {
		t.Fatalf("unknown query accepted")
	}
}

func TestAdminRequestExitCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = rw.Write([]byte(`{"ok":true,"tick":7}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if code := adminRequest(http.MethodPost, srv.URL+"/", "/admin/v1/snapshot", time.Second, &out); code != 0 {
		t.Fatalf("POST exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), `"tick":7`) {
		t.Fatalf("output = %q", out.String())
	}
	if code := adminRequest(http.MethodGet, srv.URL, "/admin/v1/snapshot", time.Second, &bytes.Buffer{}); code != 1 {
		t.Fatalf("GET exit = %d, want 1", code)
	}
}
