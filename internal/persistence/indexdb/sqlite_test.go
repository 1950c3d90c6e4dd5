package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"tilesync.io/internal/persistence/snapshot"
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/tuning"
	"tilesync.io/internal/sim/world"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteSession(world.SessionEvent{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropSessionTotal != 1 {
		t.Fatalf("DropSessionTotal=%d want=1", st.DropSessionTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}

	_ = idx.WriteTick(world.TickLogEntry{
		Tick:   5,
		Joins:  []world.RecordedJoin{{SessionID: "s1", Name: "ann", EntityID: 3}},
		Digest: "abc",
		Commands: []world.RecordedCommand{
			{SessionID: "s1", Cmd: protocol.CommandMsg{Type: protocol.TypeCommand, Command: protocol.CmdMove, Direction: "N"}},
			{SessionID: "s1", Cmd: protocol.CommandMsg{Type: protocol.TypeCommand, Command: protocol.CmdBuild}, Result: "E_BLOCKED"},
		},
		Summary: world.TickSummary{Tick: 5, Frames: 1, Bytes: 40, Rejected: 1},
	})
	_ = idx.WriteSession(world.SessionEvent{Tick: 5, SessionID: "s1", Name: "ann", EntityID: 3, Kind: "JOIN"})
	_ = idx.WriteSession(world.SessionEvent{Tick: 5, SessionID: "s1", Name: "ann", EntityID: 3, Kind: "LEAVE"})
	idx.RecordSnapshot("/snaps/5.snap.zst", snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: "w", Tick: 5},
		Seed:     9,
		Entities: []snapshot.EntityV1{{ID: 1}, {ID: 2}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	count := func(q string, args ...any) int {
		t.Helper()
		var n int
		if err := db.QueryRow(q, args...).Scan(&n); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM ticks WHERE tick=5 AND digest='abc' AND rejected=1 AND bytes=40`); n != 1 {
		t.Fatalf("ticks = %d, want 1", n)
	}
	if n := count(`SELECT COUNT(*) FROM commands WHERE tick=5`); n != 2 {
		t.Fatalf("commands = %d, want 2", n)
	}
	if n := count(`SELECT COUNT(*) FROM commands WHERE result='E_BLOCKED' AND command=?`, protocol.CmdBuild); n != 1 {
		t.Fatalf("rejected build rows = %d, want 1", n)
	}
	if n := count(`SELECT COUNT(*) FROM sessions WHERE session_id='s1'`); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}
	if n := count(`SELECT entities FROM snapshots WHERE tick=5`); n != 2 {
		t.Fatalf("snapshot entities = %d, want 2", n)
	}
	if n := count(`SELECT COUNT(*) FROM config WHERE name='tuning'`); n != 1 {
		t.Fatalf("config rows = %d, want 1", n)
	}
}
