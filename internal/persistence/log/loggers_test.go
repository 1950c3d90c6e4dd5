package log

import (
	"path/filepath"
	"testing"
	"time"

	"tilesync.io/internal/sim/world"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	hour := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	l.w.now = func() time.Time { return hour }

	for tick := uint64(1); tick <= 3; tick++ {
		err := l.WriteTick(world.TickLogEntry{
			Tick:    tick,
			Summary: world.TickSummary{Tick: tick, Frames: int(tick)},
			Digest:  "d",
		})
		if err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "events", "events-2026-03-01-10.jsonl.zst")
	got, err := ReadTicks(path)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[2].Tick != 3 || got[2].Summary.Frames != 3 {
		t.Fatalf("last entry = %+v", got[2])
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		l := NewSessionLogger(dir)
		l.w.now = func() time.Time { return hour }
		if err := l.WriteSession(world.SessionEvent{SessionID: "s", Kind: "JOIN"}); err != nil {
			t.Fatalf("WriteSession: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	n := 0
	err := ReadJSONLZstd(filepath.Join(dir, "sessions", "sessions-2026-03-01-10.jsonl.zst"), func([]byte) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines = %d, want 2", n)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	cur := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return cur }
	_ = w.Write(map[string]int{"a": 1})
	cur = cur.Add(2 * time.Minute)
	_ = w.Write(map[string]int{"a": 2})
	_ = w.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "x-*.jsonl.zst"))
	if len(matches) != 2 {
		t.Fatalf("files = %v, want 2", matches)
	}
}
