package main

import (
	"os"
	"path/filepath"
	"testing"

	"tilesync.io/internal/sim/tuning"
	"tilesync.io/internal/sim/world"
)

func TestLatestSnapshotPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"900.snap.zst", "3000.snap.zst", "junk.snap.zst", "4000.txt"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := latestSnapshot(dir), filepath.Join(snaps, "3000.snap.zst"); got != want {
		t.Fatalf("latestSnapshot = %q, want %q", got, want)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("latestSnapshot(empty) = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TS_MAX_VIEWERS", "12")
	t.Setenv("TS_SEND_QUEUE", "-3")
	t.Setenv("TS_CORS_ORIGINS", " http://a.example , ,http://b.example")
	t.Setenv("TS_FLAG", "yes")

	tune := tuning.Defaults()
	applyEnvOverrides(&tune)
	if tune.MaxViewers != 12 {
		t.Fatalf("MaxViewers = %d, want 12", tune.MaxViewers)
	}
	if tune.SendQueue != tuning.Defaults().SendQueue {
		t.Fatalf("negative override applied: %d", tune.SendQueue)
	}
	if got := envList("TS_CORS_ORIGINS"); len(got) != 2 || got[1] != "http://b.example" {
		t.Fatalf("envList = %q", got)
	}
	if envBool("TS_FLAG", true) != true {
		t.Fatalf("unparseable bool should keep default")
	}
}

type countingLogger struct{ ticks, sessions int }

func (c *countingLogger) WriteTick(world.TickLogEntry) error {
	c.ticks++
	return nil
}

func (c *countingLogger) WriteSession(world.SessionEvent) error {
	c.sessions++
	return nil
}

func TestMultiLoggersFanOut(t *testing.T) {
	a, b := &countingLogger{}, &countingLogger{}
	_ = multiTickLogger{a, b}.WriteTick(world.TickLogEntry{})
	_ = multiSessionLogger{a, b}.WriteSession(world.SessionEvent{})
	if a.ticks != 1 || b.ticks != 1 || a.sessions != 1 || b.sessions != 1 {
		t.Fatalf("fan out = %+v %+v", a, b)
	}
}

func TestIndexBackendSelection(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TS_INDEX_BACKEND", "off")
	if idx, err := openRuntimeIndex(dir, false); err != nil || idx != nil {
		t.Fatalf("off backend = %v, %v", idx, err)
	}
	t.Setenv("TS_INDEX_BACKEND", "postgres")
	if _, err := openRuntimeIndex(dir, false); err == nil {
		t.Fatalf("unknown backend accepted")
	}
	t.Setenv("TS_INDEX_BACKEND", "")
	idx, err := openRuntimeIndex(dir, false)
	if err != nil || idx == nil {
		t.Fatalf("sqlite backend = %v, %v", idx, err)
	}
	_ = idx.Close()
}
