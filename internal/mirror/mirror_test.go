package mirror

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

var testGeo = geom.Geometry{BlockSize: 10, Depth: 1}

func newTestMirror() *Mirror {
	return New(Config{Geometry: testGeo, Window: 3, TilePixels: 32, Debounce: 100 * time.Millisecond}, nil)
}

func ent(id diff.EntityID, layer int32) diff.EntityInfo {
	return diff.EntityInfo{ID: id, Name: "e", Layer: layer, Direction: geom.DirSouth, MoveSpeed: 10}
}

// snap builds a block snapshot with the given entities keyed by absolute
// position.
func snap(k geom.BlockKey, at map[geom.Pos][]diff.EntityInfo) diff.BlockSnapshot {
	s := diff.BlockSnapshot{Key: k, Tiles: make([]diff.TileSnapshot, testGeo.TilesPerBlock())}
	for p, ents := range at {
		s.Tiles[testGeo.LocalIndex(p)].Entities = ents
	}
	return s
}

func resetAt(origin geom.BlockKey, blocks ...diff.BlockSnapshot) *protocol.WindowUpdate {
	return &protocol.WindowUpdate{Reset: true, HasOrigin: true, Origin: origin, Blocks: blocks}
}

func records(rs ...*diff.Record) *protocol.WindowUpdate {
	return &protocol.WindowUpdate{Records: rs}
}

func TestShiftKeepsSurvivingBlocks(t *testing.T) {
	m := newTestMirror()
	var blocks []diff.BlockSnapshot
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			blocks = append(blocks, snap(geom.BlockKey{X: x, Y: y}, nil))
		}
	}
	blocks[4] = snap(geom.BlockKey{X: 1, Y: 1}, map[geom.Pos][]diff.EntityInfo{{X: 10, Y: 10}: {ent(1, 4)}})
	blocks[0] = snap(geom.BlockKey{X: 0, Y: 0}, map[geom.Pos][]diff.EntityInfo{{X: 2, Y: 2}: {ent(2, 4)}})
	m.ApplyUpdate(resetAt(geom.BlockKey{}, blocks...))

	m.ApplyUpdate(&protocol.WindowUpdate{HasOrigin: true, Origin: geom.BlockKey{X: 1, Y: 0}})

	if got, ok := m.Origin(); !ok || got != (geom.BlockKey{X: 1, Y: 0}) {
		t.Fatalf("origin = %v/%v", got, ok)
	}
	ents, ok := m.GetMirroredTileAt(geom.Pos{X: 0, Y: 10})
	if !ok || len(ents) != 1 || ents[0].Info.ID != 1 {
		t.Fatalf("tile (0,10) = %+v/%v, want entity 1", ents, ok)
	}
	if _, ok := m.Entity(2); ok {
		t.Fatalf("entity in discarded block still mirrored")
	}
	if n := len(m.Blocks()); n != 6 {
		t.Fatalf("blocks = %d, want 6", n)
	}
}

func TestRecordsUpdateEntities(t *testing.T) {
	m := newTestMirror()
	m.ApplyUpdate(resetAt(geom.BlockKey{}, snap(geom.BlockKey{}, nil)))

	m.ApplyUpdate(records(
		diff.Add(ent(1, 4), geom.Pos{X: 3, Y: 3}, 0),
		diff.Add(ent(2, 1), geom.Pos{X: 4, Y: 3}, 0),
	))
	m.ApplyUpdate(records(
		diff.MoveIntent(1, geom.DirEast),
		diff.Move(1, geom.DirEast, 5),
		diff.IconsChanged(1, []uint32{7}),
		diff.PlayAnimation(2, 1),
	))

	v, ok := m.Entity(1)
	if !ok {
		t.Fatalf("entity 1 missing")
	}
	if v.Pos != (geom.Pos{X: 4, Y: 3}) || v.Slot != 1 {
		t.Fatalf("moved to %v slot %d, want (4,3,0) slot 1", v.Pos, v.Slot)
	}
	if v.Info.Direction != geom.DirEast || v.Info.MoveSpeed != 5 || v.Intent != geom.DirEast {
		t.Fatalf("after move: %+v", v)
	}
	if len(v.Info.Icons) != 1 || v.Info.Icons[0] != 7 {
		t.Fatalf("icons = %v", v.Info.Icons)
	}
	if v.Progress != 0 {
		t.Fatalf("progress = %v, want 0", v.Progress)
	}
	if w, _ := m.Entity(2); w.Anim != 1 {
		t.Fatalf("anim = %d", w.Anim)
	}

	m.Update(100 * time.Millisecond)
	if v, _ := m.Entity(1); v.Progress != 0.5 {
		t.Fatalf("progress = %v, want 0.5", v.Progress)
	}
	m.Update(time.Second)
	if v, _ := m.Entity(1); v.Progress != 1 {
		t.Fatalf("progress = %v, want 1", v.Progress)
	}

	m.ApplyUpdate(records(diff.DirectionChanged(1, geom.DirNorth), diff.Remove(2)))
	if v, _ := m.Entity(1); v.Info.Direction != geom.DirNorth {
		t.Fatalf("direction = %v", v.Info.Direction)
	}
	if _, ok := m.Entity(2); ok {
		t.Fatalf("removed entity still mirrored")
	}
	if st := m.Stats(); st.Desyncs != 0 {
		t.Fatalf("desyncs = %d", st.Desyncs)
	}
}

func TestRelocateOfUnknownEntityAddsIt(t *testing.T) {
	m := newTestMirror()
	m.ApplyUpdate(resetAt(geom.BlockKey{}, snap(geom.BlockKey{}, nil)))
	m.ApplyUpdate(records(&diff.Record{Kind: diff.KindRelocate, ID: 9, To: geom.Pos{X: 1, Y: 1}}))

	v, ok := m.Entity(9)
	if !ok || v.Pos != (geom.Pos{X: 1, Y: 1}) {
		t.Fatalf("entity 9 = %+v/%v", v, ok)
	}
	if st := m.Stats(); st.Desyncs != 1 {
		t.Fatalf("desyncs = %d, want 1", st.Desyncs)
	}
}

func TestAttributeRecordForUnknownEntityIsDropped(t *testing.T) {
	var buf bytes.Buffer
	m := New(Config{Geometry: testGeo, Window: 3, TilePixels: 32}, log.New(&buf, "", 0))
	m.ApplyUpdate(resetAt(geom.BlockKey{}, snap(geom.BlockKey{}, nil)))
	m.ApplyUpdate(records(diff.Move(4, geom.DirEast, 1), diff.IconsChanged(4, nil)))

	if _, ok := m.Entity(4); ok {
		t.Fatalf("unknown entity created")
	}
	if st := m.Stats(); st.Desyncs != 2 {
		t.Fatalf("desyncs = %d, want 2", st.Desyncs)
	}
	logged := buf.String()
	if strings.Count(logged, "desync") != 2 || !strings.Contains(logged, "MOVE#") || !strings.Contains(logged, "ICONS_CHANGED#") {
		t.Fatalf("desync warnings = %q", logged)
	}
}

func TestOverlayRecordRelabelsTile(t *testing.T) {
	m := newTestMirror()
	s := snap(geom.BlockKey{}, nil)
	s.Tiles[testGeo.LocalIndex(geom.Pos{X: 5, Y: 5})].Overlay = "locale 1: 10"
	m.ApplyUpdate(resetAt(geom.BlockKey{}, s))

	if got, ok := m.OverlayAt(geom.Pos{X: 5, Y: 5}); !ok || got != "locale 1: 10" {
		t.Fatalf("overlay = %q/%v", got, ok)
	}
	m.ApplyUpdate(records(diff.OverlayChanged(geom.Pos{X: 5, Y: 5}, "locale 1: 13")))
	if got, _ := m.OverlayAt(geom.Pos{X: 5, Y: 5}); got != "locale 1: 13" {
		t.Fatalf("overlay = %q, want %q", got, "locale 1: 13")
	}
	if st := m.Stats(); st.Desyncs != 0 {
		t.Fatalf("desyncs = %d", st.Desyncs)
	}
}

func TestSnapshotTakesOverDuplicateEntity(t *testing.T) {
	m := newTestMirror()
	m.ApplyUpdate(resetAt(geom.BlockKey{},
		snap(geom.BlockKey{}, map[geom.Pos][]diff.EntityInfo{{X: 9, Y: 1}: {ent(5, 4)}}),
	))
	moved := ent(5, 4)
	moved.Direction = geom.DirEast
	m.ApplyUpdate(&protocol.WindowUpdate{Blocks: []diff.BlockSnapshot{
		snap(geom.BlockKey{X: 1}, map[geom.Pos][]diff.EntityInfo{{X: 10, Y: 1}: {moved}}),
	}})

	if ents, _ := m.GetMirroredTileAt(geom.Pos{X: 9, Y: 1}); len(ents) != 0 {
		t.Fatalf("old tile still holds %+v", ents)
	}
	v, ok := m.Entity(5)
	if !ok || v.Pos != (geom.Pos{X: 10, Y: 1}) || v.Info.Direction != geom.DirEast {
		t.Fatalf("entity 5 = %+v/%v", v, ok)
	}
}

func TestEntityUnderPointPicksTopmost(t *testing.T) {
	m := newTestMirror()
	m.ApplyUpdate(resetAt(geom.BlockKey{},
		snap(geom.BlockKey{}, map[geom.Pos][]diff.EntityInfo{{X: 0, Y: 0}: {ent(1, 4), ent(2, 2), ent(3, 4)}}),
	))

	id, ok := m.GetEntityUnderPoint(5, 31)
	if !ok || id != 3 {
		t.Fatalf("under = %d/%v, want 3", id, ok)
	}
	if id, ok := m.Under(); !ok || id != 3 {
		t.Fatalf("Under = %d/%v", id, ok)
	}
	if _, ok := m.GetEntityUnderPoint(40, 5); ok {
		t.Fatalf("empty tile reported an entity")
	}

	m.GetEntityUnderPoint(0, 0)
	m.ApplyUpdate(records(diff.Remove(3)))
	if _, ok := m.Under(); ok {
		t.Fatalf("removed entity still under the cursor")
	}
}

func TestStunSuppressesIntents(t *testing.T) {
	m := newTestMirror()
	m.ApplyUpdate(&protocol.WindowUpdate{
		Reset: true, HasOrigin: true,
		Blocks:       []diff.BlockSnapshot{snap(geom.BlockKey{}, map[geom.Pos][]diff.EntityInfo{{X: 1, Y: 1}: {ent(1, 4)}})},
		Controllable: &protocol.Controllable{ID: 1, Speed: 10},
	})
	m.ApplyUpdate(records(diff.Stunned(1, 500)))
	if !m.Stunned() {
		t.Fatalf("not stunned")
	}

	now := time.Unix(100, 0)
	if err := m.EnqueueLocalIntent(protocol.CmdMove, Intent{Direction: geom.DirEast}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.EnqueueLocalIntent(protocol.CmdDrop, Intent{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.EnqueueLocalIntent(protocol.CmdGhost, Intent{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.EnqueueLocalIntent(protocol.CmdDisconnect, Intent{Reason: "bye"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	cmds := m.DrainIntents(now)
	if len(cmds) != 2 || cmds[0].Command != protocol.CmdDisconnect || cmds[0].Reason != "bye" || cmds[1].Command != protocol.CmdGhost {
		t.Fatalf("drained %+v, want DISCONNECT then GHOST", cmds)
	}

	m.Update(600 * time.Millisecond)
	if m.Stunned() {
		t.Fatalf("stun did not expire")
	}
	_ = m.EnqueueLocalIntent(protocol.CmdMove, Intent{Direction: geom.DirEast})
	cmds = m.DrainIntents(now)
	if len(cmds) != 1 || cmds[0].Direction != "EAST" {
		t.Fatalf("drained %+v, want MOVE EAST", cmds)
	}
}

func TestIntentQueueKeepsLatestAndDebounces(t *testing.T) {
	q := NewIntentQueue(100 * time.Millisecond)
	t0 := time.Unix(100, 0)

	_ = q.Put(protocol.CmdMove, Intent{Direction: geom.DirNorth})
	_ = q.Put(protocol.CmdMove, Intent{Direction: geom.DirEast})
	cmds := q.Drain(t0, false)
	if len(cmds) != 1 || cmds[0].Direction != "EAST" || cmds[0].Seq != 1 {
		t.Fatalf("drain = %+v", cmds)
	}

	_ = q.Put(protocol.CmdMove, Intent{Direction: geom.DirWest})
	_ = q.Put(protocol.CmdClick, Intent{Target: 4})
	cmds = q.Drain(t0.Add(50*time.Millisecond), false)
	if len(cmds) != 1 || cmds[0].Command != protocol.CmdClick || cmds[0].Target != 4 {
		t.Fatalf("drain = %+v, want CLICK only", cmds)
	}
	if q.Len() != 1 {
		t.Fatalf("pending = %d, want 1", q.Len())
	}
	cmds = q.Drain(t0.Add(100*time.Millisecond), false)
	if len(cmds) != 1 || cmds[0].Direction != "WEST" || cmds[0].Seq != 3 {
		t.Fatalf("drain = %+v", cmds)
	}

	if err := q.Put("FLY", Intent{}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestApplyPiecesMatchWholeFrame(t *testing.T) {
	frame := newTestMirror()
	pieces := newTestMirror()
	base := []diff.BlockSnapshot{
		snap(geom.BlockKey{}, map[geom.Pos][]diff.EntityInfo{{X: 2, Y: 2}: {ent(1, 4)}}),
		snap(geom.BlockKey{X: 1}, map[geom.Pos][]diff.EntityInfo{{X: 12, Y: 3}: {ent(2, 4)}}),
	}
	frame.ApplyUpdate(resetAt(geom.BlockKey{}, base...))
	pieces.ApplyUpdate(resetAt(geom.BlockKey{}, base...))

	incoming := snap(geom.BlockKey{X: 3}, map[geom.Pos][]diff.EntityInfo{{X: 31, Y: 1}: {ent(3, 4)}})
	move := diff.Relocate(ent(2, 4), geom.Pos{X: 13, Y: 3}, 0, geom.BlockKey{X: 1}, true)
	frame.ApplyUpdate(&protocol.WindowUpdate{
		HasOrigin: true, Origin: geom.BlockKey{X: 1},
		Blocks:  []diff.BlockSnapshot{incoming},
		Records: []*diff.Record{move},
	})
	pieces.ApplyShift(geom.BlockKey{X: 1})
	pieces.ApplySnapshot(&incoming)
	pieces.ApplyRecord(move)

	if a, b := fmt.Sprint(frame.Blocks()), fmt.Sprint(pieces.Blocks()); a != b {
		t.Fatalf("blocks = %s, want %s", b, a)
	}
	if got, _ := pieces.Origin(); got != (geom.BlockKey{X: 1}) {
		t.Fatalf("origin = %v, want (1,0)", got)
	}
	if _, ok := pieces.Entity(1); ok {
		t.Fatalf("entity in shifted-out block still mirrored")
	}
	if v, ok := pieces.Entity(2); !ok || v.Pos != (geom.Pos{X: 13, Y: 3}) {
		t.Fatalf("entity 2 = %+v/%v, want at (13,3)", v, ok)
	}
}

func TestApplyPiecesWithoutOriginAreIgnored(t *testing.T) {
	var buf bytes.Buffer
	m := New(Config{Geometry: testGeo, Window: 3}, log.New(&buf, "", 0))
	s := snap(geom.BlockKey{}, nil)
	m.ApplySnapshot(&s)
	m.ApplyRecord(diff.Add(ent(1, 4), geom.Pos{X: 1, Y: 1}, 0))
	m.ApplyShift(geom.BlockKey{X: 1})
	if n := len(m.Blocks()); n != 0 {
		t.Fatalf("blocks = %d, want 0", n)
	}
	if n := strings.Count(buf.String(), "without a window origin"); n != 3 {
		t.Fatalf("warnings = %d, want 3: %q", n, buf.String())
	}
}

func TestIntentsDoNotWaitForFrameApplication(t *testing.T) {
	m := newTestMirror()
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(chan []protocol.CommandMsg, 1)
	go func() {
		_ = m.EnqueueLocalIntent(protocol.CmdMove, Intent{Direction: geom.DirNorth})
		done <- m.DrainIntents(time.Unix(100, 0))
	}()
	select {
	case cmds := <-done:
		if len(cmds) != 1 || cmds[0].Command != protocol.CmdMove {
			t.Fatalf("drained %+v, want MOVE", cmds)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("intent queue blocked on the mirror lock")
	}
}
