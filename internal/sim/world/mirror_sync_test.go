package world

import (
	"reflect"
	"testing"

	"tilesync.io/internal/mirror"
	"tilesync.io/internal/protocol"
)

// A mirror fed only by the update stream must match fresh block snapshots
// after every tick.
func TestMirrorMatchesSnapshotsAfterEveryTick(t *testing.T) {
	cfg := testConfig()
	cfg.MapRadiusBlocks = 4
	cfg.Atmos = AtmosConfig{LocaleBlocks: 2, VisibleThreshold: 40, LeakPerTick: 7, MaxLevel: 100}
	w := newTestWorld(t, cfg)

	a, outA := joinViewer(t, w, "a", 16)
	b, outB := joinViewer(t, w, "b", 256)
	m := mirror.New(mirror.Config{Geometry: w.cfg.Geometry, Window: 3, TilePixels: 32}, nil)
	feed := func() {
		for _, raw := range drain(outA) {
			u, err := protocol.DecodeWindowUpdate(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			m.ApplyUpdate(u)
		}
		drain(outB)
	}
	feed()

	for i := 0; i < 80; i++ {
		var cmds []CommandEnvelope
		switch {
		case i < 25:
			cmds = append(cmds, command(a, protocol.CmdMove, "EAST", 0))
		case i < 35:
			cmds = append(cmds, command(a, protocol.CmdMove, "SOUTH", 0))
		case i == 35:
			cmds = append(cmds, command(a, protocol.CmdBuild, "", 0))
		case i == 36, i == 50:
			cmds = append(cmds, command(a, protocol.CmdGhost, "", 0))
		case i < 50:
			cmds = append(cmds, command(a, protocol.CmdMove, "NORTH", 0))
		default:
			cmds = append(cmds, command(a, protocol.CmdMove, "WEST", 0))
		}
		if i%3 == 0 {
			cmds = append(cmds, command(b, protocol.CmdMove, "NORTH", 0))
		} else {
			cmds = append(cmds, command(b, protocol.CmdMove, "WEST", 0))
		}
		w.StepOnce(nil, nil, cmds)
		feed()

		origin, ok := m.Origin()
		if !ok || origin != a.cam.Origin() {
			t.Fatalf("tick %d: mirror origin %v/%v, camera %v", i, origin, ok, a.cam.Origin())
		}
		cells := 0
		for y := 0; y < a.cam.Window(); y++ {
			for x := 0; x < a.cam.Window(); x++ {
				if blk, _ := a.cam.Cell(x, y); blk != nil {
					cells++
				}
			}
		}
		mirrored := m.Blocks()
		if len(mirrored) != cells {
			t.Fatalf("tick %d: mirrored %d blocks, camera holds %d", i, len(mirrored), cells)
		}
		for _, got := range mirrored {
			blk := w.grid.GetBlock(got.Key.X, got.Key.Y)
			if blk == nil {
				t.Fatalf("tick %d: mirror holds %v, server has no such block", i, got.Key)
			}
			want := blk.Snapshot(w.resolve)
			if !reflect.DeepEqual(got, want) {
				for idx := range want.Tiles {
					if !reflect.DeepEqual(got.Tiles[idx], want.Tiles[idx]) {
						t.Fatalf("tick %d block %v tile %v:\n got %+v\nwant %+v",
							i, got.Key, w.cfg.Geometry.PosAt(got.Key, idx), got.Tiles[idx], want.Tiles[idx])
					}
				}
				t.Fatalf("tick %d block %v differs", i, got.Key)
			}
		}
		if ctrl, ok := m.Controllable(); !ok || ctrl.ID != a.EntityID {
			t.Fatalf("tick %d: mirror controllable %v/%v, want %d", i, ctrl.ID, ok, a.EntityID)
		}
	}
	if st := m.Stats(); st.Desyncs != 0 {
		t.Fatalf("desyncs = %d, want 0", st.Desyncs)
	}
}
