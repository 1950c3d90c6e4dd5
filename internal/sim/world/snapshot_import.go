package world

import (
	"fmt"
	"sort"

	"tilesync.io/internal/persistence/snapshot"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/grid"
)

// ImportSnapshot replaces the current in-memory world state with the
// snapshot and sets the tick to snapshotTick+1. Viewers come back detached
// and can resume with their token.
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.BlockSize != 0 && s.BlockSize != w.cfg.Geometry.BlockSize {
		return fmt.Errorf("snapshot block size %d, world has %d", s.BlockSize, w.cfg.Geometry.BlockSize)
	}
	if s.Depth != 0 && s.Depth != w.cfg.Geometry.Depth {
		return fmt.Errorf("snapshot depth %d, world has %d", s.Depth, w.cfg.Geometry.Depth)
	}

	g, err := grid.New(w.cfg.Geometry)
	if err != nil {
		return err
	}
	w.grid = g
	w.cfg.Seed = s.Seed
	if s.MapRadiusBlocks > 0 {
		w.cfg.MapRadiusBlocks = s.MapRadiusBlocks
	}
	w.entities = map[diff.EntityID]*Entity{}
	w.viewers = map[string]*viewer{}
	clear(w.movers)
	w.generateTerrain()

	// Restore tile order by inserting in slot order.
	ents := append([]snapshot.EntityV1(nil), s.Entities...)
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].Slot < ents[j].Slot })
	for _, ev := range ents {
		e := &Entity{
			ID:           diff.EntityID(ev.ID),
			Kind:         Kind(ev.Kind),
			Name:         ev.Name,
			Icons:        append([]uint32(nil), ev.Icons...),
			Layer:        ev.Layer,
			Dir:          geom.Direction(ev.Dir),
			Dense:        ev.Dense,
			Speed:        ev.Speed,
			Pos:          geom.Pos{X: ev.Pos[0], Y: ev.Pos[1], Z: ev.Pos[2]},
			StunnedUntil: ev.StunnedUntil,
			Body:         diff.EntityID(ev.Body),
			Held:         diff.EntityID(ev.Held),
		}
		if ev.OffGrid {
			w.entities[e.ID] = e
			continue
		}
		t := w.grid.EnsureTile(e.Pos)
		if t == nil {
			return fmt.Errorf("entity %d: position %v out of range", e.ID, e.Pos)
		}
		t.Insert(e.ID, ev.Slot)
		e.placed = true
		w.entities[e.ID] = e
	}
	w.nextEntityID = diff.EntityID(s.NextEntityID)

	for _, lv := range s.Locales {
		l := w.localeByID(lv.ID)
		if l == nil {
			return fmt.Errorf("locale %d not in generated terrain", lv.ID)
		}
		l.Level = lv.Level
		l.Rising = lv.Rising
		l.Visible = lv.Visible
		l.GasID = diff.EntityID(lv.GasID)
		if t := w.grid.TileAt(l.Center); t != nil {
			t.Overlay = l.readout()
		}
	}

	for _, vv := range s.Viewers {
		w.viewers[vv.SessionID] = &viewer{
			SessionID:   vv.SessionID,
			Name:        vv.Name,
			ResumeToken: vv.ResumeToken,
			EntityID:    diff.EntityID(vv.EntityID),
			Body:        diff.EntityID(vv.BodyID),
		}
	}

	// Restoring placed nothing a viewer has seen.
	w.grid.ClearRecords()
	w.tick.Store(s.Header.Tick + 1)
	return nil
}
