package world

import (
	"errors"

	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/grid"
)

var (
	errNoTile  = errors.New("no tile")
	errBlocked = errors.New("tile blocked")
)

func (w *World) newEntity(kind Kind) *Entity {
	w.nextEntityID++
	e := &Entity{ID: w.nextEntityID, Kind: kind}
	w.entities[e.ID] = e
	return e
}

// enqueue attaches a record to the block of tile t.
func (w *World) enqueue(t *grid.Tile, r *diff.Record) {
	if err := w.grid.Enqueue(t.Block(), r); err != nil {
		w.log.Printf("enqueue %v: %v", r, err)
	}
}

// blocked reports whether a dense entity other than self occupies t.
func (w *World) blocked(t *grid.Tile, self diff.EntityID) bool {
	for _, id := range t.Contents() {
		if id == self {
			continue
		}
		if e := w.entities[id]; e != nil && e.Dense {
			return true
		}
	}
	return false
}

// place puts a new entity on the grid and announces it with an Add.
func (w *World) place(e *Entity, p geom.Pos) error {
	t := w.grid.EnsureTile(p)
	if t == nil {
		return errNoTile
	}
	slot := t.Insert(e.ID, -1)
	e.Pos = p
	e.placed = true
	w.enqueue(t, diff.Add(e.Info(), p, slot))
	return nil
}

// despawn removes e from the grid and the world. The Remove is attached to
// the last tile it occupied.
func (w *World) despawn(e *Entity) {
	w.lift(e)
	delete(w.entities, e.ID)
}

// lift takes e off the grid but keeps it in the world.
func (w *World) lift(e *Entity) {
	if !e.placed {
		return
	}
	if t := w.grid.TileAt(e.Pos); t != nil {
		t.Remove(e.ID)
		w.enqueue(t, diff.Remove(e.ID))
	}
	e.placed = false
}

// relocate is an absolute placement: teleports, level changes and steps
// across a block border.
func (w *World) relocate(e *Entity, p geom.Pos) error {
	dst := w.grid.TileAt(p)
	if dst == nil {
		return errNoTile
	}
	var from geom.BlockKey
	hasFrom := false
	if e.placed {
		if src := w.grid.TileAt(e.Pos); src != nil {
			src.Remove(e.ID)
			from = src.Block().Key
			hasFrom = true
		}
	}
	slot := dst.Insert(e.ID, -1)
	e.Pos = p
	e.placed = true
	w.enqueue(dst, diff.Relocate(e.Info(), p, slot, from, hasFrom))
	return nil
}

// step moves e one tile in a planar direction. Inside a block this is a
// Move; crossing a border becomes a Relocate so cameras can promote it.
func (w *World) step(e *Entity, d geom.Direction) error {
	if !d.Planar() || !e.placed {
		return errNoTile
	}
	dx, dy, _ := d.Delta()
	p := e.Pos.Add(dx, dy, 0)
	dst := w.grid.TileAt(p)
	if dst == nil {
		return errNoTile
	}
	if e.Dense && w.blocked(dst, e.ID) {
		w.face(e, d)
		return errBlocked
	}
	src := w.grid.TileAt(e.Pos)
	if src == nil {
		return errNoTile
	}
	if src.Block() == dst.Block() {
		src.Remove(e.ID)
		dst.Insert(e.ID, -1)
		e.Pos = p
		e.Dir = d
		w.enqueue(dst, diff.Move(e.ID, d, e.Speed))
		return nil
	}
	w.face(e, d)
	return w.relocate(e, p)
}

// face turns e and announces the turn on its current tile.
func (w *World) face(e *Entity, d geom.Direction) {
	if d == geom.DirNone || e.Dir == d {
		return
	}
	e.Dir = d
	if t := w.grid.TileAt(e.Pos); t != nil && e.placed {
		w.enqueue(t, diff.DirectionChanged(e.ID, d))
	}
}

func (w *World) setIcons(e *Entity, icons []uint32) {
	e.Icons = append(e.Icons[:0], icons...)
	if t := w.grid.TileAt(e.Pos); t != nil && e.placed {
		w.enqueue(t, diff.IconsChanged(e.ID, e.Icons))
	}
}

// setOverlay relabels a tile and announces it on the tile's block.
func (w *World) setOverlay(t *grid.Tile, text string) {
	if t == nil || t.Overlay == text {
		return
	}
	t.Overlay = text
	w.enqueue(t, diff.OverlayChanged(t.Pos, text))
}
