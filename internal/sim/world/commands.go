package world

import (
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/mathx"
)

// applyCommand runs one viewer intent and returns "" or an error code.
func (w *World) applyCommand(v *viewer, cmd protocol.CommandMsg, nowTick uint64) string {
	switch cmd.Command {
	case protocol.CmdResync:
		if v.cam == nil {
			return protocol.ErrSessionUnknown
		}
		v.cam.Resync()
		return ""
	case protocol.CmdDisconnect:
		w.drop(v, "LEAVE")
		return ""
	}

	e := w.entities[v.EntityID]
	if e == nil || !e.placed {
		return protocol.ErrInvalidTarget
	}
	// Ghosting is the way out of a stun.
	if cmd.Command == protocol.CmdGhost {
		return w.cmdGhost(v, e)
	}
	if e.stunned(nowTick) {
		return protocol.ErrStunned
	}

	switch cmd.Command {
	case protocol.CmdMove:
		d, ok := geom.ParseDirection(cmd.Direction)
		if !ok || !d.Planar() {
			return protocol.ErrBadRequest
		}
		e.moveDir = d
		w.movers[e.ID] = struct{}{}
		w.enqueue(w.grid.TileAt(e.Pos), diff.MoveIntent(e.ID, d))
		return ""
	case protocol.CmdMoveZ:
		return w.cmdMoveZ(e, cmd.Direction)
	case protocol.CmdClick:
		return w.cmdClick(e, diff.EntityID(cmd.Target), nowTick)
	case protocol.CmdBuild:
		return w.cmdBuild(e)
	case protocol.CmdDrop:
		return w.cmdDrop(e)
	}
	return protocol.ErrBadRequest
}

func (w *World) cmdMoveZ(e *Entity, dir string) string {
	d, ok := geom.ParseDirection(dir)
	if !ok || (d != geom.DirUp && d != geom.DirDown) {
		return protocol.ErrBadRequest
	}
	_, _, dz := d.Delta()
	p := e.Pos.Add(0, 0, dz)
	t := w.grid.TileAt(p)
	if t == nil {
		return protocol.ErrBlocked
	}
	if e.Dense && w.blocked(t, e.ID) {
		return protocol.ErrBlocked
	}
	if err := w.relocate(e, p); err != nil {
		return protocol.ErrBlocked
	}
	return ""
}

// cmdClick faces an adjacent target and plays the interaction animation.
// Creatures that are clicked are stunned; items are picked up by a creature
// with free hands.
func (w *World) cmdClick(e *Entity, target diff.EntityID, nowTick uint64) string {
	t := w.entities[target]
	if t == nil || !t.placed || t.ID == e.ID {
		return protocol.ErrInvalidTarget
	}
	if t.Pos.Z != e.Pos.Z || mathx.AbsInt(t.Pos.X-e.Pos.X) > 1 || mathx.AbsInt(t.Pos.Y-e.Pos.Y) > 1 {
		return protocol.ErrInvalidTarget
	}
	w.face(e, geom.Facing(e.Pos, t.Pos))
	w.enqueue(w.grid.TileAt(e.Pos), diff.PlayAnimation(e.ID, AnimInteract))
	if t.Kind == KindCreature {
		t.StunnedUntil = nowTick + w.cfg.stunTicks()
		w.enqueue(w.grid.TileAt(t.Pos), diff.Stunned(t.ID, int32(w.cfg.StunMS)))
	}
	if t.Kind == KindItem && e.Kind == KindCreature && e.Held == 0 {
		w.lift(t)
		e.Held = t.ID
	}
	return ""
}

// cmdDrop puts the carried item on the creature's own tile.
func (w *World) cmdDrop(e *Entity) string {
	item := w.entities[e.Held]
	if e.Held == 0 || item == nil || item.placed {
		return protocol.ErrInvalidTarget
	}
	if err := w.relocate(item, e.Pos); err != nil {
		return protocol.ErrBlocked
	}
	e.Held = 0
	return ""
}

// cmdBuild places a wall on the tile the creature faces.
func (w *World) cmdBuild(e *Entity) string {
	if e.Kind != KindCreature || !e.Dir.Planar() {
		return protocol.ErrBadRequest
	}
	dx, dy, _ := e.Dir.Delta()
	p := e.Pos.Add(dx, dy, 0)
	t := w.grid.TileAt(p)
	if t == nil || w.blocked(t, 0) {
		return protocol.ErrBlocked
	}
	if w.spawnWall(p) == nil {
		return protocol.ErrBlocked
	}
	return ""
}

// cmdGhost leaves the body behind as a ghost, or returns a ghost to its
// body. Either way the viewer gets a new controllable.
func (w *World) cmdGhost(v *viewer, e *Entity) string {
	var next *Entity
	switch e.Kind {
	case KindCreature:
		g := w.newEntity(KindGhost)
		g.Name = e.Name
		g.Icons = []uint32{IconGhost}
		g.Layer = LayerGhost
		g.Dir = e.Dir
		g.Speed = e.Speed * 2
		g.Body = e.ID
		if err := w.place(g, e.Pos); err != nil {
			delete(w.entities, g.ID)
			return protocol.ErrBlocked
		}
		next = g
	case KindGhost:
		body := w.entities[e.Body]
		if body == nil || !body.placed {
			return protocol.ErrInvalidTarget
		}
		w.despawn(e)
		next = body
	default:
		return protocol.ErrBadRequest
	}
	v.EntityID = next.ID
	if v.cam != nil {
		v.cam.SetControllable(next.ID, next.Speed)
	}
	return ""
}
