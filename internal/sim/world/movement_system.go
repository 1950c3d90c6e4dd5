package world

import (
	"sort"

	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

// systemMovement applies at most one step per requesting entity per tick, in
// entity id order so replays are deterministic.
func (w *World) systemMovement(nowTick uint64) {
	if len(w.movers) == 0 {
		return
	}
	ids := make([]diff.EntityID, 0, len(w.movers))
	for id := range w.movers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	clear(w.movers)

	for _, id := range ids {
		e := w.entities[id]
		if e == nil || e.moveDir == geom.DirNone {
			continue
		}
		d := e.moveDir
		e.moveDir = geom.DirNone
		if e.stunned(nowTick) {
			continue
		}
		if err := w.step(e, d); err != nil {
			w.rejectedTotal++
		}
	}
}

func (w *World) sortedEntityIDs() []diff.EntityID {
	ids := make([]diff.EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
