package world

import (
	"sort"

	"tilesync.io/internal/persistence/snapshot"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		Seed:            w.cfg.Seed,
		TickRate:        w.cfg.TickRateHz,
		BlockSize:       w.cfg.Geometry.BlockSize,
		Depth:           w.cfg.Geometry.Depth,
		MapRadiusBlocks: w.cfg.MapRadiusBlocks,
		NextEntityID:    int32(w.nextEntityID),
	}

	for _, id := range w.sortedEntityIDs() {
		e := w.entities[id]
		slot := 0
		if t := w.grid.TileAt(e.Pos); t != nil && e.placed {
			slot = t.SlotOf(e.ID)
		}
		s.Entities = append(s.Entities, snapshot.EntityV1{
			ID:           int32(e.ID),
			Kind:         uint8(e.Kind),
			Name:         e.Name,
			Icons:        append([]uint32(nil), e.Icons...),
			Layer:        e.Layer,
			Dir:          uint8(e.Dir),
			Dense:        e.Dense,
			Speed:        e.Speed,
			Pos:          [3]int{e.Pos.X, e.Pos.Y, e.Pos.Z},
			Slot:         slot,
			StunnedUntil: e.StunnedUntil,
			Body:         int32(e.Body),
			Held:         int32(e.Held),
			OffGrid:      !e.placed,
		})
	}
	for _, l := range w.locales {
		s.Locales = append(s.Locales, snapshot.LocaleV1{
			ID:      l.ID,
			Level:   l.Level,
			Rising:  l.Rising,
			GasID:   int32(l.GasID),
			Visible: l.Visible,
		})
	}
	for _, v := range w.viewers {
		s.Viewers = append(s.Viewers, snapshot.ViewerV1{
			SessionID:   v.SessionID,
			Name:        v.Name,
			ResumeToken: v.ResumeToken,
			EntityID:    int32(v.EntityID),
			BodyID:      int32(v.Body),
		})
	}
	sort.Slice(s.Viewers, func(i, j int) bool { return s.Viewers[i].SessionID < s.Viewers[j].SessionID })
	return s
}
