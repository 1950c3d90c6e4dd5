package grid

import (
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

type Block struct {
	Key geom.BlockKey

	// Persistent blocks are never collected (generated terrain).
	Persistent bool

	tiles    []*Tile
	entities int

	records    []*diff.Record
	departures []*diff.Record
	dirty      bool
}

func newBlock(g geom.Geometry, k geom.BlockKey) *Block {
	b := &Block{Key: k, tiles: make([]*Tile, g.TilesPerBlock())}
	for i := range b.tiles {
		b.tiles[i] = &Tile{Pos: g.PosAt(k, i), block: b}
	}
	return b
}

func (b *Block) Tiles() []*Tile { return b.tiles }

func (b *Block) EntityCount() int { return b.entities }

// Records are the pending mutations observed in this block this tick, in
// enqueue order.
func (b *Block) Records() []*diff.Record { return b.records }

// Departures are Relocate records owned by other blocks whose entity left
// this block this tick.
func (b *Block) Departures() []*diff.Record { return b.departures }

func (b *Block) Pending() bool { return len(b.records) > 0 || len(b.departures) > 0 }

// Snapshot captures every tile. resolve maps an occupant id to its current
// state; unresolvable ids are skipped.
func (b *Block) Snapshot(resolve func(diff.EntityID) (diff.EntityInfo, bool)) diff.BlockSnapshot {
	s := diff.BlockSnapshot{Key: b.Key, Tiles: make([]diff.TileSnapshot, len(b.tiles))}
	for i, t := range b.tiles {
		ts := diff.TileSnapshot{Overlay: t.Overlay}
		if len(t.contents) > 0 {
			ts.Entities = make([]diff.EntityInfo, 0, len(t.contents))
			for _, id := range t.contents {
				if info, ok := resolve(id); ok {
					ts.Entities = append(ts.Entities, info)
				}
			}
		}
		s.Tiles[i] = ts
	}
	return s
}
