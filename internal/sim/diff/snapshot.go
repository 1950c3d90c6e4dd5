package diff

import "tilesync.io/internal/sim/geom"

// TileSnapshot is the full viewer-visible state of one tile, entities in
// occupancy order.
type TileSnapshot struct {
	Overlay  string
	Entities []EntityInfo
}

// BlockSnapshot holds every tile of a block in geom.Geometry.LocalIndex order.
type BlockSnapshot struct {
	Key   geom.BlockKey
	Tiles []TileSnapshot
}

func (s BlockSnapshot) EntityCount() int {
	n := 0
	for _, t := range s.Tiles {
		n += len(t.Entities)
	}
	return n
}
