package grid

import (
	"errors"
	"sort"

	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

var ErrNilBlock = errors.New("grid: change record for nil block")

// Grid is the arena of Blocks keyed by block coordinate. It is owned by the
// world loop goroutine; nothing here is safe for concurrent use.
type Grid struct {
	geom.Geometry

	blocks map[geom.BlockKey]*Block
	dirty  []*Block
	seq    uint64
}

func New(g geom.Geometry) (*Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Grid{Geometry: g, blocks: map[geom.BlockKey]*Block{}}, nil
}

// GetBlock returns the block or nil for space that was never generated.
func (g *Grid) GetBlock(bx, by int) *Block {
	return g.blocks[geom.BlockKey{X: bx, Y: by}]
}

func (g *Grid) EnsureBlock(k geom.BlockKey) *Block {
	b := g.blocks[k]
	if b == nil {
		b = newBlock(g.Geometry, k)
		g.blocks[k] = b
	}
	return b
}

// TileAt returns nil when the block does not exist or z is out of range.
func (g *Grid) TileAt(p geom.Pos) *Tile {
	if !g.InDepth(p.Z) {
		return nil
	}
	k := g.BlockOf(p)
	b := g.blocks[k]
	if b == nil {
		return nil
	}
	return b.tiles[g.LocalIndex(p)]
}

// EnsureTile creates the owning block if needed.
func (g *Grid) EnsureTile(p geom.Pos) *Tile {
	if !g.InDepth(p.Z) {
		return nil
	}
	b := g.EnsureBlock(g.BlockOf(p))
	return b.tiles[g.LocalIndex(p)]
}

func (g *Grid) Len() int { return len(g.blocks) }

// Enqueue attaches r to b and stamps its global sequence number. A Relocate
// that crossed blocks is also listed as a departure on its source block.
func (g *Grid) Enqueue(b *Block, r *diff.Record) error {
	if b == nil {
		return ErrNilBlock
	}
	g.seq++
	r.Seq = g.seq
	b.records = append(b.records, r)
	g.markDirty(b)
	if r.Kind == diff.KindRelocate && r.HasFrom && r.From != b.Key {
		if src := g.blocks[r.From]; src != nil {
			src.departures = append(src.departures, r)
			g.markDirty(src)
		}
	}
	return nil
}

func (g *Grid) markDirty(b *Block) {
	if !b.dirty {
		b.dirty = true
		g.dirty = append(g.dirty, b)
	}
}

// ClearRecords drops every pending record. Called once per tick after all
// cameras have drained.
func (g *Grid) ClearRecords() int {
	n := 0
	for _, b := range g.dirty {
		n += len(b.records)
		b.records = b.records[:0]
		b.departures = b.departures[:0]
		b.dirty = false
	}
	g.dirty = g.dirty[:0]
	return n
}

// Collect destroys blocks that are empty, not persistent, have nothing
// pending and are not reported in use by inUse.
func (g *Grid) Collect(inUse func(*Block) bool) int {
	n := 0
	for k, b := range g.blocks {
		if b.Persistent || b.entities > 0 || b.Pending() {
			continue
		}
		if inUse != nil && inUse(b) {
			continue
		}
		delete(g.blocks, k)
		n++
	}
	return n
}

// Keys returns every block coordinate in row-major order.
func (g *Grid) Keys() []geom.BlockKey {
	keys := make([]geom.BlockKey, 0, len(g.blocks))
	for k := range g.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys
}
