package geom

import (
	"fmt"

	"tilesync.io/internal/sim/mathx"
)

// Pos is an absolute tile coordinate.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) Add(dx, dy, dz int) Pos { return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// BlockKey is a block-grid coordinate.
type BlockKey struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (k BlockKey) String() string { return fmt.Sprintf("[%d,%d]", k.X, k.Y) }

// Geometry owns every tile <-> block conversion. Callers never divide by the
// block size themselves.
type Geometry struct {
	BlockSize int
	Depth     int
}

func (g Geometry) Validate() error {
	if g.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0, got %d", g.BlockSize)
	}
	if g.Depth <= 0 {
		return fmt.Errorf("depth must be > 0, got %d", g.Depth)
	}
	return nil
}

// BlockContaining maps a tile coordinate to its block. Floor division keeps
// negative tiles in the block to their lower-left.
func (g Geometry) BlockContaining(tileX, tileY int) BlockKey {
	return BlockKey{X: mathx.FloorDiv(tileX, g.BlockSize), Y: mathx.FloorDiv(tileY, g.BlockSize)}
}

func (g Geometry) BlockOf(p Pos) BlockKey { return g.BlockContaining(p.X, p.Y) }

// BlockOrigin returns the tile at local (0,0,0) of block k.
func (g Geometry) BlockOrigin(k BlockKey) Pos {
	return Pos{X: k.X * g.BlockSize, Y: k.Y * g.BlockSize}
}

// BlockSpan converts a block count into tiles.
func (g Geometry) BlockSpan(blocks int) int { return blocks * g.BlockSize }

func (g Geometry) TilesPerBlock() int { return g.BlockSize * g.BlockSize * g.Depth }

// LocalIndex is the index of p inside its block; z slowest, x fastest.
func (g Geometry) LocalIndex(p Pos) int {
	lx := mathx.Mod(p.X, g.BlockSize)
	ly := mathx.Mod(p.Y, g.BlockSize)
	return (p.Z*g.BlockSize+ly)*g.BlockSize + lx
}

// PosAt is the inverse of LocalIndex for block k.
func (g Geometry) PosAt(k BlockKey, idx int) Pos {
	n := g.BlockSize
	o := g.BlockOrigin(k)
	return Pos{X: o.X + idx%n, Y: o.Y + (idx/n)%n, Z: idx / (n * n)}
}

func (g Geometry) InDepth(z int) bool { return z >= 0 && z < g.Depth }
