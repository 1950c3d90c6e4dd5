package grid

import (
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

// Tile lives in exactly one Block for the Block's lifetime.
type Tile struct {
	Pos geom.Pos

	// LocaleID links the tile to an atmos locale; 0 means none.
	LocaleID int
	Overlay  string

	block    *Block
	contents []diff.EntityID
}

func (t *Tile) Block() *Block { return t.block }

// Contents is the occupancy order. The slice is owned by the tile.
func (t *Tile) Contents() []diff.EntityID { return t.contents }

func (t *Tile) Len() int { return len(t.contents) }

func (t *Tile) Has(id diff.EntityID) bool { return t.SlotOf(id) >= 0 }

func (t *Tile) SlotOf(id diff.EntityID) int {
	for i, v := range t.contents {
		if v == id {
			return i
		}
	}
	return -1
}

// Insert places id at slot, clamped to [0,len]. A negative slot appends.
// Returns the slot actually used.
func (t *Tile) Insert(id diff.EntityID, slot int) int {
	if slot < 0 || slot > len(t.contents) {
		slot = len(t.contents)
	}
	t.contents = append(t.contents, 0)
	copy(t.contents[slot+1:], t.contents[slot:])
	t.contents[slot] = id
	t.block.entities++
	return slot
}

func (t *Tile) Remove(id diff.EntityID) bool {
	i := t.SlotOf(id)
	if i < 0 {
		return false
	}
	t.contents = append(t.contents[:i], t.contents[i+1:]...)
	t.block.entities--
	return true
}
