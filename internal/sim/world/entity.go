package world

import (
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

type Kind uint8

const (
	KindCreature Kind = iota + 1
	KindItem
	KindStructure
	KindTurf
	KindGhost
	KindGas
)

func (k Kind) String() string {
	switch k {
	case KindCreature:
		return "creature"
	case KindItem:
		return "item"
	case KindStructure:
		return "structure"
	case KindTurf:
		return "turf"
	case KindGhost:
		return "ghost"
	case KindGas:
		return "gas"
	}
	return "unknown"
}

// Controllable reports whether a viewer may drive entities of this kind.
func (k Kind) Controllable() bool { return k == KindCreature || k == KindGhost }

// Icon ids understood by viewers.
const (
	IconMob   uint32 = 1
	IconGhost uint32 = 2
	IconWall  uint32 = 3
	IconCrate uint32 = 4
	IconGas   uint32 = 5
)

// Draw layers, lowest first.
const (
	LayerFloorItem int32 = 1
	LayerWall      int32 = 2
	LayerGas       int32 = 3
	LayerMob       int32 = 4
	LayerGhost     int32 = 5
)

const AnimInteract uint32 = 1

type Entity struct {
	ID    diff.EntityID
	Kind  Kind
	Name  string
	Icons []uint32
	Layer int32
	Dir   geom.Direction
	Dense bool
	Speed float32

	Pos geom.Pos
	// placed is false while the entity is off the grid.
	placed bool

	StunnedUntil uint64
	// Body is the creature a ghost left behind.
	Body diff.EntityID
	// Held is the item a creature carries off the grid.
	Held diff.EntityID

	// moveDir is the step requested for this tick.
	moveDir geom.Direction
}

func (e *Entity) Info() diff.EntityInfo {
	return diff.EntityInfo{
		ID:        e.ID,
		Name:      e.Name,
		Icons:     append([]uint32(nil), e.Icons...),
		Layer:     e.Layer,
		Direction: e.Dir,
		Dense:     e.Dense,
		MoveSpeed: e.Speed,
	}
}

func (e *Entity) stunned(nowTick uint64) bool { return nowTick < e.StunnedUntil }

// DefaultFacing is the direction new creatures look.
const DefaultFacing = geom.DirSouth
