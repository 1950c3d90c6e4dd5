package protocol

import (
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

// Binary frame types.
const (
	FrameWindowUpdate byte = 1
)

// Window update option bits. A section is present iff its bit is set.
const (
	OptReset        uint32 = 1 << 0
	OptShift        uint32 = 1 << 1
	OptCamera       uint32 = 1 << 2
	OptBlocks       uint32 = 1 << 3
	OptDiffs        uint32 = 1 << 4
	OptControllable uint32 = 1 << 5

	optAll = OptReset | OptShift | OptCamera | OptBlocks | OptDiffs | OptControllable
)

// Controllable names the entity the viewer now drives.
type Controllable struct {
	ID    diff.EntityID
	Speed float32
}

// WindowUpdate is one camera's output for one tick.
type WindowUpdate struct {
	// Reset tells the mirror to forget its buffer before applying Origin.
	Reset bool

	HasOrigin bool
	Origin    geom.BlockKey

	HasFocus bool
	Focus    geom.Pos

	Blocks       []diff.BlockSnapshot
	Records      []*diff.Record
	Controllable *Controllable
}

func (u *WindowUpdate) Options() uint32 {
	var o uint32
	if u.Reset {
		o |= OptReset
	}
	if u.HasOrigin {
		o |= OptShift
	}
	if u.HasFocus {
		o |= OptCamera
	}
	if len(u.Blocks) > 0 {
		o |= OptBlocks
	}
	if len(u.Records) > 0 {
		o |= OptDiffs
	}
	if u.Controllable != nil {
		o |= OptControllable
	}
	return o
}

// Empty reports whether the update carries nothing a viewer must act on.
// A focus move alone is not worth a frame.
func (u *WindowUpdate) Empty() bool {
	return u.Options()&^OptCamera == 0
}
