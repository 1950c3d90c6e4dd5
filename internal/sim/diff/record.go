package diff

import (
	"fmt"

	"tilesync.io/internal/sim/geom"
)

type EntityID int32

// Kind values are part of the wire format.
type Kind uint8

const (
	KindAdd Kind = iota + 1
	KindRemove
	KindRelocate
	KindMoveIntent
	KindMove
	KindIconsChanged
	KindPlayAnimation
	KindDirectionChanged
	KindStunned
	KindOverlayChanged
)

var kindNames = map[Kind]string{
	KindAdd:              "ADD",
	KindRemove:           "REMOVE",
	KindRelocate:         "RELOCATE",
	KindMoveIntent:       "MOVE_INTENT",
	KindMove:             "MOVE",
	KindIconsChanged:     "ICONS_CHANGED",
	KindPlayAnimation:    "PLAY_ANIMATION",
	KindDirectionChanged: "DIRECTION_CHANGED",
	KindStunned:          "STUNNED",
	KindOverlayChanged:   "OVERLAY_CHANGED",
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// EntityInfo is everything a viewer needs to mirror an entity.
type EntityInfo struct {
	ID        EntityID       `json:"id"`
	Name      string         `json:"name"`
	Icons     []uint32       `json:"icons"`
	Layer     int32          `json:"layer"`
	Direction geom.Direction `json:"direction"`
	Dense     bool           `json:"dense"`
	MoveSpeed float32        `json:"move_speed"`
}

func (e EntityInfo) Clone() EntityInfo {
	e.Icons = append([]uint32(nil), e.Icons...)
	return e
}

// Record is one viewer-visible mutation. Only the fields of its Kind are set.
// Records are shared by every camera that drains the owning block and must
// not be modified after they are enqueued.
type Record struct {
	Kind Kind
	Seq  uint64
	ID   EntityID

	// Add; Relocate keeps a copy so it can be rewritten as an Add.
	Entity EntityInfo
	// Add, Relocate, OverlayChanged.
	To   geom.Pos
	Slot int
	// Relocate: block the entity occupied before the move.
	From    geom.BlockKey
	HasFrom bool

	// MoveIntent, Move, DirectionChanged.
	Dir   geom.Direction
	Speed float32

	Icons  []uint32
	Anim   uint32
	StunMS int32
	// OverlayChanged: new label of the tile at To. Empty clears it.
	Text string
}

func Add(e EntityInfo, to geom.Pos, slot int) *Record {
	return &Record{Kind: KindAdd, ID: e.ID, Entity: e.Clone(), To: to, Slot: slot}
}

func Remove(id EntityID) *Record {
	return &Record{Kind: KindRemove, ID: id}
}

// Relocate records an absolute placement. hasFrom is false when the entity
// was not on any tile before.
func Relocate(e EntityInfo, to geom.Pos, slot int, from geom.BlockKey, hasFrom bool) *Record {
	return &Record{Kind: KindRelocate, ID: e.ID, Entity: e.Clone(), To: to, Slot: slot, From: from, HasFrom: hasFrom}
}

func MoveIntent(id EntityID, d geom.Direction) *Record {
	return &Record{Kind: KindMoveIntent, ID: id, Dir: d}
}

func Move(id EntityID, d geom.Direction, speed float32) *Record {
	return &Record{Kind: KindMove, ID: id, Dir: d, Speed: speed}
}

func IconsChanged(id EntityID, icons []uint32) *Record {
	return &Record{Kind: KindIconsChanged, ID: id, Icons: append([]uint32(nil), icons...)}
}

func PlayAnimation(id EntityID, anim uint32) *Record {
	return &Record{Kind: KindPlayAnimation, ID: id, Anim: anim}
}

func DirectionChanged(id EntityID, d geom.Direction) *Record {
	return &Record{Kind: KindDirectionChanged, ID: id, Dir: d}
}

func Stunned(id EntityID, ms int32) *Record {
	return &Record{Kind: KindStunned, ID: id, StunMS: ms}
}

// OverlayChanged carries no entity; ID stays zero.
func OverlayChanged(at geom.Pos, text string) *Record {
	return &Record{Kind: KindOverlayChanged, To: at, Text: text}
}

// AsAdd rewrites a Relocate for a viewer that never saw the entity's
// previous block. The sequence number is kept so ordering is unchanged.
func (r *Record) AsAdd() *Record {
	out := Add(r.Entity, r.To, r.Slot)
	out.Seq = r.Seq
	return out
}

// AsRemove rewrites a Relocate for a viewer that will not see the
// destination block.
func (r *Record) AsRemove() *Record {
	out := Remove(r.ID)
	out.Seq = r.Seq
	return out
}

func (r *Record) String() string {
	switch r.Kind {
	case KindAdd:
		return fmt.Sprintf("%s#%d id=%d to=%v slot=%d", r.Kind, r.Seq, r.ID, r.To, r.Slot)
	case KindRelocate:
		return fmt.Sprintf("%s#%d id=%d to=%v slot=%d from=%v/%t", r.Kind, r.Seq, r.ID, r.To, r.Slot, r.From, r.HasFrom)
	case KindMoveIntent, KindMove, KindDirectionChanged:
		return fmt.Sprintf("%s#%d id=%d dir=%v", r.Kind, r.Seq, r.ID, r.Dir)
	case KindOverlayChanged:
		return fmt.Sprintf("%s#%d at=%v text=%q", r.Kind, r.Seq, r.To, r.Text)
	}
	return fmt.Sprintf("%s#%d id=%d", r.Kind, r.Seq, r.ID)
}
