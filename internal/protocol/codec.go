package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

var ErrMalformed = errors.New("protocol: malformed frame")

// Decoder limits. Anything above is treated as corruption.
const (
	MaxBlocksPerFrame  = 1024
	MaxRecordsPerFrame = 1 << 16
	MaxTilesPerBlock   = 1 << 16
	MaxEntitiesPerTile = 4096
	MaxIcons           = 256
	MaxStringLen       = 1024
)

// EncodeWindowUpdate writes one big-endian window update frame.
func EncodeWindowUpdate(u *WindowUpdate) ([]byte, error) {
	w := &writer{b: make([]byte, 0, 256)}
	opts := u.Options()
	w.u8(FrameWindowUpdate)
	w.u32(opts)
	if opts&OptShift != 0 {
		w.i32(u.Origin.X)
		w.i32(u.Origin.Y)
		w.i32(0)
	}
	if opts&OptCamera != 0 {
		w.pos(u.Focus)
	}
	if opts&OptBlocks != 0 {
		w.i32(len(u.Blocks))
		for i := range u.Blocks {
			w.block(&u.Blocks[i])
		}
	}
	if opts&OptDiffs != 0 {
		w.i32(len(u.Records))
		for _, r := range u.Records {
			if err := w.record(r); err != nil {
				return nil, err
			}
		}
	}
	if opts&OptControllable != 0 {
		w.i32(int(u.Controllable.ID))
		w.f32(u.Controllable.Speed)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.b, nil
}

// DecodeWindowUpdate parses a frame produced by EncodeWindowUpdate. Any
// structural problem rejects the whole frame with ErrMalformed.
func DecodeWindowUpdate(b []byte) (*WindowUpdate, error) {
	r := &reader{b: b}
	if t := r.u8(); r.err == nil && t != FrameWindowUpdate {
		return nil, fmt.Errorf("%w: frame type %d", ErrMalformed, t)
	}
	opts := r.u32()
	if r.err == nil && opts&^optAll != 0 {
		return nil, fmt.Errorf("%w: unknown option bits %#x", ErrMalformed, opts)
	}
	u := &WindowUpdate{Reset: opts&OptReset != 0}
	if opts&OptShift != 0 {
		u.HasOrigin = true
		u.Origin = geom.BlockKey{X: r.i32(), Y: r.i32()}
		_ = r.i32()
	}
	if opts&OptCamera != 0 {
		u.HasFocus = true
		u.Focus = r.pos()
	}
	if opts&OptBlocks != 0 {
		n := r.count(MaxBlocksPerFrame)
		u.Blocks = make([]diff.BlockSnapshot, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			u.Blocks = append(u.Blocks, r.block())
		}
	}
	if opts&OptDiffs != 0 {
		n := r.count(MaxRecordsPerFrame)
		u.Records = make([]*diff.Record, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			u.Records = append(u.Records, r.record())
		}
	}
	if opts&OptControllable != 0 {
		u.Controllable = &Controllable{ID: diff.EntityID(r.i32()), Speed: r.f32()}
	}
	if r.err == nil && r.off != len(r.b) {
		r.fail("%d trailing bytes", len(r.b)-r.off)
	}
	if r.err != nil {
		return nil, r.err
	}
	return u, nil
}

type writer struct {
	b   []byte
	err error
}

func (w *writer) u8(v byte)    { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }
func (w *writer) i32(v int) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		if w.err == nil {
			w.err = fmt.Errorf("protocol: value %d overflows i32", v)
		}
	}
	w.u32(uint32(int32(v)))
}
func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) str(s string) {
	if len(s) > MaxStringLen {
		n := MaxStringLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	w.u16(uint16(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) pos(p geom.Pos) {
	w.i32(p.X)
	w.i32(p.Y)
	w.i32(p.Z)
}

func (w *writer) flag(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) entity(e *diff.EntityInfo) {
	w.i32(int(e.ID))
	w.str(e.Name)
	w.i32(len(e.Icons))
	for _, ic := range e.Icons {
		w.u32(ic)
	}
	w.i32(int(e.Layer))
	w.u8(byte(e.Direction))
	w.flag(e.Dense)
	w.f32(e.MoveSpeed)
}

func (w *writer) block(s *diff.BlockSnapshot) {
	w.i32(s.Key.X)
	w.i32(s.Key.Y)
	w.i32(0)
	w.i32(len(s.Tiles))
	for i := range s.Tiles {
		t := &s.Tiles[i]
		w.str(t.Overlay)
		w.i32(len(t.Entities))
		for j := range t.Entities {
			w.entity(&t.Entities[j])
		}
	}
}

func (w *writer) record(r *diff.Record) error {
	w.i32(int(r.Kind))
	switch r.Kind {
	case diff.KindAdd:
		w.entity(&r.Entity)
		w.pos(r.To)
		w.i32(r.Slot)
	case diff.KindRemove:
		w.i32(int(r.ID))
	case diff.KindRelocate:
		w.i32(int(r.ID))
		w.pos(r.To)
		w.i32(r.Slot)
	case diff.KindMoveIntent, diff.KindDirectionChanged:
		w.i32(int(r.ID))
		w.u8(byte(r.Dir))
	case diff.KindMove:
		w.i32(int(r.ID))
		w.u8(byte(r.Dir))
		w.f32(r.Speed)
	case diff.KindIconsChanged:
		w.i32(int(r.ID))
		w.i32(len(r.Icons))
		for _, ic := range r.Icons {
			w.u32(ic)
		}
	case diff.KindPlayAnimation:
		w.i32(int(r.ID))
		w.u32(r.Anim)
	case diff.KindStunned:
		w.i32(int(r.ID))
		w.i32(int(r.StunMS))
	case diff.KindOverlayChanged:
		w.pos(r.To)
		w.str(r.Text)
	default:
		return fmt.Errorf("protocol: cannot encode record kind %v", r.Kind)
	}
	return nil
}

// reader keeps the first error; every getter returns zero after it.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b)-r.off < n {
		r.fail("short read at %d (need %d)", r.off, n)
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int     { return int(int32(r.u32())) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) count(max int) int {
	n := r.i32()
	if r.err == nil && (n < 0 || n > max) {
		r.fail("count %d out of range [0,%d]", n, max)
		return 0
	}
	return n
}

func (r *reader) str() string {
	n := int(r.u16())
	if r.err == nil && n > MaxStringLen {
		r.fail("string length %d", n)
		return ""
	}
	if !r.need(n) {
		return ""
	}
	s := string(r.b[r.off : r.off+n])
	r.off += n
	return s
}

func (r *reader) pos() geom.Pos { return geom.Pos{X: r.i32(), Y: r.i32(), Z: r.i32()} }

func (r *reader) dir() geom.Direction {
	d := geom.Direction(r.u8())
	if r.err == nil && !d.Valid() {
		r.fail("direction %d", d)
	}
	return d
}

func (r *reader) flag() bool {
	v := r.u8()
	if r.err == nil && v > 1 {
		r.fail("bool %d", v)
	}
	return v == 1
}

func (r *reader) entity() diff.EntityInfo {
	e := diff.EntityInfo{ID: diff.EntityID(r.i32()), Name: r.str()}
	if n := r.count(MaxIcons); n > 0 {
		e.Icons = make([]uint32, n)
		for i := range e.Icons {
			e.Icons[i] = r.u32()
		}
	}
	e.Layer = int32(r.i32())
	e.Direction = r.dir()
	e.Dense = r.flag()
	e.MoveSpeed = r.f32()
	return e
}

func (r *reader) block() diff.BlockSnapshot {
	s := diff.BlockSnapshot{Key: geom.BlockKey{X: r.i32(), Y: r.i32()}}
	_ = r.i32()
	n := r.count(MaxTilesPerBlock)
	s.Tiles = make([]diff.TileSnapshot, n)
	for i := 0; i < n && r.err == nil; i++ {
		t := &s.Tiles[i]
		t.Overlay = r.str()
		m := r.count(MaxEntitiesPerTile)
		if m > 0 {
			t.Entities = make([]diff.EntityInfo, 0, m)
			for j := 0; j < m && r.err == nil; j++ {
				t.Entities = append(t.Entities, r.entity())
			}
		}
	}
	return s
}

func (r *reader) record() *diff.Record {
	k := diff.Kind(r.i32())
	if r.err != nil {
		return nil
	}
	if !k.Valid() {
		r.fail("record kind %d", k)
		return nil
	}
	rec := &diff.Record{Kind: k}
	switch k {
	case diff.KindAdd:
		rec.Entity = r.entity()
		rec.ID = rec.Entity.ID
		rec.To = r.pos()
		rec.Slot = r.i32()
	case diff.KindRemove:
		rec.ID = diff.EntityID(r.i32())
	case diff.KindRelocate:
		rec.ID = diff.EntityID(r.i32())
		rec.To = r.pos()
		rec.Slot = r.i32()
	case diff.KindMoveIntent, diff.KindDirectionChanged:
		rec.ID = diff.EntityID(r.i32())
		rec.Dir = r.dir()
	case diff.KindMove:
		rec.ID = diff.EntityID(r.i32())
		rec.Dir = r.dir()
		rec.Speed = r.f32()
	case diff.KindIconsChanged:
		rec.ID = diff.EntityID(r.i32())
		if n := r.count(MaxIcons); n > 0 {
			rec.Icons = make([]uint32, n)
			for i := range rec.Icons {
				rec.Icons[i] = r.u32()
			}
		}
	case diff.KindPlayAnimation:
		rec.ID = diff.EntityID(r.i32())
		rec.Anim = r.u32()
	case diff.KindStunned:
		rec.ID = diff.EntityID(r.i32())
		rec.StunMS = int32(r.i32())
	case diff.KindOverlayChanged:
		rec.To = r.pos()
		rec.Text = r.str()
	}
	return rec
}
