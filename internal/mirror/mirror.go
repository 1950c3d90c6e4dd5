// Package mirror rebuilds a camera's window on the viewer side from the
// window update stream.
package mirror

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/mathx"
)

type Config struct {
	Geometry   geom.Geometry
	Window     int
	TilePixels int
	// Debounce is the minimum spacing between two commands of one kind.
	Debounce time.Duration
}

// EntityView is a copy of one mirrored entity handed to consumers.
type EntityView struct {
	Info   diff.EntityInfo
	Pos    geom.Pos
	Slot   int
	Intent geom.Direction
	Anim   uint32
	// Progress runs from 0 to 1 while the entity slides into its tile.
	Progress float64
}

type Stats struct {
	Frames    int
	Snapshots int
	Records   int
	Desyncs   int
}

type Mirror struct {
	mu  sync.Mutex
	log *log.Logger
	cfg Config

	hasOrigin bool
	origin    geom.BlockKey
	blocks    []*block
	entities  map[diff.EntityID]*entity

	hasFocus bool
	focus    geom.Pos
	hasCtrl  bool
	ctrl     protocol.Controllable

	hasUnder bool
	under    diff.EntityID

	// stun is written under mu and read without it by DrainIntents.
	stun    atomic.Int64
	intents *IntentQueue
	stats   Stats
}

type block struct {
	key   geom.BlockKey
	tiles []*tile
}

type tile struct {
	pos     geom.Pos
	overlay string
	ents    []*entity
}

type entity struct {
	info     diff.EntityInfo
	tile     *tile
	intent   geom.Direction
	anim     uint32
	progress float64
}

func New(cfg Config, logger *log.Logger) *Mirror {
	return &Mirror{
		log:      logger,
		cfg:      cfg,
		blocks:   make([]*block, cfg.Window*cfg.Window),
		entities: map[diff.EntityID]*entity{},
		intents:  NewIntentQueue(cfg.Debounce),
	}
}

// ApplyUpdate applies one decoded frame: reset, shift, snapshots, records,
// then drops entities that no longer sit on a mirrored tile.
func (m *Mirror) ApplyUpdate(u *protocol.WindowUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Frames++
	if u.Reset {
		m.clear()
	}
	if u.HasOrigin {
		if m.hasOrigin {
			m.applyShift(u.Origin.X-m.origin.X, u.Origin.Y-m.origin.Y)
		}
		m.origin = u.Origin
		m.hasOrigin = true
	}
	if u.HasFocus {
		m.focus = u.Focus
		m.hasFocus = true
	}
	if u.Controllable != nil {
		m.ctrl = *u.Controllable
		m.hasCtrl = true
	}
	if !m.hasOrigin && (len(u.Blocks) > 0 || len(u.Records) > 0) {
		m.logf("update without a window origin; ignoring %d blocks %d records", len(u.Blocks), len(u.Records))
		return
	}
	for i := range u.Blocks {
		m.applySnapshot(&u.Blocks[i])
	}
	for _, r := range u.Records {
		m.applyRecord(r)
	}
	m.sweep()
}

// ApplyShift moves the window origin by delta blocks outside of a frame.
// Blocks shifted out are discarded along with their entities.
func (m *Mirror) ApplyShift(delta geom.BlockKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrigin {
		m.logf("shift by %v without a window origin", delta)
		return
	}
	m.applyShift(delta.X, delta.Y)
	m.origin = geom.BlockKey{X: m.origin.X + delta.X, Y: m.origin.Y + delta.Y}
	m.sweep()
}

// ApplySnapshot replaces one mirrored block.
func (m *Mirror) ApplySnapshot(s *diff.BlockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrigin {
		m.logf("snapshot of %v without a window origin", s.Key)
		return
	}
	m.applySnapshot(s)
	m.sweep()
}

// ApplyRecord applies a single change record.
func (m *Mirror) ApplyRecord(r *diff.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrigin {
		m.logf("record %v without a window origin", r)
		return
	}
	m.applyRecord(r)
	m.sweep()
}

func (m *Mirror) clear() {
	for i := range m.blocks {
		m.blocks[i] = nil
	}
	for _, e := range m.entities {
		e.tile = nil
	}
	m.hasOrigin = false
}

// applyShift moves surviving blocks by -delta, the same copy/discard rule
// the camera uses.
func (m *Mirror) applyShift(dx, dy int) {
	if dx == 0 && dy == 0 {
		return
	}
	w := m.cfg.Window
	next := make([]*block, len(m.blocks))
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			b := m.blocks[y*w+x]
			if b == nil {
				continue
			}
			nx, ny := x-dx, y-dy
			if nx < 0 || ny < 0 || nx >= w || ny >= w {
				m.detachBlock(b)
				continue
			}
			next[ny*w+nx] = b
		}
	}
	m.blocks = next
}

func (m *Mirror) applySnapshot(s *diff.BlockSnapshot) {
	i, ok := m.index(s.Key)
	if !ok {
		m.logf("snapshot for block %v outside window at %v", s.Key, m.origin)
		return
	}
	if len(s.Tiles) != m.cfg.Geometry.TilesPerBlock() {
		m.logf("snapshot for block %v has %d tiles, want %d", s.Key, len(s.Tiles), m.cfg.Geometry.TilesPerBlock())
		return
	}
	m.stats.Snapshots++
	if old := m.blocks[i]; old != nil {
		m.detachBlock(old)
	}
	b := &block{key: s.Key, tiles: make([]*tile, len(s.Tiles))}
	for idx := range s.Tiles {
		ts := &s.Tiles[idx]
		t := &tile{pos: m.cfg.Geometry.PosAt(s.Key, idx), overlay: ts.Overlay}
		for _, info := range ts.Entities {
			e := m.entities[info.ID]
			if e == nil {
				e = &entity{}
				m.entities[info.ID] = e
			} else {
				m.detach(e)
			}
			e.info = info.Clone()
			e.progress = 1
			insert(t, e, -1)
		}
		b.tiles[idx] = t
	}
	m.blocks[i] = b
}

func (m *Mirror) applyRecord(r *diff.Record) {
	m.stats.Records++
	if r.Kind == diff.KindOverlayChanged {
		if t := m.tileAt(r.To); t != nil {
			t.overlay = r.Text
		} else {
			m.logf("overlay at %v outside mirrored blocks", r.To)
		}
		return
	}
	e := m.entities[r.ID]
	switch r.Kind {
	case diff.KindAdd:
		t := m.tileAt(r.To)
		if t == nil {
			m.logf("add of %d at %v outside mirrored blocks", r.ID, r.To)
			return
		}
		if e == nil {
			e = &entity{}
			m.entities[r.ID] = e
		} else {
			m.detach(e)
		}
		e.info = r.Entity.Clone()
		e.progress = 1
		insert(t, e, r.Slot)
		return
	case diff.KindRelocate:
		if e == nil {
			m.desync(r)
			e = &entity{info: diff.EntityInfo{ID: r.ID}}
			m.entities[r.ID] = e
		} else {
			m.detach(e)
		}
		if t := m.tileAt(r.To); t != nil {
			insert(t, e, r.Slot)
			e.progress = 0
		}
		return
	case diff.KindStunned:
		if m.hasCtrl && r.ID == m.ctrl.ID {
			m.stun.Store(int64(time.Duration(r.StunMS) * time.Millisecond))
		}
		if e == nil {
			m.desync(r)
		}
		return
	}

	if e == nil {
		m.desync(r)
		return
	}
	switch r.Kind {
	case diff.KindRemove:
		m.detach(e)
		delete(m.entities, r.ID)
		if m.hasUnder && m.under == r.ID {
			m.hasUnder = false
		}
	case diff.KindMove:
		cur := e.tile
		if cur == nil {
			m.desync(r)
			return
		}
		dx, dy, dz := r.Dir.Delta()
		m.detach(e)
		if t := m.tileAt(cur.pos.Add(dx, dy, dz)); t != nil {
			insert(t, e, -1)
		}
		if r.Dir.Planar() {
			e.info.Direction = r.Dir
		}
		e.info.MoveSpeed = r.Speed
		e.progress = 0
	case diff.KindMoveIntent:
		e.intent = r.Dir
	case diff.KindIconsChanged:
		e.info.Icons = append([]uint32(nil), r.Icons...)
		if len(e.info.Icons) == 0 {
			e.info.Icons = nil
		}
	case diff.KindPlayAnimation:
		e.anim = r.Anim
	case diff.KindDirectionChanged:
		e.info.Direction = r.Dir
	}
}

// desync logs a record for an entity the mirror does not hold. Relocate
// recovers by adding the entity; attribute records are dropped.
func (m *Mirror) desync(r *diff.Record) {
	m.stats.Desyncs++
	m.logf("desync: %v for unknown entity", r)
}

// sweep forgets entities whose tile is gone.
func (m *Mirror) sweep() {
	for id, e := range m.entities {
		if e.tile != nil {
			continue
		}
		delete(m.entities, id)
		if m.hasUnder && m.under == id {
			m.hasUnder = false
		}
	}
}

func (m *Mirror) detachBlock(b *block) {
	for _, t := range b.tiles {
		for _, e := range t.ents {
			e.tile = nil
		}
		t.ents = nil
	}
}

func (m *Mirror) detach(e *entity) {
	t := e.tile
	if t == nil {
		return
	}
	for i, x := range t.ents {
		if x == e {
			t.ents = append(t.ents[:i], t.ents[i+1:]...)
			break
		}
	}
	e.tile = nil
}

// insert places e at slot, clamped the same way the server clamps.
func insert(t *tile, e *entity, slot int) {
	if slot < 0 || slot > len(t.ents) {
		slot = len(t.ents)
	}
	t.ents = append(t.ents, nil)
	copy(t.ents[slot+1:], t.ents[slot:])
	t.ents[slot] = e
	e.tile = t
}

func (m *Mirror) index(k geom.BlockKey) (int, bool) {
	if !m.hasOrigin {
		return 0, false
	}
	x, y := k.X-m.origin.X, k.Y-m.origin.Y
	if x < 0 || y < 0 || x >= m.cfg.Window || y >= m.cfg.Window {
		return 0, false
	}
	return y*m.cfg.Window + x, true
}

// tileAt resolves an absolute tile position inside the mirrored window.
func (m *Mirror) tileAt(p geom.Pos) *tile {
	if !m.cfg.Geometry.InDepth(p.Z) {
		return nil
	}
	k := m.cfg.Geometry.BlockOf(p)
	i, ok := m.index(k)
	if !ok {
		return nil
	}
	b := m.blocks[i]
	if b == nil || b.key != k {
		return nil
	}
	return b.tiles[m.cfg.Geometry.LocalIndex(p)]
}

func (m *Mirror) localToWorld(local geom.Pos) geom.Pos {
	first := m.cfg.Geometry.BlockOrigin(m.origin)
	return geom.Pos{X: first.X + local.X, Y: first.Y + local.Y, Z: local.Z}
}

func (m *Mirror) logf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf("mirror: "+format, args...)
	}
}

func view(e *entity, slot int) EntityView {
	return EntityView{
		Info:     e.info.Clone(),
		Pos:      e.tile.pos,
		Slot:     slot,
		Intent:   e.intent,
		Anim:     e.anim,
		Progress: e.progress,
	}
}

// GetMirroredTileAt returns the entities on the tile at local, a tile
// offset from the window's first tile.
func (m *Mirror) GetMirroredTileAt(local geom.Pos) ([]EntityView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrigin {
		return nil, false
	}
	t := m.tileAt(m.localToWorld(local))
	if t == nil {
		return nil, false
	}
	out := make([]EntityView, 0, len(t.ents))
	for i, e := range t.ents {
		out = append(out, view(e, i))
	}
	return out, true
}

// OverlayAt returns the label of the tile at local.
func (m *Mirror) OverlayAt(local geom.Pos) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrigin {
		return "", false
	}
	t := m.tileAt(m.localToWorld(local))
	if t == nil {
		return "", false
	}
	return t.overlay, true
}

// GetEntityUnderPoint maps a window pixel to the topmost entity on that
// tile at the focus level: highest layer first, then latest slot. The
// result stays as the pointed-at entity until it leaves the mirror.
func (m *Mirror) GetEntityUnderPoint(px, py int) (diff.EntityID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasUnder = false
	if !m.hasOrigin || m.cfg.TilePixels <= 0 {
		return 0, false
	}
	local := geom.Pos{
		X: mathx.FloorDiv(px, m.cfg.TilePixels),
		Y: mathx.FloorDiv(py, m.cfg.TilePixels),
		Z: m.focus.Z,
	}
	t := m.tileAt(m.localToWorld(local))
	if t == nil || len(t.ents) == 0 {
		return 0, false
	}
	best := t.ents[0]
	for _, e := range t.ents[1:] {
		if e.info.Layer >= best.info.Layer {
			best = e
		}
	}
	m.under, m.hasUnder = best.info.ID, true
	return best.info.ID, true
}

// Under returns the entity last found by GetEntityUnderPoint, if it is
// still mirrored.
func (m *Mirror) Under() (diff.EntityID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.under, m.hasUnder
}

// Update advances interpolation and the stun timer.
func (m *Mirror) Update(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.progress >= 1 {
			continue
		}
		speed := float64(e.info.MoveSpeed)
		if speed <= 0 {
			e.progress = 1
			continue
		}
		e.progress += elapsed.Seconds() * speed
		if e.progress > 1 {
			e.progress = 1
		}
	}
	if left := time.Duration(m.stun.Load()); left > elapsed {
		m.stun.Store(int64(left - elapsed))
	} else {
		m.stun.Store(0)
	}
}

func (m *Mirror) Stunned() bool {
	return m.stun.Load() > 0
}

func (m *Mirror) Controllable() (protocol.Controllable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctrl, m.hasCtrl
}

func (m *Mirror) Origin() (geom.BlockKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.origin, m.hasOrigin
}

func (m *Mirror) Focus() (geom.Pos, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus, m.hasFocus
}

// Entity returns the mirrored state of id.
func (m *Mirror) Entity(id diff.EntityID) (EntityView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entities[id]
	if e == nil || e.tile == nil {
		return EntityView{}, false
	}
	for i, x := range e.tile.ents {
		if x == e {
			return view(e, i), true
		}
	}
	return EntityView{}, false
}

func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Blocks returns a snapshot of every mirrored block, in window order.
func (m *Mirror) Blocks() []diff.BlockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []diff.BlockSnapshot
	for _, b := range m.blocks {
		if b == nil {
			continue
		}
		s := diff.BlockSnapshot{Key: b.key, Tiles: make([]diff.TileSnapshot, len(b.tiles))}
		for i, t := range b.tiles {
			s.Tiles[i].Overlay = t.overlay
			for _, e := range t.ents {
				s.Tiles[i].Entities = append(s.Tiles[i].Entities, e.info.Clone())
			}
		}
		out = append(out, s)
	}
	return out
}

// EnqueueLocalIntent queues a command; only the latest payload per kind is
// kept until the next drain. The queue has its own lock, so input never
// waits on frame application.
func (m *Mirror) EnqueueLocalIntent(kind string, in Intent) error {
	return m.intents.Put(kind, in)
}

// DrainIntents releases the commands that may be sent at now.
func (m *Mirror) DrainIntents(now time.Time) []protocol.CommandMsg {
	return m.intents.Drain(now, m.Stunned())
}
