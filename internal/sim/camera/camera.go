package camera

import (
	"errors"
	"log"
	"sort"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
	"tilesync.io/internal/sim/grid"
	"tilesync.io/internal/sim/mathx"
)

var ErrNilFocus = errors.New("camera: nil focus tile")

type State int

const (
	Suspended State = iota
	JustActivated
	Active
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "SUSPENDED"
	case JustActivated:
		return "JUST_ACTIVATED"
	case Active:
		return "ACTIVE"
	}
	return "UNKNOWN"
}

type Config struct {
	FOV     int // tiles
	Padding int // tiles
}

// WindowBlocks is the side of the block window that always holds the field
// of view plus padding on both sides.
func WindowBlocks(blockSize int, cfg Config) int {
	return mathx.CeilDiv(blockSize+cfg.FOV+2*cfg.Padding, blockSize)
}

// TickStats describes the last Update.
type TickStats struct {
	Snapshots int
	Records   int
	Promoted  int
	Demoted   int
	Shifted   bool
}

// Camera is one viewer's window over the grid. It never owns blocks and is
// only touched by the world loop goroutine.
type Camera struct {
	grid    *grid.Grid
	resolve func(diff.EntityID) (diff.EntityInfo, bool)
	log     *log.Logger

	fov int
	pad int
	w   int

	state     State
	focus     *grid.Tile
	prevFocus *grid.Tile
	moved     bool

	ctrl        *protocol.Controllable
	ctrlChanged bool

	origin      geom.BlockKey
	cells       []*grid.Block
	known       []bool
	knownAtTick []bool

	stats TickStats
}

// New creates a suspended camera. resolve supplies entity state for block
// snapshots.
func New(g *grid.Grid, cfg Config, resolve func(diff.EntityID) (diff.EntityInfo, bool), logger *log.Logger) *Camera {
	w := WindowBlocks(g.BlockSize, cfg)
	return &Camera{
		grid:        g,
		resolve:     resolve,
		log:         logger,
		fov:         cfg.FOV,
		pad:         cfg.Padding,
		w:           w,
		cells:       make([]*grid.Block, w*w),
		known:       make([]bool, w*w),
		knownAtTick: make([]bool, w*w),
	}
}

func (c *Camera) State() State          { return c.state }
func (c *Camera) Window() int           { return c.w }
func (c *Camera) Origin() geom.BlockKey { return c.origin }
func (c *Camera) Focus() *grid.Tile     { return c.focus }
func (c *Camera) LastStats() TickStats  { return c.stats }

// Cell returns the block reference and known flag at local window (x,y).
func (c *Camera) Cell(x, y int) (*grid.Block, bool) {
	if x < 0 || y < 0 || x >= c.w || y >= c.w {
		return nil, false
	}
	i := y*c.w + x
	return c.cells[i], c.known[i]
}

// SetFocus points the camera at tile. The first focus activates a suspended
// camera.
func (c *Camera) SetFocus(tile *grid.Tile) error {
	if tile == nil {
		return ErrNilFocus
	}
	if c.state == Suspended {
		c.state = JustActivated
		c.focus = tile
		c.prevFocus = nil
		return nil
	}
	if tile == c.focus {
		return nil
	}
	c.prevFocus = c.focus
	c.focus = tile
	c.moved = true
	return nil
}

// SetControllable announces the entity the viewer now controls.
func (c *Camera) SetControllable(id diff.EntityID, speed float32) {
	c.ctrl = &protocol.Controllable{ID: id, Speed: speed}
	c.ctrlChanged = true
}

// Suspend drops focus and forgets the window.
func (c *Camera) Suspend() {
	c.state = Suspended
	c.focus = nil
	c.prevFocus = nil
	c.moved = false
	for i := range c.cells {
		c.cells[i] = nil
		c.known[i] = false
	}
}

// Resync forces a full recount on the next Update.
func (c *Camera) Resync() {
	if c.state == Suspended {
		c.logf("resync ignored: camera suspended")
		return
	}
	c.state = JustActivated
}

// Contains reports whether b is referenced by the window.
func (c *Camera) Contains(b *grid.Block) bool {
	if c.state == Suspended || b == nil {
		return false
	}
	i, ok := c.index(b.Key)
	return ok && c.cells[i] == b
}

// Update runs one tick of window bookkeeping. ok is false when nothing
// changed for the viewer.
func (c *Camera) Update() (u protocol.WindowUpdate, ok bool) {
	c.stats = TickStats{}

	switch c.state {
	case Suspended:
		return u, false
	case JustActivated:
		c.recount()
		u.Reset = true
		u.HasOrigin = true
		u.Origin = c.origin
		c.state = Active
		c.moved = false
		c.stats.Shifted = true
	case Active:
		if c.moved {
			c.moved = false
			if !c.withinMargin(c.focus.Pos) {
				c.shift()
				u.HasOrigin = true
				u.Origin = c.origin
				c.stats.Shifted = true
			}
			u.HasFocus = true
			u.Focus = c.focus.Pos
		}
	}
	if u.Reset {
		u.HasFocus = true
		u.Focus = c.focus.Pos
	}

	c.resolveMissing()
	copy(c.knownAtTick, c.known)

	for i, b := range c.cells {
		if b == nil || c.known[i] {
			continue
		}
		u.Blocks = append(u.Blocks, b.Snapshot(c.resolve))
		c.known[i] = true
	}
	c.stats.Snapshots = len(u.Blocks)

	for i, b := range c.cells {
		if b == nil || !c.knownAtTick[i] {
			continue
		}
		for _, r := range b.Records() {
			if r.Kind == diff.KindRelocate && !(r.HasFrom && c.knewAtTick(r.From)) {
				u.Records = append(u.Records, r.AsAdd())
				c.stats.Promoted++
				continue
			}
			u.Records = append(u.Records, r)
		}
		for _, r := range b.Departures() {
			if _, in := c.index(c.grid.BlockOf(r.To)); !in {
				u.Records = append(u.Records, r.AsRemove())
				c.stats.Demoted++
			}
		}
	}
	sort.SliceStable(u.Records, func(i, j int) bool { return u.Records[i].Seq < u.Records[j].Seq })
	c.stats.Records = len(u.Records)

	if c.ctrlChanged {
		ctrl := *c.ctrl
		u.Controllable = &ctrl
		c.ctrlChanged = false
	}

	if u.Empty() {
		return protocol.WindowUpdate{}, false
	}
	return u, true
}

// recount centres a fresh window on the focus and forgets every block.
func (c *Camera) recount() {
	c.origin = c.originFor(c.focus.Pos)
	for y := 0; y < c.w; y++ {
		for x := 0; x < c.w; x++ {
			i := y*c.w + x
			c.cells[i] = c.grid.GetBlock(c.origin.X+x, c.origin.Y+y)
			c.known[i] = false
		}
	}
}

// shift slides the window so the focus is centred again, keeping block
// references and known flags of cells that stay inside.
func (c *Camera) shift() {
	next := c.originFor(c.focus.Pos)
	dx, dy := next.X-c.origin.X, next.Y-c.origin.Y
	cells := make([]*grid.Block, len(c.cells))
	known := make([]bool, len(c.known))
	for y := 0; y < c.w; y++ {
		for x := 0; x < c.w; x++ {
			nx, ny := x-dx, y-dy
			if nx < 0 || ny < 0 || nx >= c.w || ny >= c.w {
				continue
			}
			cells[ny*c.w+nx] = c.cells[y*c.w+x]
			known[ny*c.w+nx] = c.known[y*c.w+x]
		}
	}
	c.origin = next
	for y := 0; y < c.w; y++ {
		for x := 0; x < c.w; x++ {
			i := y*c.w + x
			if cells[i] == nil {
				cells[i] = c.grid.GetBlock(c.origin.X+x, c.origin.Y+y)
				known[i] = false
			}
		}
	}
	c.cells = cells
	c.known = known
}

// resolveMissing picks up blocks created inside the window since the last
// tick.
func (c *Camera) resolveMissing() {
	for y := 0; y < c.w; y++ {
		for x := 0; x < c.w; x++ {
			i := y*c.w + x
			if c.cells[i] != nil {
				continue
			}
			if b := c.grid.GetBlock(c.origin.X+x, c.origin.Y+y); b != nil {
				c.cells[i] = b
				c.known[i] = false
			}
		}
	}
}

func (c *Camera) originFor(p geom.Pos) geom.BlockKey {
	half := c.fov / 2
	return c.grid.BlockContaining(p.X-half-c.pad, p.Y-half-c.pad)
}

// withinMargin measures against the first tile and the exclusive far edge
// of the window. Strict less-than keeps a focus sitting exactly on the
// margin from shifting.
func (c *Camera) withinMargin(p geom.Pos) bool {
	margin := c.pad + c.fov/2
	first := c.grid.BlockOrigin(c.origin)
	end := geom.Pos{X: first.X + c.grid.BlockSpan(c.w), Y: first.Y + c.grid.BlockSpan(c.w)}
	if p.X-first.X < margin || end.X-p.X < margin {
		return false
	}
	if p.Y-first.Y < margin || end.Y-p.Y < margin {
		return false
	}
	return true
}

func (c *Camera) index(k geom.BlockKey) (int, bool) {
	x, y := k.X-c.origin.X, k.Y-c.origin.Y
	if x < 0 || y < 0 || x >= c.w || y >= c.w {
		return 0, false
	}
	return y*c.w + x, true
}

// knewAtTick reports whether the viewer held block k when this tick began.
func (c *Camera) knewAtTick(k geom.BlockKey) bool {
	i, ok := c.index(k)
	return ok && c.knownAtTick[i] && c.cells[i] != nil && c.cells[i].Key == k
}

func (c *Camera) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf("camera: "+format, args...)
	}
}
