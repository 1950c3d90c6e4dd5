package world

import (
	"fmt"
	"log"
	"sync/atomic"

	"tilesync.io/internal/persistence/snapshot"
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/camera"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/grid"
)

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
	// SessionID is set only by replays reproducing a recorded join.
	SessionID string
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

// JoinResponse carries either a WELCOME or an error code.
type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	ErrCode string
}

// LeaveRequest detaches the connection that owns Out. A stale leave from a
// replaced connection is ignored.
type LeaveRequest struct {
	SessionID string
	Out       chan []byte
}

type CommandEnvelope struct {
	SessionID string
	Cmd       protocol.CommandMsg
}

type RecordedJoin struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	EntityID  int32  `json:"entity_id"`
	Resumed   bool   `json:"resumed,omitempty"`
}

type RecordedCommand struct {
	SessionID string              `json:"session_id"`
	Cmd       protocol.CommandMsg `json:"cmd"`
	Result    string              `json:"result,omitempty"`
}

// World is a single-threaded authoritative tile simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	log *log.Logger

	tick atomic.Uint64

	grid     *grid.Grid
	entities map[diff.EntityID]*Entity
	viewers  map[string]*viewer
	locales  []*locale
	movers   map[diff.EntityID]struct{}

	nextEntityID diff.EntityID

	inbox  chan CommandEnvelope
	join   chan JoinRequest
	attach chan AttachRequest
	leave  chan LeaveRequest
	admin  chan adminReq
	stop   chan struct{}

	// Optional sinks (may be nil).
	tickLogger    TickLogger
	sessionLogger SessionLogger
	telemetry     Telemetry
	snapshotSink  chan<- snapshot.SnapshotV1

	// Per-tick scratch, reset by stepInternal.
	pendingJoins  []RecordedJoin
	pendingDrops  []string
	rejectedTotal uint64
	droppedTotal  uint64

	metrics atomic.Value
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// SessionLogger receives viewer lifecycle events.
type SessionLogger interface {
	WriteSession(ev SessionEvent) error
}

// Telemetry receives per-tick counters. Implemented by internal/observability.
type Telemetry interface {
	ObserveTick(s TickSummary)
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Joins    []RecordedJoin    `json:"joins,omitempty"`
	Leaves   []string          `json:"leaves,omitempty"`
	Dropped  []string          `json:"dropped,omitempty"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Summary  TickSummary       `json:"summary"`
	Digest   string            `json:"digest"`
}

// TickSummary is the per-tick counter set shared by the tick log, metrics
// and the event bus.
type TickSummary struct {
	WorldID   string  `json:"world_id"`
	Tick      uint64  `json:"tick"`
	StepMS    float64 `json:"step_ms"`
	Viewers   int     `json:"viewers"`
	Attached  int     `json:"attached"`
	Entities  int     `json:"entities"`
	Blocks    int     `json:"blocks"`
	Records   int     `json:"records"`
	Snapshots int     `json:"snapshots"`
	Promoted  int     `json:"promoted"`
	Demoted   int     `json:"demoted"`
	Shifts    int     `json:"shifts"`
	Frames    int     `json:"frames"`
	Bytes     int     `json:"bytes"`
	Dropped   int     `json:"dropped"`
	Rejected  int     `json:"rejected"`
	Collected int     `json:"collected"`
}

type SessionEvent struct {
	WorldID   string `json:"world_id"`
	Tick      uint64 `json:"tick"`
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
	EntityID  int32  `json:"entity_id"`
	Kind      string `json:"kind"` // JOIN, RESUME, LEAVE, DROP
}

// viewer is one session. It outlives its connection so it can be resumed.
type viewer struct {
	SessionID   string
	Name        string
	ResumeToken string

	// EntityID is what the camera follows; Body is the viewer's creature.
	EntityID diff.EntityID
	Body     diff.EntityID

	Out chan []byte
	cam *camera.Camera
}

func (v *viewer) attached() bool { return v.Out != nil }

func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	cfg.applyDefaults()
	g, err := grid.New(cfg.Geometry)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags)
	}
	w := &World{
		cfg:      cfg,
		log:      logger,
		grid:     g,
		entities: map[diff.EntityID]*Entity{},
		viewers:  map[string]*viewer{},
		movers:   map[diff.EntityID]struct{}{},
		inbox:    make(chan CommandEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		attach:   make(chan AttachRequest, 64),
		leave:    make(chan LeaveRequest, 64),
		admin:    make(chan adminReq, 8),
		stop:     make(chan struct{}),
	}
	w.generate()
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSessionLogger(l SessionLogger)              { w.sessionLogger = l }
func (w *World) SetTelemetry(t Telemetry)                      { w.telemetry = t }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CommandEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest      { return w.join }
func (w *World) Attach() chan<- AttachRequest  { return w.attach }
func (w *World) Leave() chan<- LeaveRequest    { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) worldParams() protocol.WorldParams {
	return protocol.WorldParams{
		WorldID:      w.cfg.ID,
		TickRateHz:   w.cfg.TickRateHz,
		BlockSize:    w.cfg.Geometry.BlockSize,
		Depth:        w.cfg.Geometry.Depth,
		FOV:          w.cfg.Camera.FOV,
		Padding:      w.cfg.Camera.Padding,
		WindowBlocks: camera.WindowBlocks(w.cfg.Geometry.BlockSize, w.cfg.Camera),
		TilePixels:   w.cfg.TilePixels,
	}
}

// resolve feeds block snapshots with current entity state.
func (w *World) resolve(id diff.EntityID) (diff.EntityInfo, bool) {
	e := w.entities[id]
	if e == nil {
		return diff.EntityInfo{}, false
	}
	return e.Info(), true
}
