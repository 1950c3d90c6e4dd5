package mirror

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

// Intent is the payload of one queued command.
type Intent struct {
	Direction geom.Direction
	Target    diff.EntityID
	Reason    string
}

// Commands are drained in this order.
var intentOrder = []string{
	protocol.CmdDisconnect,
	protocol.CmdResync,
	protocol.CmdMove,
	protocol.CmdMoveZ,
	protocol.CmdClick,
	protocol.CmdBuild,
	protocol.CmdDrop,
	protocol.CmdGhost,
}

// stunExempt kinds are sent while the controlled entity is stunned.
var stunExempt = map[string]bool{
	protocol.CmdDisconnect: true,
	protocol.CmdResync:     true,
	protocol.CmdGhost:      true,
}

// IntentQueue keeps the latest intent per command kind and spaces sends of
// one kind by the debounce interval.
type IntentQueue struct {
	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]Intent
	limiters map[string]*rate.Limiter
	seq      uint64
}

func NewIntentQueue(debounce time.Duration) *IntentQueue {
	return &IntentQueue{
		debounce: debounce,
		pending:  map[string]Intent{},
		limiters: map[string]*rate.Limiter{},
	}
}

// Put replaces any queued intent of the same kind.
func (q *IntentQueue) Put(kind string, in Intent) error {
	if !protocol.IsKnownCommand(kind) {
		return fmt.Errorf("unknown command %q", kind)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[kind] = in
	return nil
}

func (q *IntentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain returns the commands allowed at now. While stunned, everything
// except disconnect, resync and ghost is discarded. Intents held back by the
// debounce stay queued.
func (q *IntentQueue) Drain(now time.Time, stunned bool) []protocol.CommandMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []protocol.CommandMsg
	for _, kind := range intentOrder {
		in, ok := q.pending[kind]
		if !ok {
			continue
		}
		if stunned && !stunExempt[kind] {
			delete(q.pending, kind)
			continue
		}
		if !q.limiter(kind).AllowN(now, 1) {
			continue
		}
		delete(q.pending, kind)
		q.seq++
		cmd := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			Seq:             q.seq,
			Command:         kind,
			Target:          int32(in.Target),
			Reason:          in.Reason,
		}
		if in.Direction != geom.DirNone {
			cmd.Direction = in.Direction.String()
		}
		out = append(out, cmd)
	}
	return out
}

func (q *IntentQueue) limiter(kind string) *rate.Limiter {
	if l := q.limiters[kind]; l != nil {
		return l
	}
	limit := rate.Inf
	if q.debounce > 0 {
		limit = rate.Every(q.debounce)
	}
	l := rate.NewLimiter(limit, 1)
	q.limiters[kind] = l
	return l
}
