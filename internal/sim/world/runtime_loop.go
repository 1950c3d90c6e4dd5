package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCommands []CommandEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []LeaveRequest
	var pendingAdmin []adminReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case req := <-w.leave:
			pendingLeaves = append(pendingLeaves, req)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case env := <-w.inbox:
			pendingCommands = append(pendingCommands, env)
		case <-ticker.C:
			w.stepInternal(pendingJoins, pendingLeaves, pendingCommands)
			w.handleAdminRequests(pendingAdmin)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCommands = pendingCommands[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick with the server's ordering.
// Intended for tests and tools that drive the world without Run.
func (w *World) StepOnce(joins []JoinRequest, leaves []LeaveRequest, cmds []CommandEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.stepInternal(joins, leaves, cmds)
	return tick, w.stateDigest(tick)
}

// sendFrame hands b to the viewer's connection without blocking. A full
// queue means the connection is not keeping up and it is dropped.
func (w *World) sendFrame(v *viewer, b []byte) bool {
	select {
	case v.Out <- b:
		return true
	default:
	}
	w.log.Printf("viewer %s: send queue full (%d), dropping", v.SessionID, cap(v.Out))
	w.drop(v, "DROP")
	return false
}
