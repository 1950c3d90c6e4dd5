package world

import (
	"sort"
	"time"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/grid"
)

func (w *World) stepInternal(joins []JoinRequest, leaves []LeaveRequest, cmds []CommandEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	rejectedBefore := w.rejectedTotal

	// Leaves and joins apply at the tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, req := range leaves {
		if w.handleLeave(req) {
			recordedLeaves = append(recordedLeaves, req.SessionID)
		}
	}
	for _, req := range joins {
		resp := w.joinViewer(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}
	// Resumes were handled as they arrived; they are logged with this tick.
	recordedJoins := append([]RecordedJoin(nil), w.pendingJoins...)

	// Commands in inbox order.
	recorded := make([]RecordedCommand, 0, len(cmds))
	for _, env := range cmds {
		v := w.viewers[env.SessionID]
		if v == nil {
			continue
		}
		code := w.applyCommand(v, env.Cmd, nowTick)
		if code != "" {
			w.rejectedTotal++
		}
		recorded = append(recorded, RecordedCommand{SessionID: env.SessionID, Cmd: env.Cmd, Result: code})
	}

	w.systemMovement(nowTick)
	w.systemEnvironment(nowTick)

	sum := w.stepCameras()

	// Every known block was drained above; nothing may carry over.
	w.grid.ClearRecords()
	sum.Collected = w.grid.Collect(w.blockInUse)

	sum.WorldID = w.cfg.ID
	sum.Tick = nowTick
	sum.Viewers = len(w.viewers)
	sum.Entities = len(w.entities)
	sum.Blocks = w.grid.Len()
	sum.Dropped = len(w.pendingDrops)
	sum.Rejected = int(w.rejectedTotal - rejectedBefore)
	for _, v := range w.viewers {
		if v.attached() {
			sum.Attached++
		}
	}

	digest := w.stateDigest(nowTick)
	sum.StepMS = float64(time.Since(stepStart).Microseconds()) / 1000.0
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Joins:    recordedJoins,
			Leaves:   recordedLeaves,
			Dropped:  append([]string(nil), w.pendingDrops...),
			Commands: recorded,
			Summary:  sum,
			Digest:   digest,
		})
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			select {
			case w.snapshotSink <- w.ExportSnapshot(nowTick):
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	if w.telemetry != nil {
		w.telemetry.ObserveTick(sum)
	}

	w.pendingJoins = w.pendingJoins[:0]
	w.pendingDrops = w.pendingDrops[:0]

	nextTick := w.tick.Add(1)
	w.metrics.Store(WorldMetrics{
		Tick:     nextTick,
		Summary:  sum,
		Rejected: w.rejectedTotal,
		Dropped:  w.droppedTotal,
		QueueDepths: QueueDepths{
			Inbox:  len(w.inbox),
			Join:   len(w.join),
			Leave:  len(w.leave),
			Attach: len(w.attach),
		},
	})
}

// stepCameras runs every attached camera in session order, encodes its
// update and hands it to the connection.
func (w *World) stepCameras() TickSummary {
	var sum TickSummary
	ids := make([]string, 0, len(w.viewers))
	for id, v := range w.viewers {
		if v.attached() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		v := w.viewers[id]
		if !v.attached() {
			continue
		}
		w.refocus(v)
		u, ok := v.cam.Update()
		st := v.cam.LastStats()
		sum.Snapshots += st.Snapshots
		sum.Records += st.Records
		sum.Promoted += st.Promoted
		sum.Demoted += st.Demoted
		if st.Shifted {
			sum.Shifts++
		}
		if !ok {
			continue
		}
		b, err := protocol.EncodeWindowUpdate(&u)
		if err != nil {
			w.log.Printf("viewer %s: encode: %v", v.SessionID, err)
			v.cam.Resync()
			continue
		}
		if w.sendFrame(v, b) {
			sum.Frames++
			sum.Bytes += len(b)
		}
	}
	return sum
}

func (w *World) blockInUse(b *grid.Block) bool {
	for _, v := range w.viewers {
		if v.cam != nil && v.cam.Contains(b) {
			return true
		}
	}
	return false
}
