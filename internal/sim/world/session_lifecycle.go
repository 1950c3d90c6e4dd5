package world

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/camera"
)

func newResumeToken() string { return "resume_" + uuid.NewString() }

func (w *World) joinViewer(req JoinRequest) JoinResponse {
	if w.attachedCount() >= w.cfg.MaxViewers {
		return JoinResponse{ErrCode: protocol.ErrWorldBusy}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "viewer"
	}
	p, ok := w.spawnPoint(len(w.viewers))
	if !ok {
		return JoinResponse{ErrCode: protocol.ErrWorldBusy}
	}

	mob := w.newEntity(KindCreature)
	mob.Name = name
	mob.Icons = []uint32{IconMob}
	mob.Layer = LayerMob
	mob.Dense = true
	mob.Dir = DefaultFacing
	mob.Speed = float32(w.cfg.TickRateHz)
	if err := w.place(mob, p); err != nil {
		delete(w.entities, mob.ID)
		return JoinResponse{ErrCode: protocol.ErrInternal}
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	v := &viewer{
		SessionID:   id,
		Name:        name,
		ResumeToken: newResumeToken(),
		EntityID:    mob.ID,
		Body:        mob.ID,
	}
	w.viewers[v.SessionID] = v
	w.attachViewer(v, req.Out)

	w.pendingJoins = append(w.pendingJoins, RecordedJoin{SessionID: v.SessionID, Name: name, EntityID: int32(mob.ID)})
	w.emitSession("JOIN", v)
	return JoinResponse{Welcome: w.welcome(v)}
}

func (w *World) handleAttach(req AttachRequest) {
	resp := w.resumeViewer(req)
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) resumeViewer(req AttachRequest) JoinResponse {
	token := strings.TrimSpace(req.ResumeToken)
	if token == "" || req.Out == nil {
		return JoinResponse{ErrCode: protocol.ErrSessionUnknown}
	}

	// Deterministic scan by session id.
	ids := make([]string, 0, len(w.viewers))
	for id := range w.viewers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var v *viewer
	for _, id := range ids {
		if vv := w.viewers[id]; vv.ResumeToken == token {
			v = vv
			break
		}
	}
	if v == nil || w.entities[v.EntityID] == nil {
		return JoinResponse{ErrCode: protocol.ErrSessionUnknown}
	}

	if !v.attached() && w.attachedCount() >= w.cfg.MaxViewers {
		return JoinResponse{ErrCode: protocol.ErrWorldBusy}
	}
	if v.attached() {
		// The previous connection is replaced; closing its queue ends it.
		close(v.Out)
		w.detach(v)
	}
	w.attachViewer(v, req.Out)
	v.ResumeToken = newResumeToken()

	w.pendingJoins = append(w.pendingJoins, RecordedJoin{SessionID: v.SessionID, Name: v.Name, EntityID: int32(v.EntityID), Resumed: true})
	w.emitSession("RESUME", v)
	return JoinResponse{Welcome: w.welcome(v)}
}

// attachViewer gives v a fresh camera focused on its entity. The first
// camera update sends a full recount.
func (w *World) attachViewer(v *viewer, out chan []byte) {
	v.Out = out
	if out == nil {
		return
	}
	v.cam = camera.New(w.grid, w.cfg.Camera, w.resolve, w.log)
	w.refocus(v)
	if e := w.entities[v.EntityID]; e != nil {
		v.cam.SetControllable(e.ID, e.Speed)
	}
}

// refocus points the camera at the viewer's entity.
func (w *World) refocus(v *viewer) {
	if v.cam == nil {
		return
	}
	e := w.entities[v.EntityID]
	if e == nil || !e.placed {
		return
	}
	t := w.grid.TileAt(e.Pos)
	if t == nil {
		w.log.Printf("viewer %s: focus entity %d has no tile at %v", v.SessionID, e.ID, e.Pos)
		return
	}
	if err := v.cam.SetFocus(t); err != nil {
		w.log.Printf("viewer %s: %v", v.SessionID, err)
	}
}

func (w *World) detach(v *viewer) {
	v.Out = nil
	if v.cam != nil {
		v.cam.Suspend()
		v.cam = nil
	}
}

func (w *World) handleLeave(req LeaveRequest) bool {
	v := w.viewers[req.SessionID]
	if v == nil || !v.attached() || v.Out != req.Out {
		return false
	}
	w.detach(v)
	w.emitSession("LEAVE", v)
	return true
}

// drop closes the viewer's queue from the world side. The transport sees
// the closed queue and ends the connection.
func (w *World) drop(v *viewer, kind string) {
	if !v.attached() {
		return
	}
	close(v.Out)
	w.detach(v)
	if kind == "DROP" {
		w.droppedTotal++
		w.pendingDrops = append(w.pendingDrops, v.SessionID)
	}
	w.emitSession(kind, v)
}

func (w *World) welcome(v *viewer) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       v.SessionID,
		EntityID:        int32(v.EntityID),
		ResumeToken:     v.ResumeToken,
		WorldParams:     w.worldParams(),
	}
}

func (w *World) emitSession(kind string, v *viewer) {
	if w.sessionLogger == nil {
		return
	}
	_ = w.sessionLogger.WriteSession(SessionEvent{
		WorldID:   w.cfg.ID,
		Tick:      w.tick.Load(),
		SessionID: v.SessionID,
		Name:      v.Name,
		EntityID:  int32(v.EntityID),
		Kind:      kind,
	})
}

// attachedCount counts live connections. Detached sessions keep their mob
// but do not hold a viewer slot.
func (w *World) attachedCount() int {
	n := 0
	for _, v := range w.viewers {
		if v.attached() {
			n++
		}
	}
	return n
}
