package world

import (
	"context"
	"errors"
	"sort"
)

const (
	adminSnapshot = iota + 1
	adminState
)

type adminReq struct {
	Kind int
	Resp chan adminResp
}

type adminResp struct {
	Tick  uint64
	State AdminState
	Err   string
}

// AdminState is a point-in-time view of sessions, built on the world loop.
type AdminState struct {
	WorldID string        `json:"world_id"`
	Tick    uint64        `json:"tick"`
	Blocks  int           `json:"blocks"`
	Viewers []ViewerState `json:"viewers"`
}

type ViewerState struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	EntityID  int32  `json:"entity_id"`
	Pos       [3]int `json:"pos"`
	Attached  bool   `json:"attached"`
	Camera    string `json:"camera,omitempty"`
	Origin    [2]int `json:"origin"`
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	r, err := w.adminCall(ctx, adminSnapshot)
	return r.Tick, err
}

// RequestState returns the session table as seen by the world loop.
func (w *World) RequestState(ctx context.Context) (AdminState, error) {
	r, err := w.adminCall(ctx, adminState)
	return r.State, err
}

func (w *World) adminCall(ctx context.Context, kind int) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin requests not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case w.admin <- adminReq{Kind: kind, Resp: resp}:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r, errors.New(r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

// handleAdminRequests answers admin requests after a tick. Snapshot
// requests share one export.
func (w *World) handleAdminRequests(reqs []adminReq) {
	if w == nil || len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	var snapResp *adminResp
	for _, r := range reqs {
		var resp adminResp
		switch r.Kind {
		case adminSnapshot:
			if snapResp == nil {
				snapResp = &adminResp{Tick: snapTick}
				if w.snapshotSink == nil {
					snapResp.Err = "snapshot sink not configured"
				} else {
					select {
					case w.snapshotSink <- w.ExportSnapshot(snapTick):
					default:
						snapResp.Err = "snapshot sink backpressure"
					}
				}
			}
			resp = *snapResp
		case adminState:
			resp = adminResp{Tick: snapTick, State: w.adminState(snapTick)}
		default:
			resp = adminResp{Err: "unknown admin request"}
		}
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}

func (w *World) adminState(tick uint64) AdminState {
	st := AdminState{WorldID: w.cfg.ID, Tick: tick, Blocks: w.grid.Len(), Viewers: []ViewerState{}}
	for _, v := range w.viewers {
		vs := ViewerState{SessionID: v.SessionID, Name: v.Name, EntityID: int32(v.EntityID), Attached: v.attached()}
		if e := w.entities[v.EntityID]; e != nil {
			vs.Pos = [3]int{e.Pos.X, e.Pos.Y, e.Pos.Z}
		}
		if v.cam != nil {
			vs.Camera = v.cam.State().String()
			o := v.cam.Origin()
			vs.Origin = [2]int{o.X, o.Y}
		}
		st.Viewers = append(st.Viewers, vs)
	}
	sort.Slice(st.Viewers, func(i, j int) bool { return st.Viewers[i].SessionID < st.Viewers[j].SessionID })
	return st
}
