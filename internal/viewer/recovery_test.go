package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/diff"
	"tilesync.io/internal/sim/geom"
)

var scriptGeo = geom.Geometry{BlockSize: 10, Depth: 1}

// scriptedServer accepts one viewer and runs script on the connection after
// the WELCOME. The script's result is delivered on the returned channel.
func scriptedServer(t *testing.T, script func(conn *websocket.Conn) error) (string, <-chan error) {
	t.Helper()
	result := make(chan error, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		if _, msg, err := conn.ReadMessage(); err != nil {
			result <- err
			return
		} else if base, err := protocol.DecodeBase(msg); err != nil || base.Type != protocol.TypeHello {
			result <- fmt.Errorf("first message %q is not HELLO", msg)
			return
		}
		err = conn.WriteJSON(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       "s1",
			EntityID:        1,
			WorldParams: protocol.WorldParams{
				WorldID: "scripted", TickRateHz: 20, BlockSize: 10, Depth: 1,
				FOV: 15, Padding: 2, WindowBlocks: 3, TilePixels: 32,
			},
		})
		if err != nil {
			result <- err
			return
		}
		result <- script(conn)
		// Hold the connection until the viewer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), result
}

func resetFrame(t *testing.T, origin geom.BlockKey, id diff.EntityID, at geom.Pos) []byte {
	t.Helper()
	s := diff.BlockSnapshot{Key: scriptGeo.BlockOf(at), Tiles: make([]diff.TileSnapshot, scriptGeo.TilesPerBlock())}
	s.Tiles[scriptGeo.LocalIndex(at)].Entities = []diff.EntityInfo{
		{ID: id, Name: "mob", Layer: 4, Direction: geom.DirSouth, MoveSpeed: 4},
	}
	b, err := protocol.EncodeWindowUpdate(&protocol.WindowUpdate{
		Reset: true, HasOrigin: true, Origin: origin,
		HasFocus: true, Focus: at,
		Blocks:       []diff.BlockSnapshot{s},
		Controllable: &protocol.Controllable{ID: id, Speed: 4},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestMalformedFrameTriggersResyncAndReset(t *testing.T) {
	first := resetFrame(t, geom.BlockKey{}, 1, geom.Pos{X: 2, Y: 2})
	lost := resetFrame(t, geom.BlockKey{}, 2, geom.Pos{X: 3, Y: 3})
	recovered := resetFrame(t, geom.BlockKey{X: 1, Y: 1}, 3, geom.Pos{X: 12, Y: 12})

	url, result := scriptedServer(t, func(conn *websocket.Conn) error {
		if err := conn.WriteMessage(websocket.BinaryMessage, first); err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, lost[:len(lost)-3]); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("waiting for RESYNC: %w", err)
			}
			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				return err
			}
			if cmd.Command == protocol.CmdResync {
				break
			}
		}
		_ = conn.SetReadDeadline(time.Time{})
		return conn.WriteMessage(websocket.BinaryMessage, recovered)
	})

	c := dial(t, url, "")
	m := c.Mirror()
	waitFor(t, "recovery frame", func() bool {
		_, ok := m.Entity(3)
		return ok
	})
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("server script: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server script did not finish")
	}

	if _, ok := m.Entity(1); ok {
		t.Fatalf("entity from before the reset still mirrored")
	}
	if _, ok := m.Entity(2); ok {
		t.Fatalf("entity from the malformed frame was applied")
	}
	if got, _ := m.Origin(); got != (geom.BlockKey{X: 1, Y: 1}) {
		t.Fatalf("origin = %v, want (1,1)", got)
	}
	if ctrl, ok := m.Controllable(); !ok || ctrl.ID != 3 {
		t.Fatalf("controllable = %+v/%v, want 3", ctrl, ok)
	}
	if ents, ok := m.GetMirroredTileAt(geom.Pos{X: 2, Y: 2}); !ok || len(ents) != 1 || ents[0].Info.ID != 3 {
		t.Fatalf("tile (2,2) = %+v/%v, want entity 3", ents, ok)
	}
	if n := len(m.Blocks()); n != 1 {
		t.Fatalf("blocks = %d, want 1", n)
	}
	if st := m.Stats(); st.Frames != 2 {
		t.Fatalf("frames = %d, want 2", st.Frames)
	}
	select {
	case <-c.Done():
		t.Fatalf("connection ended: %v", c.Err())
	default:
	}
}
