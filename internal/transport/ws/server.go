package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/world"
)

type Config struct {
	// DefaultQueue is used when HELLO does not ask for a queue size;
	// MaxQueue caps what it may ask for.
	DefaultQueue int
	MaxQueue     int

	CommandsPerSecond float64
	CommandBurst      int

	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxQueue <= 0 {
		c.MaxQueue = 64
	}
	if c.DefaultQueue <= 0 || c.DefaultQueue > c.MaxQueue {
		c.DefaultQueue = c.MaxQueue
	}
	if c.CommandsPerSecond <= 0 {
		c.CommandsPerSecond = 20
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = 40
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * c.PingInterval
	}
}

type Server struct {
	world *world.World
	log   *log.Logger
	cfg   Config

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, cfg Config, logger *log.Logger) *Server {
	cfg.applyDefaults()
	s := &Server{
		world: w,
		log:   logger,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ctl := make(chan []byte, 8)

		go s.writeLoop(ctx, cancel, conn, out, ctl)

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
		limiter := rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.CommandBurst)

		// Reader loop.
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			if typ != websocket.TextMessage {
				sendControl(ctl, protocol.NewError(protocol.ErrProtoBadRequest, "binary frames are server to client only"))
				continue
			}
			cmd, code := decodeCommand(msg)
			if code != "" {
				sendControl(ctl, protocol.NewError(code, "rejected"))
				continue
			}
			if !limiter.Allow() {
				sendControl(ctl, protocol.NewError(protocol.ErrRateLimit, cmd.Command))
				continue
			}
			select {
			case s.world.Inbox() <- world.CommandEnvelope{SessionID: sessionID, Cmd: cmd}:
			default:
				sendControl(ctl, protocol.NewError(protocol.ErrWorldBusy, "inbox full"))
			}
		}

		// Cleanup. The world ignores this when the session was already
		// dropped or taken over by another connection.
		s.world.Leave() <- world.LeaveRequest{SessionID: sessionID, Out: out}
	}
}

// writeLoop is the only writer after the handshake. A closed out queue
// means the world dropped the viewer, so the connection is closed.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte, ctl <-chan []byte) {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(time.Second))
				_ = conn.Close()
				cancel()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				_ = conn.Close()
				cancel()
				return
			}
		case b := <-ctl:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				cancel()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = conn.Close()
				cancel()
				return
			}
		}
	}
}

func decodeCommand(msg []byte) (protocol.CommandMsg, string) {
	var cmd protocol.CommandMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		return cmd, protocol.ErrProtoBadRequest
	}
	if base.ProtocolVersion != protocol.Version {
		return cmd, protocol.ErrProtoVersion
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return cmd, protocol.ErrProtoBadRequest
	}
	if !protocol.IsKnownCommand(cmd.Command) {
		return cmd, protocol.ErrBadRequest
	}
	return cmd, ""
}

func sendControl(ctl chan<- []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ctl <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return "", nil
	}
	if hello.ViewerName == "" {
		hello.ViewerName = "viewer"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = s.cfg.DefaultQueue
	}
	if maxQ > s.cfg.MaxQueue {
		maxQ = s.cfg.MaxQueue
	}
	out = make(chan []byte, maxQ)

	// Optional: resume an existing session (reconnect).
	resumeToken := ""
	if hello.Auth != nil {
		resumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	var resp world.JoinResponse
	if resumeToken != "" {
		respCh := make(chan world.JoinResponse, 1)
		s.world.Attach() <- world.AttachRequest{
			ResumeToken: resumeToken,
			Out:         out,
			Resp:        respCh,
		}
		resp = <-respCh
		if resp.ErrCode != "" {
			s.logf("resume rejected (%s); joining fresh", resp.ErrCode)
		}
	}
	if resp.Welcome.SessionID == "" {
		// Fresh join.
		respCh := make(chan world.JoinResponse, 1)
		s.world.Join() <- world.JoinRequest{
			Name: hello.ViewerName,
			Out:  out,
			Resp: respCh,
		}
		resp = <-respCh
	}
	if resp.ErrCode != "" {
		s.reject(conn, resp.ErrCode, "join failed")
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}
	return resp.Welcome.SessionID, out
}

// reject sends an ERROR and closes with a policy violation.
func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.NewError(code, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf("ws: "+format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
