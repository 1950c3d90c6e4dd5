// Package viewer is the remote end of a window update stream: it dials the
// server, feeds frames into a mirror and sends the mirror's queued intents.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tilesync.io/internal/mirror"
	"tilesync.io/internal/protocol"
	"tilesync.io/internal/sim/geom"
)

type Config struct {
	URL         string
	Name        string
	ResumeToken string
	MaxQueue    int

	// FlushInterval is how often queued intents are drained and the mirror
	// clock advanced.
	FlushInterval    time.Duration
	Debounce         time.Duration
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "viewer"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 20 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
}

// ServerError is an ERROR message received from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

type Client struct {
	cfg    Config
	log    *log.Logger
	conn   *websocket.Conn
	mirror *mirror.Mirror

	welcome protocol.WelcomeMsg

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	err     error
	lastErr *ServerError
}

// Dial connects, performs the HELLO/WELCOME handshake and starts the
// receive, intent and write goroutines.
func Dial(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[viewer] ", log.LstdFlags|log.Lmicroseconds)
	}
	d := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := d.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("viewer: dial: %w", err)
	}

	welcome, err := handshake(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	p := welcome.WorldParams
	c := &Client{
		cfg:  cfg,
		log:  logger,
		conn: conn,
		mirror: mirror.New(mirror.Config{
			Geometry:   geom.Geometry{BlockSize: p.BlockSize, Depth: p.Depth},
			Window:     p.WindowBlocks,
			TilePixels: p.TilePixels,
			Debounce:   cfg.Debounce,
		}, logger),
		welcome: welcome,
		out:     make(chan []byte, 32),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.intentLoop()
	go c.writeLoop()
	return c, nil
}

func handshake(conn *websocket.Conn, cfg Config) (protocol.WelcomeMsg, error) {
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      cfg.Name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: cfg.MaxQueue},
	}
	if cfg.ResumeToken != "" {
		hello.Auth = &protocol.HelloAuth{Token: cfg.ResumeToken}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(cfg.HandshakeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("viewer: send HELLO: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			return protocol.WelcomeMsg{}, fmt.Errorf("viewer: read WELCOME: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				return protocol.WelcomeMsg{}, fmt.Errorf("viewer: bad WELCOME: %w", err)
			}
			if w.WorldParams.WindowBlocks <= 0 || w.WorldParams.BlockSize <= 0 {
				return protocol.WelcomeMsg{}, fmt.Errorf("viewer: bad world params %+v", w.WorldParams)
			}
			return w, nil
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return protocol.WelcomeMsg{}, &ServerError{Code: e.Code, Message: e.Message}
		}
	}
}

func (c *Client) Mirror() *mirror.Mirror       { return c.mirror }
func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }
func (c *Client) ResumeToken() string          { return c.welcome.ResumeToken }
func (c *Client) Done() <-chan struct{}        { return c.done }
func (c *Client) Params() protocol.WorldParams { return c.welcome.WorldParams }
func (c *Client) SessionID() string            { return c.welcome.SessionID }

func (c *Client) Intent(kind string, in mirror.Intent) error {
	return c.mirror.EnqueueLocalIntent(kind, in)
}

// Err is the reason the connection ended, once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastError is the most recent ERROR the server sent after WELCOME.
func (c *Client) LastError() (*ServerError, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr, c.lastErr != nil
}

// Disconnect asks the server to end the session. The connection closes once
// the server has processed the command.
func (c *Client) Disconnect() error {
	return c.mirror.EnqueueLocalIntent(protocol.CmdDisconnect, mirror.Intent{})
}

// Close drops the connection without ending the session, so it can be
// resumed with ResumeToken.
func (c *Client) Close() error {
	c.finish(nil)
	return nil
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		switch typ {
		case websocket.BinaryMessage:
			u, err := protocol.DecodeWindowUpdate(msg)
			if err != nil {
				if errors.Is(err, protocol.ErrMalformed) {
					c.log.Printf("dropping frame: %v; requesting resync", err)
					_ = c.mirror.EnqueueLocalIntent(protocol.CmdResync, mirror.Intent{Reason: "malformed frame"})
				}
				continue
			}
			c.mirror.ApplyUpdate(u)
		case websocket.TextMessage:
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeError {
				continue
			}
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			c.log.Printf("server error %s: %s", e.Code, e.Message)
			c.mu.Lock()
			c.lastErr = &ServerError{Code: e.Code, Message: e.Message}
			c.mu.Unlock()
		}
	}
}

// intentLoop advances the mirror clock and hands drained intents to the
// writer.
func (c *Client) intentLoop() {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mirror.Update(now.Sub(last))
			last = now
			for _, cmd := range c.mirror.DrainIntents(now) {
				b, err := json.Marshal(cmd)
				if err != nil {
					continue
				}
				select {
				case c.out <- b:
				case <-c.done:
					return
				}
			}
		}
	}
}

// writeLoop is the only goroutine writing to the socket.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.finish(err)
				return
			}
		}
	}
}
