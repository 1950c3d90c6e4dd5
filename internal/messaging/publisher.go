package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"tilesync.io/internal/sim/world"
)

type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnPublisher publishes through a client connection to an external NATS.
type ConnPublisher struct {
	conn *nats.Conn
}

func Dial(url string) (*ConnPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("tilesync-server"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &ConnPublisher{conn: conn}, nil
}

func (p *ConnPublisher) Publish(subject string, data []byte) error { return p.conn.Publish(subject, data) }

func (p *ConnPublisher) Close() {
	_ = p.conn.Flush()
	p.conn.Close()
}

// TickEvent is the per-tick message. Commands are counted, not copied.
type TickEvent struct {
	Tick     uint64            `json:"tick"`
	Joins    int               `json:"joins"`
	Leaves   int               `json:"leaves"`
	Dropped  int               `json:"dropped"`
	Commands int               `json:"commands"`
	Summary  world.TickSummary `json:"summary"`
	Digest   string            `json:"digest"`
}

// WorldEvents publishes a world's tick summaries to tilesync.<world>.tick
// and session events to tilesync.<world>.session.
type WorldEvents struct {
	pub     Publisher
	tick    string
	session string
}

func NewWorldEvents(pub Publisher, worldID string) *WorldEvents {
	return &WorldEvents{
		pub:     pub,
		tick:    TickSubject(worldID),
		session: SessionSubject(worldID),
	}
}

func TickSubject(worldID string) string    { return "tilesync." + worldID + ".tick" }
func SessionSubject(worldID string) string { return "tilesync." + worldID + ".session" }

func (e *WorldEvents) WriteTick(entry world.TickLogEntry) error {
	b, err := json.Marshal(TickEvent{
		Tick:     entry.Tick,
		Joins:    len(entry.Joins),
		Leaves:   len(entry.Leaves),
		Dropped:  len(entry.Dropped),
		Commands: len(entry.Commands),
		Summary:  entry.Summary,
		Digest:   entry.Digest,
	})
	if err != nil {
		return err
	}
	return e.pub.Publish(e.tick, b)
}

func (e *WorldEvents) WriteSession(ev world.SessionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.pub.Publish(e.session, b)
}
