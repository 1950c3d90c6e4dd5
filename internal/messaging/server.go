// Package messaging runs an embedded NATS server and publishes world
// events onto it.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type NatsServer struct {
	ns   *server.Server
	conn *nats.Conn

	startupTimeout time.Duration
	host           string
	port           int
}

type NatsServerOpt func(*NatsServer)

func WithStartTimeout(d time.Duration) NatsServerOpt {
	return func(n *NatsServer) { n.startupTimeout = d }
}

func WithHost(host string) NatsServerOpt {
	return func(n *NatsServer) { n.host = host }
}

// WithPort sets the listen port; -1 picks a free one.
func WithPort(port int) NatsServerOpt {
	return func(n *NatsServer) { n.port = port }
}

func NewNatsServer(opts ...NatsServerOpt) (*NatsServer, error) {
	s := &NatsServer{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
		port:           4222,
	}
	for _, opt := range opts {
		opt(s)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   s.host,
		Port:   s.port,
		NoSigs: true, // the process owns signal handling
	})
	if err != nil {
		return nil, err
	}
	s.ns = ns
	return s, nil
}

// Start launches the server and opens the internal client connection.
func (n *NatsServer) Start() error {
	n.ns.Start()
	if !n.ns.ReadyForConnections(n.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}
	conn, err := nats.Connect(n.ns.ClientURL())
	if err != nil {
		n.ns.Shutdown()
		return fmt.Errorf("creating nats client connection: %w", err)
	}
	n.conn = conn
	return nil
}

// Run blocks until ctx is done, then shuts the server down.
func (n *NatsServer) Run(ctx context.Context) {
	<-ctx.Done()
	n.Close()
}

func (n *NatsServer) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
	n.ns.Shutdown()
	n.ns.WaitForShutdown()
}

func (n *NatsServer) ClientURL() string { return n.ns.ClientURL() }

// Subscribe calls handler for every message on subject. The returned func
// removes the subscription.
func (n *NatsServer) Subscribe(subject string, handler func(subject string, data []byte)) (func(), error) {
	if n.conn == nil {
		return nil, fmt.Errorf("nats server not started")
	}
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	// Make sure the server has the interest before returning.
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (n *NatsServer) Publish(subject string, data []byte) error {
	if n.conn == nil {
		return fmt.Errorf("nats server not started")
	}
	return n.conn.Publish(subject, data)
}
