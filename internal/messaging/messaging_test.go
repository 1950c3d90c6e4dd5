package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"tilesync.io/internal/sim/world"
)

type msg struct {
	subject string
	data    []byte
}

func startServer(t *testing.T) *NatsServer {
	t.Helper()
	s, err := NewNatsServer(WithPort(-1), WithStartTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewNatsServer: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func receive(t *testing.T, ch <-chan msg) msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
	}
	return msg{}
}

func TestWorldEventsPublishTicksAndSessions(t *testing.T) {
	s := startServer(t)
	ch := make(chan msg, 4)
	unsub, err := s.Subscribe("tilesync.w1.>", func(subject string, data []byte) {
		ch <- msg{subject: subject, data: data}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	ev := NewWorldEvents(s, "w1")
	err = ev.WriteTick(world.TickLogEntry{
		Tick:     12,
		Joins:    []world.RecordedJoin{{SessionID: "s1"}},
		Commands: []world.RecordedCommand{{SessionID: "s1"}, {SessionID: "s1"}},
		Summary:  world.TickSummary{Tick: 12, Frames: 3},
		Digest:   "abc",
	})
	if err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	m := receive(t, ch)
	if m.subject != TickSubject("w1") {
		t.Fatalf("subject = %q", m.subject)
	}
	var te TickEvent
	if err := json.Unmarshal(m.data, &te); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if te.Tick != 12 || te.Joins != 1 || te.Commands != 2 || te.Summary.Frames != 3 || te.Digest != "abc" {
		t.Fatalf("tick event = %+v", te)
	}

	if err := ev.WriteSession(world.SessionEvent{WorldID: "w1", SessionID: "s1", Kind: "JOIN"}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	m = receive(t, ch)
	var se world.SessionEvent
	if err := json.Unmarshal(m.data, &se); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.subject != SessionSubject("w1") || se.Kind != "JOIN" || se.SessionID != "s1" {
		t.Fatalf("session event %q = %+v", m.subject, se)
	}
}

func TestExternalConnPublisher(t *testing.T) {
	s := startServer(t)
	ch := make(chan msg, 1)
	unsub, err := s.Subscribe(SessionSubject("w2"), func(subject string, data []byte) {
		ch <- msg{subject: subject, data: data}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	pub, err := Dial(s.ClientURL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer pub.Close()
	if err := NewWorldEvents(pub, "w2").WriteSession(world.SessionEvent{Kind: "LEAVE"}); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if m := receive(t, ch); m.subject != SessionSubject("w2") {
		t.Fatalf("subject = %q", m.subject)
	}
}

func TestPublishBeforeStartFails(t *testing.T) {
	s, err := NewNatsServer(WithPort(-1))
	if err != nil {
		t.Fatalf("NewNatsServer: %v", err)
	}
	if err := s.Publish("x", nil); err == nil {
		t.Fatalf("expected error before Start")
	}
}
