package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads []string
	closed   bool
	fail     bool
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stalledSubscriber never returns from Send until released, like a watcher that stopped reading.
type stalledSubscriber struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newStalledSubscriber() *stalledSubscriber {
	return &stalledSubscriber{release: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stalledSubscriber) Send([]byte) error {
	<-s.release
	return nil
}

func (s *stalledSubscriber) Close() {
	s.once.Do(func() { close(s.closed) })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsByKey(t *testing.T) {
	hub := NewHub(discardLogger())
	defer hub.Close()

	meetup := &recordingSubscriber{}
	party := &recordingSubscriber{}
	hub.Register("h1/meetup", meetup)
	hub.Register("h1/party", party)

	hub.Broadcast("h1/meetup", []byte(`{"id":"u1"}`))
	waitFor(t, func() bool { return len(meetup.received()) == 1 })
	if got := party.received(); len(got) != 0 {
		t.Fatalf("unexpected payloads for other stream: %v", got)
	}

	hub.Unregister("h1/meetup", meetup)
	waitFor(t, func() bool { return hub.Subscribers("h1/meetup") == 0 })
	hub.Broadcast("h1/meetup", []byte(`{"id":"u2"}`))
	hub.Broadcast("h1/party", []byte(`{"id":"u3"}`))
	waitFor(t, func() bool { return len(party.received()) == 1 })
	if got := meetup.received(); len(got) != 1 {
		t.Fatalf("unregistered subscriber received %v", got)
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub(discardLogger())
	defer hub.Close()

	broken := &recordingSubscriber{fail: true}
	hub.Register("k", broken)
	hub.Broadcast("k", []byte("x"))
	waitFor(t, broken.isClosed)
	waitFor(t, func() bool { return hub.Subscribers("k") == 0 })
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := NewHub(discardLogger())
	sub := &recordingSubscriber{}
	hub.Register("k", sub)
	hub.Close()
	waitFor(t, sub.isClosed)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast("k", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Broadcast blocked after Close")
	}
}

func TestSSEClientFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, discardLogger())

	if err := client.Send([]byte(`{"id":"u1"}`)); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: form\ndata: {\"id\":\"u1\"}\n\n") || !strings.Contains(body, ": ping\n\n") {
		t.Fatalf("unexpected stream body: %q", body)
	}

	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatalf("expected Done to be closed")
	}
	if err := client.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	client.Close()
}

func TestHubBroadcastSurvivesStalledSubscriber(t *testing.T) {
	hub := NewHub(discardLogger())
	defer hub.Close()

	stalled := newStalledSubscriber()
	defer close(stalled.release)
	hub.Register("k", stalled)
	waitFor(t, func() bool { return hub.Subscribers("k") == 1 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast("k", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Broadcast blocked behind a stalled subscriber")
	}

	select {
	case <-stalled.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("stalled subscriber was never dropped")
	}
	waitFor(t, func() bool { return hub.Subscribers("k") == 0 })

	late := &recordingSubscriber{}
	registered := make(chan struct{})
	go func() {
		hub.Register("other", late)
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatalf("Register blocked behind a stalled subscriber")
	}
	waitFor(t, func() bool {
		hub.Broadcast("other", []byte("y"))
		return len(late.received()) > 0
	})
}

func TestSSEClientWaitFencesWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, discardLogger())
	if err := client.Send([]byte("first")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	client.Close()
	client.Wait()
	before := rec.Body.Len()
	if err := client.Heartbeat(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	if rec.Body.Len() != before {
		t.Fatalf("write reached the response after Close")
	}
}
