package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	chatservice "github.com/zhouzirui/roomchat/internal/service/chat"
)

func newTestManager(t *testing.T, dialer Dialer) (*Manager, *chatservice.Store, *errorLog) {
	t.Helper()
	store := chatservice.NewStore()
	handler, errs := quietErrors()
	m := NewManager("ws://chat.test/", dialer, store, WithErrorHandler(handler))
	t.Cleanup(func() { _ = m.Close() })
	return m, store, errs
}

func joinOpen(t *testing.T, m *Manager, d *fakeDialer, room string) *fakeConn {
	t.Helper()
	if err := m.Join(context.Background(), room); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	conn := d.next(t)
	waitFor(t, "open state", func() bool { return m.Status().State == Open })
	return conn
}

func TestEndpointEscapesRoom(t *testing.T) {
	cases := []struct {
		base string
		room string
		want string
	}{
		{base: "ws://localhost:8000", room: "general", want: "ws://localhost:8000/chat/general/"},
		{base: "ws://localhost:8000/", room: "general", want: "ws://localhost:8000/chat/general/"},
		{base: "wss://example.com/ws", room: "a b/c", want: "wss://example.com/ws/chat/a%20b%2Fc/"},
	}

	for _, tc := range cases {
		if got := Endpoint(tc.base, tc.room); got != tc.want {
			t.Fatalf("Endpoint(%q, %q) = %q, want %q", tc.base, tc.room, got, tc.want)
		}
	}
}

func TestJoinRequiresRoom(t *testing.T) {
	m, _, _ := newTestManager(t, newFakeDialer())
	if err := m.Join(context.Background(), "  "); !errors.Is(err, ErrRoomRequired) {
		t.Fatalf("expected ErrRoomRequired, got %v", err)
	}
}

func TestJoinDeliversMessageWithSynthesizedFields(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	conn := joinOpen(t, m, d, "general")
	if got := m.Status(); !got.Connected || got.Room != "general" {
		t.Fatalf("unexpected status after open: %+v", got)
	}

	conn.inbound <- []byte(`{"username":"alice","message":"hi","metadata":{"avatar":"a.png"}}`)
	waitFor(t, "stored message", func() bool { return store.Len() == 1 })

	for message := range store.AllSorted() {
		if message.Username != "alice" || message.Content != "hi" || message.Room != "general" {
			t.Fatalf("unexpected message: %+v", message)
		}
		if !strings.HasPrefix(message.ID, "alice-") || len(message.ID) <= len("alice-") {
			t.Fatalf("expected synthesized id, got %q", message.ID)
		}
		if message.Timestamp != "2025-03-01T12:00:00.000Z" {
			t.Fatalf("unexpected timestamp %q", message.Timestamp)
		}
		if message.Metadata["avatar"] != "a.png" {
			t.Fatalf("metadata not carried: %v", message.Metadata)
		}
	}
}

func TestSameTickMessagesDoNotCollide(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	conn := joinOpen(t, m, d, "general")
	conn.inbound <- []byte(`{"username":"alice","message":"one"}`)
	conn.inbound <- []byte(`{"username":"alice","message":"two"}`)
	waitFor(t, "two messages", func() bool { return store.Len() == 2 })

	var contents []string
	for message := range store.AllSorted() {
		contents = append(contents, message.Content)
	}
	if strings.Join(contents, ",") != "one,two" {
		t.Fatalf("unexpected order: %v", contents)
	}
}

func TestServerSuppliedIDReplaces(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)

	conn := joinOpen(t, m, d, "general")
	conn.inbound <- []byte(`{"id":"m1","username":"alice","message":"draft","timestamp":"2025-01-01T00:00:00.000Z"}`)
	conn.inbound <- []byte(`{"id":"m1","username":"alice","message":"final","timestamp":"2025-01-01T00:00:00.000Z"}`)
	conn.inbound <- []byte(`{"id":"m2","username":"bob","message":"ack","timestamp":"2025-01-01T00:00:01.000Z"}`)
	waitFor(t, "second id stored", func() bool { return store.Len() == 2 })

	for message := range store.AllSorted() {
		if message.ID == "m1" && message.Content != "final" {
			t.Fatalf("expected replaced content, got %q", message.Content)
		}
	}
}

func TestJoinSupersedesPreviousConnection(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)

	first := joinOpen(t, m, d, "a")

	hold := make(chan struct{})
	d.mu.Lock()
	d.hold = hold
	d.mu.Unlock()

	if err := m.Join(context.Background(), "b"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if !first.isClosed() {
		t.Fatal("expected first connection closed synchronously by Join")
	}
	if got := m.Status(); got.State != Connecting || got.Room != "b" {
		t.Fatalf("unexpected status: %+v", got)
	}

	// late frames from the superseded connection; the second send only
	// completes once the first frame was handled.
	first.inbound <- []byte(`{"username":"ghost","message":"late"}`)
	first.inbound <- []byte(`{"username":"ghost","message":"later"}`)
	first.drop()

	close(hold)
	second := d.next(t)
	waitFor(t, "room b open", func() bool { return m.Status().State == Open })

	if store.Len() != 0 {
		t.Fatalf("late events leaked into room b: %d messages", store.Len())
	}
	if got := m.Status(); got.Room != "b" || !got.Connected {
		t.Fatalf("stale close event changed status: %+v", got)
	}

	second.inbound <- []byte(`{"username":"bob","message":"hello b"}`)
	waitFor(t, "room b message", func() bool { return store.Len() == 1 })
}

func TestSupersededConnectionErrorsAreNotReported(t *testing.T) {
	d := newFakeDialer()
	m, _, errs := newTestManager(t, d)

	first := joinOpen(t, m, d, "a")
	second := joinOpen(t, m, d, "b")

	// the second send only completes once the garbage frame was handled
	first.inbound <- []byte(`<<garbage>>`)
	first.inbound <- []byte(`{"message":"no user"}`)
	first.drop()

	if errs.has(ErrMalformedFrame) {
		t.Fatal("malformed frame from a superseded connection was reported")
	}

	second.inbound <- []byte(`<<garbage>>`)
	waitFor(t, "active connection error", func() bool { return errs.has(ErrMalformedFrame) })
}

func TestRejoinSameRoomClearsStore(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)

	first := joinOpen(t, m, d, "general")
	first.inbound <- []byte(`{"username":"alice","message":"hi"}`)
	waitFor(t, "message", func() bool { return store.Len() == 1 })

	joinOpen(t, m, d, "general")
	if store.Len() != 0 {
		t.Fatalf("expected cleared store after rejoin, got %d", store.Len())
	}
	if !first.isClosed() {
		t.Fatal("expected old connection closed")
	}
	if d.dialCount() != 2 {
		t.Fatalf("expected 2 dials, got %d", d.dialCount())
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	d := newFakeDialer()
	m, store, errs := newTestManager(t, d)

	conn := joinOpen(t, m, d, "general")
	conn.inbound <- []byte(`{not json`)
	conn.inbound <- []byte(`{"message":"no user"}`)
	conn.inbound <- []byte(`{"username":"alice","message":"ok"}`)
	waitFor(t, "valid message", func() bool { return store.Len() == 1 })

	if !errs.has(ErrMalformedFrame) {
		t.Fatal("expected malformed frame to be reported")
	}
	if !m.Status().Connected || conn.isClosed() {
		t.Fatal("malformed frame must not close the connection")
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	d := newFakeDialer()
	m, _, _ := newTestManager(t, d)

	if err := m.Send(context.Background(), "hi", "alice", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("idle: expected ErrNotConnected, got %v", err)
	}

	hold := make(chan struct{})
	d.hold = hold
	if err := m.Join(context.Background(), "general"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if err := m.Send(context.Background(), "hi", "alice", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("connecting: expected ErrNotConnected, got %v", err)
	}
	close(hold)
	conn := d.next(t)
	waitFor(t, "open", func() bool { return m.Status().State == Open })

	conn.drop()
	waitFor(t, "closed", func() bool { return m.Status().State == Closed })
	if err := m.Send(context.Background(), "hi", "alice", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("closed: expected ErrNotConnected, got %v", err)
	}
	if conn.writeCount() != 0 {
		t.Fatalf("transport written while not open: %d writes", conn.writeCount())
	}
}

func TestSendForwardsOnlyMessageAndUsername(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)
	conn := joinOpen(t, m, d, "general")

	metadata := map[string]any{"avatar": "a.png", "timestamp": "now"}
	if err := m.Send(context.Background(), "hello", "alice", metadata); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if conn.writeCount() != 1 {
		t.Fatalf("expected 1 write, got %d", conn.writeCount())
	}

	var fields map[string]any
	if err := json.Unmarshal(conn.writes[0], &fields); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if len(fields) != 2 || fields["message"] != "hello" || fields["username"] != "alice" {
		t.Fatalf("unexpected outbound payload: %v", fields)
	}
	if store.Len() != 0 {
		t.Fatal("send must not update the store optimistically")
	}
}

func TestSendWriteFailureReported(t *testing.T) {
	d := newFakeDialer()
	m, _, errs := newTestManager(t, d)
	conn := joinOpen(t, m, d, "general")
	conn.writeErr = errors.New("broken pipe")

	if err := m.Send(context.Background(), "hello", "alice", nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !errs.has(ErrTransport) {
		t.Fatal("expected transport error reported")
	}
	if m.Status().State != Open {
		t.Fatal("write failure alone must not change state")
	}
}

func TestDroppedConnectionIsNotRetried(t *testing.T) {
	d := newFakeDialer()
	m, _, errs := newTestManager(t, d)
	conn := joinOpen(t, m, d, "general")

	conn.drop()
	waitFor(t, "closed", func() bool { return m.Status().State == Closed })
	time.Sleep(50 * time.Millisecond)

	if d.dialCount() != 1 {
		t.Fatalf("expected no reconnect, got %d dials", d.dialCount())
	}
	if m.Status().Connected {
		t.Fatal("expected connected=false after drop")
	}
	if !errs.has(ErrTransport) {
		t.Fatal("expected abnormal close reported")
	}
}

func TestDialFailureMarksFailed(t *testing.T) {
	d := newFakeDialer()
	d.err = errors.New("connection refused")
	m, _, errs := newTestManager(t, d)

	if err := m.Join(context.Background(), "general"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	waitFor(t, "failed", func() bool { return m.Status().State == Failed })
	if !errs.has(ErrTransportOpen) {
		t.Fatal("expected ErrTransportOpen reported")
	}
}

func TestLeaveOnlyClosesMatchingRoom(t *testing.T) {
	d := newFakeDialer()
	m, _, _ := newTestManager(t, d)
	conn := joinOpen(t, m, d, "general")

	m.Leave("other")
	if conn.isClosed() || !m.Status().Connected {
		t.Fatal("Leave for another room must be a no-op")
	}

	m.Leave("general")
	if !conn.isClosed() {
		t.Fatal("expected connection closed")
	}
	if got := m.Status(); got.State != Closed || got.Connected {
		t.Fatalf("unexpected status after leave: %+v", got)
	}

	conn.drop()
	time.Sleep(20 * time.Millisecond)
	if got := m.Status(); got.State != Closed {
		t.Fatalf("stale close changed status: %+v", got)
	}
}

func TestOnStatusSequence(t *testing.T) {
	d := newFakeDialer()
	m, _, _ := newTestManager(t, d)

	statuses := make(chan Status, 8)
	cancel := m.OnStatus(func(s Status) { statuses <- s })
	defer cancel()

	conn := joinOpen(t, m, d, "general")
	conn.drop()
	waitFor(t, "closed", func() bool { return m.Status().State == Closed })

	want := []State{Connecting, Open, Closed}
	for _, state := range want {
		select {
		case got := <-statuses:
			if got.State != state {
				t.Fatalf("expected %s, got %s", state, got.State)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s status", state)
		}
	}
}

func TestMessageRoomMatchesConnection(t *testing.T) {
	d := newFakeDialer()
	m, store, _ := newTestManager(t, d)
	conn := joinOpen(t, m, d, "lobby")
	conn.inbound <- []byte(`{"username":"alice","message":"hi"}`)
	waitFor(t, "message", func() bool { return store.Len() == 1 })

	for message := range store.AllSorted() {
		if message.Room != "lobby" {
			t.Fatalf("expected room lobby, got %q", message.Room)
		}
	}
}
