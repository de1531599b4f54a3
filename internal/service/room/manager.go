package room

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/zhouzirui/roomchat/internal/model/chat"
	chatservice "github.com/zhouzirui/roomchat/internal/service/chat"
)

// Endpoint builds the room-scoped socket URL: {base}/chat/{room}/.
func Endpoint(baseURL, room string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/" + url.PathEscape(room) + "/"
}

// Manager owns the single live room connection. Joining a room tears down
// whatever connection existed before, and events from a superseded
// connection never reach the store.
type Manager struct {
	baseURL string
	dialer  Dialer
	store   *chatservice.Store
	errors  *ErrorHandler
	now     func() time.Time

	mu        sync.Mutex
	active    *connection
	status    Status
	listeners map[int]func(Status)
	nextID    int
}

type connection struct {
	room    string
	state   State
	conn    Conn
	cancel  context.CancelFunc
	entropy *ulid.MonotonicEntropy
}

// Option customises a Manager.
type Option func(*Manager)

// WithErrorHandler replaces the default logging error handler.
func WithErrorHandler(handler *ErrorHandler) Option {
	return func(m *Manager) {
		if handler != nil {
			m.errors = handler
		}
	}
}

// WithClock overrides the receipt clock used for synthesized timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires a manager to the socket base URL (e.g. ws://host:8080),
// a dialer and the store it fills.
func NewManager(baseURL string, dialer Dialer, store *chatservice.Store, opts ...Option) *Manager {
	m := &Manager{
		baseURL:   baseURL,
		dialer:    dialer,
		store:     store,
		errors:    NewErrorHandler(),
		now:       time.Now,
		status:    Status{State: Idle},
		listeners: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join closes any existing connection, clears the store and starts dialing
// room. It returns as soon as the connection is Connecting; the open, message
// and close events are applied as the transport delivers them.
func (m *Manager) Join(ctx context.Context, room string) error {
	if strings.TrimSpace(room) == "" {
		return ErrRoomRequired
	}

	m.mu.Lock()
	m.teardownLocked()
	m.store.Clear()

	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &connection{
		room:    room,
		state:   Connecting,
		cancel:  cancel,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	m.active = c
	m.setStatusLocked(Status{Room: room, State: Connecting})
	m.mu.Unlock()

	endpoint := Endpoint(m.baseURL, room)
	log.Printf("[room] joining room %s via %s", room, endpoint)
	go m.run(dialCtx, c, endpoint)
	return nil
}

// Leave closes the active connection when it belongs to room.
func (m *Manager) Leave(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.room != room {
		return
	}
	m.teardownLocked()
	m.setStatusLocked(Status{Room: room, State: Closed})
	log.Printf("[room] left room %s", room)
}

// Close releases the active connection regardless of its room.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	room := m.active.room
	m.teardownLocked()
	m.setStatusLocked(Status{Room: room, State: Closed})
	return nil
}

// Send writes {message, username} to the open connection. metadata stays
// local; the store only grows when the server echoes the message back.
func (m *Manager) Send(ctx context.Context, text, username string, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	c := m.active
	if c == nil || c.state != Open {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn, room := c.conn, c.room
	m.mu.Unlock()

	payload, err := json.Marshal(chat.OutboundFrame{Message: text, Username: username})
	if err != nil {
		return fmt.Errorf("failed to encode outbound frame: %w", err)
	}

	if err := conn.WriteMessage(payload); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrTransport, err)
		m.errors.HandleProtocolError(room, wrapped)
		return wrapped
	}
	return nil
}

// Status returns the latest published status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers fn for every status transition. fn runs with the
// manager lock held and must not call back into the Manager.
func (m *Manager) OnStatus(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) run(ctx context.Context, c *connection, endpoint string) {
	conn, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		m.failed(c, err)
		return
	}
	if !m.opened(c, conn) {
		_ = conn.Close()
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.closed(c, err)
			return
		}
		m.deliver(c, data)
	}
}

func (m *Manager) failed(c *connection, err error) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	c.state = Failed
	m.setStatusLocked(Status{Room: c.room, State: Failed})
	m.mu.Unlock()

	m.errors.HandleConnectionError(c.room, fmt.Errorf("%w: %v", ErrTransportOpen, err))
}

func (m *Manager) opened(c *connection, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != c || c.state != Connecting {
		return false
	}
	c.conn = conn
	c.state = Open
	m.setStatusLocked(Status{Room: c.room, State: Open, Connected: true})
	log.Printf("[room] connected to room: %s", c.room)
	return true
}

func (m *Manager) closed(c *connection, err error) {
	m.mu.Lock()
	if m.active != c || c.state != Open {
		m.mu.Unlock()
		return
	}
	c.state = Closed
	m.setStatusLocked(Status{Room: c.room, State: Closed})
	m.mu.Unlock()

	log.Printf("[room] disconnected from room: %s", c.room)
	if !isNormalClose(err) {
		m.errors.HandleProtocolError(c.room, fmt.Errorf("%w: %v", ErrTransport, err))
	}
}

func (m *Manager) deliver(c *connection, data []byte) {
	frame, err := decodeFrame(data)

	m.mu.Lock()
	if m.active != c || c.state != Open {
		m.mu.Unlock()
		return
	}
	if err == nil {
		err = m.store.AddOne(m.materializeLocked(c, frame))
	}
	m.mu.Unlock()

	if err != nil {
		m.errors.HandleMessageError(c.room, err)
	}
}

func decodeFrame(data []byte) (chat.InboundFrame, error) {
	var frame chat.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Username == "" {
		return frame, fmt.Errorf("%w: missing username", ErrMalformedFrame)
	}
	return frame, nil
}

// materializeLocked fills id and timestamp from the receipt instant when the
// server left them out.
func (m *Manager) materializeLocked(c *connection, frame chat.InboundFrame) chat.Message {
	receivedAt := m.now()

	id := frame.ID
	if id == "" {
		id = frame.Username + "-" + m.nextIDLocked(c, receivedAt)
	}
	timestamp := frame.Timestamp
	if timestamp == "" {
		timestamp = chat.FormatTimestamp(receivedAt)
	}

	return chat.Message{
		ID:        id,
		Username:  frame.Username,
		Content:   frame.Message,
		Room:      c.room,
		Timestamp: timestamp,
		Metadata:  frame.Metadata,
	}
}

func (m *Manager) nextIDLocked(c *connection, at time.Time) string {
	id, err := ulid.New(ulid.Timestamp(at), c.entropy)
	if err != nil {
		// monotonic entropy overflowed inside one millisecond
		return uuid.NewString()
	}
	return id.String()
}

func (m *Manager) teardownLocked() {
	c := m.active
	if c == nil {
		return
	}
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.state.Live() {
		c.state = Closed
	}
	m.active = nil
}

func (m *Manager) setStatusLocked(status Status) {
	m.status = status
	for _, fn := range m.listeners {
		fn(status)
	}
}
