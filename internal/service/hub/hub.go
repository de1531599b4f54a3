package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("hub is closed")

// Client is one subscriber of a room: a websocket peer or an SSE stream.
type Client struct {
	ID   string
	Room string
	send chan []byte
}

// NewClient allocates a client with a bounded outbound queue.
func NewClient(room string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		ID:   uuid.NewString(),
		Room: room,
		send: make(chan []byte, buffer),
	}
}

// Send is closed once the client is unregistered or dropped.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// RoomInfo summarises an active room.
type RoomInfo struct {
	Name    string `json:"name"`
	Clients int    `json:"clients"`
}

// Hub fans room broadcasts out to every registered client of that room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Register adds client to its room.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	members, ok := h.rooms[client.Room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[client.Room] = members
	}
	members[client] = struct{}{}
	log.Printf("[hub] client %s joined room %s (%d members)", client.ID, client.Room, len(members))
	return nil
}

// Unregister removes client and closes its queue. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removeLocked(client) {
		log.Printf("[hub] client %s left room %s", client.ID, client.Room)
	}
}

// Broadcast encodes payload once and queues it for every client in room.
// Clients whose queue is full are dropped.
func (h *Hub) Broadcast(room string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	for client := range h.rooms[room] {
		select {
		case client.send <- data:
		default:
			log.Printf("[hub] dropping slow client %s in room %s", client.ID, room)
			h.removeLocked(client)
		}
	}
	return nil
}

// Rooms lists active rooms sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		rooms = append(rooms, RoomInfo{Name: name, Clients: len(members)})
	}
	slices.SortFunc(rooms, func(a, b RoomInfo) int { return strings.Compare(a.Name, b.Name) })
	return rooms
}

// Close disconnects every client and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, members := range h.rooms {
		for client := range members {
			close(client.send)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	log.Println("[hub] closed")
}

func (h *Hub) removeLocked(client *Client) bool {
	members, ok := h.rooms[client.Room]
	if !ok {
		return false
	}
	if _, ok := members[client]; !ok {
		return false
	}
	delete(members, client)
	close(client.send)
	if len(members) == 0 {
		delete(h.rooms, client.Room)
	}
	return true
}
