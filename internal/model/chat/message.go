package chat

import "time"

// TimestampLayout renders receipt instants with fixed millisecond precision so
// that lexicographic order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a single chat line held by the client-side store.
type Message struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Content   string         `json:"content"`
	Room      string         `json:"room"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InboundFrame is the payload the server pushes for every room message.
type InboundFrame struct {
	ID        string         `json:"id,omitempty"`
	Username  string         `json:"username"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OutboundFrame is what a client writes to the room socket. Nothing else is
// forwarded to the server.
type OutboundFrame struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// FormatTimestamp converts t into the store's sort-key representation.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
