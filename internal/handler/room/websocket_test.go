package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/roomchat/internal/config"
	"github.com/zhouzirui/roomchat/internal/model/chat"
	"github.com/zhouzirui/roomchat/internal/service/bot"
	"github.com/zhouzirui/roomchat/internal/service/hub"
)

// extractingResponder reads "<name> <balance>" messages as registrations.
type extractingResponder struct {
	err error
}

func (e extractingResponder) Reply(_ context.Context, _ string, _ []bot.Turn, query string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return `{"action":"UNKNOWN"}`, nil
	}
	name := strings.Join(fields[:len(fields)-1], " ")
	return fmt.Sprintf(`{"user_name":%q,"action":"REGISTER","amount":%q}`, name, fields[len(fields)-1]), nil
}

func startServer(t *testing.T, b *bot.Bot, cfg config.RoomConfig) (*hub.Hub, string) {
	t.Helper()
	h := hub.NewHub()
	r := chi.NewRouter()
	New(h, b, cfg).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		total := 0
		for _, info := range h.Rooms() {
			total += info.Clients
		}
		if total == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d registered clients, got %d", want, total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.InboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame chat.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return frame
}

func TestBroadcastsToEveryClientInRoom(t *testing.T) {
	h, base := startServer(t, nil, config.RoomConfig{SendBuffer: 8})
	alice := dial(t, base+"/chat/general/")
	bob := dial(t, base+"/chat/general")
	other := dial(t, base+"/chat/other/")
	waitClients(t, h, 3)

	if err := alice.WriteJSON(map[string]string{"message": "hi all", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		if frame.Username != "alice" || frame.Message != "hi all" {
			t.Fatalf("unexpected frame %+v", frame)
		}
	}

	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("message leaked into another room")
	}
}

func TestDefaultsUsernameAndSkipsMalformedFrames(t *testing.T) {
	_, base := startServer(t, nil, config.RoomConfig{SendBuffer: 8})
	conn := dial(t, base+"/chat/general/")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"message": "who am i"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Username != defaultUsername || frame.Message != "who am i" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestGreetingAndBotReplies(t *testing.T) {
	b := bot.New("Helper", extractingResponder{}, nil, 4)
	_, base := startServer(t, b, config.RoomConfig{SendBuffer: 8, Greeting: "welcome"})
	conn := dial(t, base+"/chat/general/")

	greeting := readFrame(t, conn)
	if greeting.Username != "Helper" || greeting.Message != "welcome" {
		t.Fatalf("unexpected greeting %+v", greeting)
	}

	if err := conn.WriteJSON(map[string]string{"message": "Alice Smith 100", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame.Username != "alice" {
		t.Fatalf("expected user echo first, got %+v", frame)
	}
	reply := readFrame(t, conn)
	if reply.Username != "Helper" || !strings.HasPrefix(reply.Message, "Successfully registered user Alice Smith with IBAN: GR") {
		t.Fatalf("unexpected bot reply %+v", reply)
	}
	if _, ok := b.Registry().Lookup("Alice Smith"); !ok {
		t.Fatal("expected account registered")
	}
	if len(b.History("general")) != 3 {
		t.Fatalf("expected greeting plus one exchange in history, got %+v", b.History("general"))
	}

	if err := conn.WriteJSON(map[string]string{"message": "balance", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn)
	if reply := readFrame(t, conn); reply.Message != "I couldn't process that request" {
		t.Fatalf("unexpected fallback reply %+v", reply)
	}
}

func TestBotDefaultGreeting(t *testing.T) {
	b := bot.New("Helper", extractingResponder{}, nil, 4)
	_, base := startServer(t, b, config.RoomConfig{SendBuffer: 8})
	conn := dial(t, base+"/chat/general/")

	greeting := readFrame(t, conn)
	if greeting.Username != "Helper" || greeting.Message != bot.DefaultGreeting {
		t.Fatalf("unexpected greeting %+v", greeting)
	}
}

func TestBotFailureIsPostedToRoom(t *testing.T) {
	b := bot.New("Helper", extractingResponder{err: errors.New("model offline")}, nil, 4)
	_, base := startServer(t, b, config.RoomConfig{SendBuffer: 8})
	conn := dial(t, base+"/chat/general/")
	readFrame(t, conn)

	if err := conn.WriteJSON(map[string]string{"message": "ping", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn)
	reply := readFrame(t, conn)
	if reply.Message != "Error processing request: model offline" {
		t.Fatalf("unexpected failure reply %+v", reply)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h, base := startServer(t, nil, config.RoomConfig{SendBuffer: 8})
	conn := dial(t, base+"/chat/general/")

	waitClients(t, h, 1)
	h.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
