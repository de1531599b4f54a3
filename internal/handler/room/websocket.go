package room

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/roomchat/internal/config"
	"github.com/zhouzirui/roomchat/internal/model/chat"
	"github.com/zhouzirui/roomchat/internal/service/bot"
	"github.com/zhouzirui/roomchat/internal/service/hub"
	"github.com/zhouzirui/roomchat/pkg/utils"
)

const (
	defaultUsername = "Anonymous"
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	maxFrameBytes   = 16 << 10
)

// Handler 房间WebSocket处理器
type Handler struct {
	hub      *hub.Hub
	bot      *bot.Bot
	cfg      config.RoomConfig
	upgrader websocket.Upgrader
}

// New 创建房间处理器，bot 可以为空
func New(h *hub.Hub, b *bot.Bot, cfg config.RoomConfig) *Handler {
	return &Handler{
		hub: h,
		bot: b,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册房间WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/{room}/", h.handleWebSocket)
	r.Get("/chat/{room}", h.handleWebSocket)
}

type inboundMessage struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// RoomName 取出路由中的房间名，兼容被转义的路径
func RoomName(r *http.Request) (string, bool) {
	room := chi.URLParam(r, "room")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(room)
		if err != nil {
			return "", false
		}
		room = unescaped
	}
	if strings.TrimSpace(room) == "" {
		return "", false
	}
	return room, true
}

// handleWebSocket 处理房间连接：广播每条消息，并按需让机器人回复
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room, ok := RoomName(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "room is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := hub.NewClient(room, h.cfg.SendBuffer)
	if err := h.hub.Register(client); err != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		return
	}
	log.Printf("[websocket] new connection for room: %s", room)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client)
	}()

	h.greet(room)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.readLoop(ctx, conn, room)

	h.hub.Unregister(client)
	<-writerDone
}

// greet posts the configured greeting, falling back to the bot's
// registration prompt when a bot is attached.
func (h *Handler) greet(room string) {
	greeting := h.cfg.Greeting
	if greeting == "" && h.bot != nil {
		greeting = bot.DefaultGreeting
	}
	if greeting == "" {
		return
	}
	if err := h.hub.Broadcast(room, chat.InboundFrame{Username: h.botName(), Message: greeting}); err != nil {
		log.Printf("[websocket] greeting failed for room %s: %v", room, err)
		return
	}
	if h.bot != nil {
		h.bot.Greet(room, greeting)
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, room string) {
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[websocket] ignoring malformed frame in room %s: %v", room, err)
			continue
		}
		h.handleMessage(ctx, room, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, room string, msg inboundMessage) {
	username := strings.TrimSpace(msg.Username)
	if username == "" {
		username = defaultUsername
	}

	if err := h.hub.Broadcast(room, chat.InboundFrame{Username: username, Message: msg.Message}); err != nil {
		log.Printf("[websocket] broadcast failed for room %s: %v", room, err)
		return
	}
	log.Printf("[websocket] %s@%s: %s", username, room, utils.Truncate(msg.Message, 40, "..."))

	if h.bot == nil {
		return
	}
	reply := h.bot.Respond(ctx, room, username, msg.Message)
	if err := h.hub.Broadcast(room, chat.InboundFrame{Username: h.bot.Name(), Message: reply}); err != nil {
		log.Printf("[websocket] bot reply failed for room %s: %v", room, err)
	}
}

// writeLoop 把房间广播写回客户端，队列关闭后发送关闭帧
func (h *Handler) writeLoop(conn *websocket.Conn, client *hub.Client) {
	for data := range client.Send() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[websocket] write failed for client %s: %v", client.ID, err)
			conn.Close()
			for range client.Send() {
			}
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Handler) botName() string {
	if h.bot != nil {
		return h.bot.Name()
	}
	if h.cfg.BotName != "" {
		return h.cfg.BotName
	}
	return "Bot"
}
