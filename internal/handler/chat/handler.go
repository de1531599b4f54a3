package chat

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	roomHandler "github.com/zhouzirui/roomchat/internal/handler/room"
	"github.com/zhouzirui/roomchat/internal/model/chat"
	"github.com/zhouzirui/roomchat/internal/service/hub"
	"github.com/zhouzirui/roomchat/pkg/utils"
)

// Handler 房间REST接口
type Handler struct {
	hub *hub.Hub
}

// New 创建聊天处理器
func New(h *hub.Hub) *Handler {
	return &Handler{hub: h}
}

// RegisterRoutes 注册房间相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms", h.handleListRooms)
	r.Post("/rooms/{room}/messages", h.handlePostMessage)
}

// handleListRooms 列出当前有连接的房间
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"rooms": h.hub.Rooms(),
	})
}

// handlePostMessage 向房间注入一条消息
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := roomHandler.RoomName(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "room is required")
		return
	}

	var payload chat.OutboundFrame
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" {
		username = "Anonymous"
	}

	if err := h.hub.Broadcast(room, chat.InboundFrame{Username: username, Message: payload.Message}); err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
