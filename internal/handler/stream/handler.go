package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	roomHandler "github.com/zhouzirui/roomchat/internal/handler/room"
	"github.com/zhouzirui/roomchat/internal/service/hub"
	"github.com/zhouzirui/roomchat/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler streams room broadcasts via Server-Sent Events
type Handler struct {
	hub       *hub.Hub
	buffer    int
	heartbeat time.Duration
}

// New creates a new stream handler. heartbeat <= 0 selects the default interval.
func New(h *hub.Hub, buffer int, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{hub: h, buffer: buffer, heartbeat: heartbeat}
}

// RegisterRoutes mounts the event stream endpoint
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms/{room}/events", h.handleEvents)
}

// StatusEvent is sent once when the stream is established
type StatusEvent struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	room, ok := roomHandler.RoomName(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "room is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	client := hub.NewClient(room, h.buffer)
	if err := h.hub.Register(client); err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer h.hub.Unregister(client)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening event stream for room=%s client=%s", room, client.ID)

	if err := utils.SendSSEEvent(w, flusher, "status", StatusEvent{Room: room, Message: "stream established"}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for room=%s client=%s", room, client.ID)
			return
		case data, open := <-client.Send():
			if !open {
				log.Printf("[sse] hub released client %s", client.ID)
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "message", json.RawMessage(data)); err != nil {
				log.Printf("[sse] write failed for room=%s: %v", room, err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}
