package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/roomchat/internal/config"
	"github.com/zhouzirui/roomchat/internal/handler/chat"
	"github.com/zhouzirui/roomchat/internal/handler/room"
	"github.com/zhouzirui/roomchat/internal/handler/stream"
	"github.com/zhouzirui/roomchat/internal/service/bot"
	"github.com/zhouzirui/roomchat/internal/service/hub"
	"github.com/zhouzirui/roomchat/pkg/utils"
)

// NewRouter wires HTTP routes to core services. roomBot may be nil.
func NewRouter(roomHub *hub.Hub, roomBot *bot.Bot, cfg config.RoomConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Room sockets live at the root: /chat/{room}/
	room.New(roomHub, roomBot, cfg).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		chat.New(roomHub).RegisterRoutes(api)
		stream.New(roomHub, cfg.SendBuffer, 0).RegisterRoutes(api)
	})

	return r
}
