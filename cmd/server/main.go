package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/roomchat/internal/config"
	"github.com/zhouzirui/roomchat/internal/handler"
	"github.com/zhouzirui/roomchat/internal/service/bot"
	"github.com/zhouzirui/roomchat/internal/service/hub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	roomHub := hub.NewHub()
	defer roomHub.Close()

	// Initialize the room bot
	var roomBot *bot.Bot
	if cfg.AI.Enabled() {
		responder, err := bot.NewLLMResponder(ctx, cfg.AI, bot.DefaultSystemPrompt)
		if err != nil {
			log.Printf("warning: failed to initialize room bot: %v", err)
			log.Println("continuing without bot replies - 请检查 Ark 模型相关环境变量")
		} else {
			roomBot = bot.New(cfg.Room.BotName, responder, bot.NewRegistry(), cfg.Room.HistoryLimit)
			log.Printf("room bot %q initialized successfully", roomBot.Name())
		}
	} else {
		log.Println("Ark 凭证未配置，房间机器人已禁用")
	}

	router := handler.NewRouter(roomHub, roomBot, cfg.Room)

	startServer(ctx, cfg.Server, router, roomHub)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, roomHub *hub.Hub) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// hijacked websocket connections are not tracked by Shutdown
	srv.RegisterOnShutdown(roomHub.Close)

	log.Printf("room chat server listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
