package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/roomchat/internal/config"
	"github.com/zhouzirui/roomchat/internal/model/chat"
	chatservice "github.com/zhouzirui/roomchat/internal/service/chat"
	"github.com/zhouzirui/roomchat/internal/service/room"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	baseURL := flag.String("url", cfg.Client.WSURL, "房间服务 WebSocket 地址")
	roomName := flag.String("room", cfg.Client.Room, "要探测的房间")
	username := flag.String("user", "", "发送者名称，留空则自动生成")
	text := flag.String("text", "", "探测消息内容，留空则自动生成")
	timeout := flag.Duration("timeout", 15*time.Second, "探测超时时间")

	flag.Parse()

	probeID := uuid.NewString()
	if *username == "" {
		*username = "probe-" + probeID[:8]
	}
	if *text == "" {
		*text = "probe " + probeID
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := probe(ctx, cfg.Client, *baseURL, *roomName, *username, *text); err != nil {
		log.Fatalf("探测失败: %v", err)
	}
}

func probe(ctx context.Context, clientCfg config.ClientConfig, baseURL, roomName, username, text string) error {
	opts := &room.Options{
		HandshakeTimeout: clientCfg.HandshakeTimeout,
		ReadTimeout:      clientCfg.ReadTimeout,
		WriteTimeout:     clientCfg.WriteTimeout,
		PingInterval:     clientCfg.PingInterval,
	}

	store := chatservice.NewStore()
	manager := room.NewManager(baseURL, room.NewWebSocketDialer(opts), store)
	defer manager.Close()

	statuses := make(chan room.Status, 8)
	cancelStatus := manager.OnStatus(func(status room.Status) {
		select {
		case statuses <- status:
		default:
		}
	})
	defer cancelStatus()

	echoed := make(chan chat.Message, 1)
	cancelStore := store.OnChange(func() {
		for msg := range store.AllSorted() {
			if msg.Username == username && msg.Content == text {
				select {
				case echoed <- msg:
				default:
				}
				return
			}
		}
	})
	defer cancelStore()

	started := time.Now()
	log.Printf("开始探测: room=%s endpoint=%s user=%s", roomName, room.Endpoint(baseURL, roomName), username)
	if err := manager.Join(ctx, roomName); err != nil {
		return err
	}

	if err := waitOpen(ctx, statuses); err != nil {
		return err
	}
	connected := time.Now()
	log.Printf("连接建立耗时: %s", connected.Sub(started))

	if err := manager.Send(ctx, text, username, nil); err != nil {
		return err
	}

	select {
	case msg := <-echoed:
		log.Printf("收到回显: id=%s timestamp=%s", msg.ID, msg.Timestamp)
		log.Printf("往返耗时: %s", time.Since(connected))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitOpen(ctx context.Context, statuses <-chan room.Status) error {
	for {
		select {
		case status := <-statuses:
			switch status.State {
			case room.Open:
				return nil
			case room.Failed:
				return room.ErrTransportOpen
			case room.Closed:
				return room.ErrNotConnected
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
