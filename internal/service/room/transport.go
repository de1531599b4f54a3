package room

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single live room transport. ReadMessage blocks until the next
// data frame or until the transport is gone.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to a room endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Options WebSocket连接配置选项
type Options struct {
	HandshakeTimeout time.Duration // 握手超时时间
	ReadTimeout      time.Duration // 读取超时时间，0 表示不设置
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping间隔，0 表示关闭
	Header           http.Header
}

// DefaultOptions 默认连接选项
func DefaultOptions() *Options {
	return &Options{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// WebSocketDialer dials room endpoints with gorilla/websocket.
type WebSocketDialer struct {
	options *Options
}

// NewWebSocketDialer 创建WebSocket拨号器
func NewWebSocketDialer(options *Options) *WebSocketDialer {
	if options == nil {
		options = DefaultOptions()
	}
	return &WebSocketDialer{options: options}
}

// Dial 建立单次连接，不做重试
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.options.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, d.options.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{
		conn:    conn,
		options: d.options,
		done:    make(chan struct{}),
	}
	c.extendReadDeadline()

	// 设置pong处理器
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if d.options.PingInterval > 0 {
		go c.pingLoop()
	}

	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	options   *Options
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.extendReadDeadline()
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.options.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the socket. Safe to call
// more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) extendReadDeadline() {
	if c.options.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	}
}

// pingLoop 定期发送ping消息，写失败时交给读循环感知断开
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			var deadline time.Time
			if c.options.WriteTimeout > 0 {
				deadline = time.Now().Add(c.options.WriteTimeout)
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
