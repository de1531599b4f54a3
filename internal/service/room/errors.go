package room

import (
	"errors"
	"io"
	"log"
	"net"

	"github.com/gorilla/websocket"
)

var (
	ErrRoomRequired   = errors.New("room name is required")
	ErrTransportOpen  = errors.New("room transport failed to open")
	ErrMalformedFrame = errors.New("malformed room frame")
	ErrNotConnected   = errors.New("room is not connected")
	ErrTransport      = errors.New("room transport error")
)

// ErrorHandler routes non-fatal room errors to observers. None of them change
// connection state on their own.
type ErrorHandler struct {
	onConnectionError func(room string, err error)
	onMessageError    func(room string, err error)
	onProtocolError   func(room string, err error)
}

// NewErrorHandler 创建默认写日志的错误处理器
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		onConnectionError: func(room string, err error) {
			log.Printf("[room] connection error for room %s: %v", room, err)
		},
		onMessageError: func(room string, err error) {
			log.Printf("[room] dropped frame for room %s: %v", room, err)
		},
		onProtocolError: func(room string, err error) {
			log.Printf("[room] transport error for room %s: %v", room, err)
		},
	}
}

// SetConnectionErrorHandler 设置连接错误处理器
func (eh *ErrorHandler) SetConnectionErrorHandler(handler func(room string, err error)) {
	eh.onConnectionError = handler
}

// SetMessageErrorHandler 设置消息错误处理器
func (eh *ErrorHandler) SetMessageErrorHandler(handler func(room string, err error)) {
	eh.onMessageError = handler
}

// SetProtocolErrorHandler 设置协议错误处理器
func (eh *ErrorHandler) SetProtocolErrorHandler(handler func(room string, err error)) {
	eh.onProtocolError = handler
}

// HandleConnectionError reports ErrTransportOpen conditions.
func (eh *ErrorHandler) HandleConnectionError(room string, err error) {
	if eh.onConnectionError != nil {
		eh.onConnectionError(room, err)
	}
}

// HandleMessageError reports ErrMalformedFrame conditions.
func (eh *ErrorHandler) HandleMessageError(room string, err error) {
	if eh.onMessageError != nil {
		eh.onMessageError(room, err)
	}
}

// HandleProtocolError reports ErrTransport conditions.
func (eh *ErrorHandler) HandleProtocolError(room string, err error) {
	if eh.onProtocolError != nil {
		eh.onProtocolError(room, err)
	}
}

// isNormalClose 判断是否为正常关闭，正常关闭不需要上报
func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
