package tts

import (
	"context"
	"errors"
	"net"
	"time"
)

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one frame exchanged with the synthesis service.
type Message struct {
	Type MessageType
	Data []byte
}

// Transport opens a duplex connection to the remote synthesis service.
type Transport interface {
	Dial(ctx context.Context, apiKey string) (Conn, error)
}

// Conn is a single synthesis session.
//
// Read waits at most wait for the next message. It returns ErrWouldBlock when
// nothing arrived in time (wait == 0 is a pure poll) and ErrClosed once the
// peer has closed the session and every buffered message was consumed.
type Conn interface {
	Send(msg Message) error
	Read(wait time.Duration) (Message, error)
	Close() error
}

type Config struct {
	Endpoint    string
	DialTimeout time.Duration
	// ReadBuffer is the number of received frames held for Read.
	ReadBuffer int
}

var (
	ErrWouldBlock = errors.New("tts: no message ready")
	ErrClosed     = errors.New("tts: connection closed")

	ErrTransient  = errors.New("tts transient error")
	ErrAuth       = errors.New("tts auth error")
	ErrBadRequest = errors.New("tts bad request")
)

// IsRetryable 网络类错误和服务端临时错误可以重试；取消和鉴权错误不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrBadRequest) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
