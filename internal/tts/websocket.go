package tts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liuscraft/orion-speak/internal/logging"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultDialTimeout = 10 * time.Second
	defaultReadBuffer  = 256
	writeTimeout       = 5 * time.Second
)

type WebsocketTransport struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewWebsocketTransport(cfg Config) *WebsocketTransport {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = defaultReadBuffer
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.DialTimeout
	return &WebsocketTransport{cfg: cfg, dialer: &dialer}
}

func (t *WebsocketTransport) Dial(ctx context.Context, apiKey string) (Conn, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrAuth)
	}

	u, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", ErrBadRequest, err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := t.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, mapDialError(resp, err)
	}

	wc := &websocketConn{
		conn:     conn,
		incoming: make(chan Message, t.cfg.ReadBuffer),
		doneCh:   make(chan struct{}),
		closedCh: make(chan struct{}),
		id:       newSessionID(),
	}
	wc.startReceiver()
	logging.Debugf("TTSTransport: session %s connected to %s", wc.id, u.Host)
	return wc, nil
}

func mapDialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: dial rejected with %s", ErrAuth, resp.Status)
		case http.StatusBadRequest, http.StatusNotFound:
			return fmt.Errorf("%w: dial rejected with %s", ErrBadRequest, resp.Status)
		}
	}
	return fmt.Errorf("%w: dial: %v", ErrTransient, err)
}

// websocketConn pumps frames from a receiver goroutine into a buffered
// channel. A gorilla connection cannot be read again after a read deadline
// expires, so Read never touches the socket directly.
type websocketConn struct {
	conn     *websocket.Conn
	incoming chan Message
	writeMu  sync.Mutex
	doneCh   chan struct{} // receiver exited
	closedCh chan struct{} // Close called
	id       string

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (c *websocketConn) startReceiver() {
	go func() {
		defer close(c.doneCh)
		for {
			messageType, data, err := c.conn.ReadMessage()
			if err != nil {
				c.setErr(err)
				return
			}

			var msg Message
			switch messageType {
			case websocket.TextMessage:
				msg = Message{Type: TextMessage, Data: data}
			case websocket.BinaryMessage:
				msg = Message{Type: BinaryMessage, Data: data}
			default:
				continue
			}

			select {
			case c.incoming <- msg:
			case <-c.closedCh:
				return
			}
		}
	}()
}

func (c *websocketConn) Send(msg Message) error {
	select {
	case <-c.closedCh:
		return ErrClosed
	case <-c.doneCh:
		return c.closedErr()
	default:
	}

	messageType := websocket.TextMessage
	if msg.Type == BinaryMessage {
		messageType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, msg.Data); err != nil {
		return fmt.Errorf("%w: send: %v", ErrClosed, err)
	}
	return nil
}

func (c *websocketConn) Read(wait time.Duration) (Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	default:
	}

	if wait <= 0 {
		select {
		case <-c.doneCh:
			return c.drainOrClosed()
		case <-c.closedCh:
			return Message{}, ErrClosed
		default:
			return Message{}, ErrWouldBlock
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.doneCh:
		return c.drainOrClosed()
	case <-c.closedCh:
		return Message{}, ErrClosed
	case <-timer.C:
		return Message{}, ErrWouldBlock
	}
}

func (c *websocketConn) drainOrClosed() (Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	default:
		return Message{}, c.closedErr()
	}
}

func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		logging.Debugf("TTSTransport: session %s closed", c.id)
	})
	return err
}

func (c *websocketConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// closedErr always wraps ErrClosed; an abnormal close also carries the cause.
func (c *websocketConn) closedErr() error {
	c.errMu.Lock()
	err := c.err
	c.errMu.Unlock()

	if err == nil {
		return ErrClosed
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ErrClosed
		case websocket.ClosePolicyViolation:
			return fmt.Errorf("%w: %w: %s", ErrClosed, ErrAuth, ce.Text)
		case websocket.CloseInvalidFramePayloadData, websocket.CloseUnsupportedData:
			return fmt.Errorf("%w: %w: %s", ErrClosed, ErrBadRequest, ce.Text)
		}
		return fmt.Errorf("%w: code=%d %s", ErrClosed, ce.Code, ce.Text)
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

func newSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "session-unknown"
	}
	return hex.EncodeToString(buf[:])
}
