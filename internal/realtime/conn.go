package realtime

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/chatme/backend/internal/events"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

const writeTimeout = 10 * time.Second

// conn is one live WebSocket connection. Outbound events are queued on a
// bounded buffer drained by writeLoop so Push never blocks the router.
type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	codec  events.Codec

	mu     sync.Mutex
	send   chan events.Outbound
	closed bool

	registered bool
	writerDone chan struct{}
}

func newConn(id, userID string, ws *websocket.Conn, codec events.Codec, buffer int) *conn {
	return &conn{
		id:         id,
		userID:     userID,
		ws:         ws,
		codec:      codec,
		send:       make(chan events.Outbound, buffer),
		writerDone: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Push queues ev for delivery. A full buffer drops the event.
func (c *conn) Push(ev events.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *conn) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *conn) writeLoop(onError func(error)) {
	defer close(c.writerDone)

	failed := false
	for ev := range c.send {
		if failed {
			continue
		}
		if err := c.write(ev); err != nil {
			failed = true
			onError(err)
			_ = c.ws.Close()
		}
	}
}

func (c *conn) write(ev events.Outbound) error {
	frame, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if c.codec.Binary() {
		return websocket.Message.Send(c.ws, frame)
	}
	return websocket.Message.Send(c.ws, string(frame))
}
