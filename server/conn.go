package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/dispatcher"
)

const (
	writeWait        = 10 * time.Second
	defaultKeepAlive = 60 * time.Second
	maxFrameSize     = 64 * 1024
	sendQueueDepth   = 64
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// wsConn adapts a websocket to presence.Conn. Send only enqueues; a single
// write goroutine owns the socket's write side.
type wsConn struct {
	ws       *websocket.Conn
	userID   string
	send     chan core.Event
	done     chan struct{}
	once     sync.Once
	onDrop   func()
	pongWait time.Duration
}

// newWSConn creates a connection that is dropped when no frame or pong
// arrives within keepAlive. Pings go out at nine tenths of that.
func newWSConn(keepAlive time.Duration, onDrop func()) *wsConn {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &wsConn{
		send:     make(chan core.Event, sendQueueDepth),
		done:     make(chan struct{}),
		onDrop:   onDrop,
		pongWait: keepAlive,
	}
}

func (c *wsConn) pingPeriod() time.Duration {
	return c.pongWait * 9 / 10
}

// Send queues ev without blocking.
func (c *wsConn) Send(ev core.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
		return errQueueFull
	}
}

// close stops the write pump, which closes the socket.
func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains the send queue and keeps the connection alive with pings.
// Frames still queued when the connection closes are flushed before the close
// frame.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			if !c.write(ev) {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) write(ev core.Event) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(ev); err != nil {
		log.Printf("[SERVER] Write to user=%s failed: %v", c.userID, err)
		c.close()
		return false
	}
	return true
}

// flush writes whatever is buffered without waiting for more.
func (c *wsConn) flush() {
	for {
		select {
		case ev := <-c.send:
			if !c.write(ev) {
				return
			}
		default:
			return
		}
	}
}

// readPump feeds inbound frames to handle one at a time until the socket
// fails or closes. Pongs are only read between frames, so the keepalive
// window restarts after each handled frame.
func (c *wsConn) readPump(handle func(core.Inbound)) {
	c.ws.SetReadLimit(maxFrameSize)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] Read from user=%s failed: %v", c.userID, err)
			}
			return
		}

		var in core.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.Send(core.NewErrorEvent(dispatcher.ReasonInvalidPayload))
			continue
		}
		handle(in)
		c.extendDeadline()
	}
}

func (c *wsConn) extendDeadline() {
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
}
