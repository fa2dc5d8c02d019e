package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makerGeek/claudiomiro/internal/hub"
	"github.com/makerGeek/claudiomiro/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10 // 64KB
	sendQueueSize  = 256
)

// errSlowConn is returned when a client's outbound queue overflows
var errSlowConn = errors.New("client too slow, outbound queue full")

// wsConn adapts a gorilla connection to hub.Conn. Frames are queued by Send
// and written by a single writer goroutine, since gorilla allows only one
// concurrent writer.
type wsConn struct {
	id  string
	ws  *websocket.Conn
	log logger.Logger

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	writerDone chan struct{}
}

func newWSConn(id string, ws *websocket.Conn, log logger.Logger) *wsConn {
	c := &wsConn{
		id:         id,
		ws:         ws,
		log:        log,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		closeCode:  websocket.CloseGoingAway,
		writerDone: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConn) ID() string { return c.id }

// Send queues data without blocking. A full queue closes the connection.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return hub.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return hub.ErrConnClosed
	default:
		c.closeWith(websocket.ClosePolicyViolation, "outbound queue full")
		return errSlowConn
	}
}

// Close flushes queued frames and closes with 1001 (going away)
func (c *wsConn) Close() error {
	c.closeWith(websocket.CloseGoingAway, "server shutting down")
	return nil
}

// release ends a connection the peer or the read loop gave up on. A close
// already started by Close or a policy violation keeps its code.
func (c *wsConn) release() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// wait blocks until the writer has flushed and closed the socket
func (c *wsConn) wait() {
	<-c.writerDone
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.log.LogTrace("write to client " + c.id + " failed: " + err.Error())
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame
func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			if c.closeCode != websocket.CloseAbnormalClosure {
				c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
			}
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}
