package daemon

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// conn is one WebSocket client of the daemon. Frames destined for it go
// through the send channel; a full channel drops the connection rather than
// blocking a session's read loop.
type conn struct {
	ws     *websocket.Conn
	server *Server
	send   chan []byte
	done   chan struct{}
}

func newConn(ws *websocket.Conn, server *Server) *conn {
	return &conn{
		ws:     ws,
		server: server,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// deliver implements subscriber. Never blocks.
func (c *conn) deliver(f *protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("slow daemon client, closing", "frame", f.Type)
		c.closeOnce()
	}
}

func (c *conn) closeOnce() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// run drives the read and write pumps until either side fails.
func (c *conn) run() {
	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer c.closeOnce()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("daemon client read error", "error", err)
			}
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("undecodable frame from client", "error", err)
			continue
		}
		c.server.dispatch(c, frame)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
