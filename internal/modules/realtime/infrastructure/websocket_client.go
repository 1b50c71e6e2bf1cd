package infrastructure

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"toporia/internal/modules/realtime/domain"
)

// Client pairs one upgraded socket with its connection. Outbound traffic
// goes through a buffered channel drained by WritePump; inbound frames are
// decoded by ReadPump and handed to the command processor.
type Client struct {
	transport *WebSocketTransport
	ws        *websocket.Conn
	conn      *domain.Connection
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Connection returns the domain connection behind this socket.
func (c *Client) Connection() *domain.Connection {
	return c.conn
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.transport.cfg.WriteTimeout)
	payload := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, payload, deadline)
	c.close()
}

// enqueue hands data to the write pump without blocking. A full buffer
// means the client stopped draining; it gets detached instead of holding
// up the caller.
func (c *Client) enqueue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errSendBufferFull
	default:
		slog.Warn("websocket send buffer full", slog.String("connectionId", c.conn.ID))
		go c.transport.detach(c)
		return errSendBufferFull
	}
}

func (c *Client) WritePump() {
	ping := time.NewTicker(c.transport.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.transport.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("websocket write error", slog.String("connectionId", c.conn.ID), slog.Any("error", err))
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.transport.cfg.WriteTimeout)); err != nil {
				slog.Warn("websocket ping error", slog.String("connectionId", c.conn.ID), slog.Any("error", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) ReadPump() {
	cfg := c.transport.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	defer c.transport.detach(c)

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", slog.String("connectionId", c.conn.ID), slog.Any("error", err))
			}
			return
		}
		c.conn.Touch()

		msg, err := domain.DecodeMessage(raw)
		if err != nil {
			_ = c.conn.Send(domain.NewErrorMessage("malformed message"))
			continue
		}
		c.transport.commands.Process(c.conn, msg)
	}
}
