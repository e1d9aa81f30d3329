package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// UserID associated with this connection
	UserID string

	// OnCommand is called from the read loop for every decoded command.
	OnCommand func(cmd dto.StreamCommand)

	// Buffered channel of outbound messages.
	send chan []byte

	mu     sync.Mutex
	closed bool
	logger logger.ILogger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, log logger.ILogger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
		logger: log,
	}
}

// Serve registers the client and pumps messages until the connection ends.
func (c *Client) Serve() {
	c.hub.add(c)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go c.writePump()
	c.readPump() // Run readPump in current goroutine (handler)
}

// Push implements the live view sink.
func (c *Client) Push(state *dto.ViewState) {
	c.SendMessage(&dto.StreamMessage{Type: dto.StreamMessageTypeState, Data: state})
}

func (c *Client) SendError(message string) {
	c.SendMessage(&dto.StreamMessage{Type: dto.StreamMessageTypeError, Data: map[string]string{"message": message}})
}

func (c *Client) SendMessage(msg *dto.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("WebSocket", "Failed to encode outbound message", map[string]interface{}{
			"user_id": c.UserID,
			"type":    msg.Type,
			"error":   err.Error(),
		})
		return
	}
	c.enqueue(data)
}

// enqueue drops a client that cannot keep up; it reconnects and gets a fresh
// state.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("WebSocket", "Client send buffer full, closing connection", map[string]interface{}{"user_id": c.UserID})
		c.closed = true
		close(c.send)
	}
}

// closeSend is idempotent.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps commands from the websocket connection to OnCommand.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket", "Unexpected close", map[string]interface{}{
					"user_id": c.UserID,
					"error":   err.Error(),
				})
			}
			break
		}

		var cmd dto.StreamCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.SendError("invalid command: " + err.Error())
			continue
		}
		if c.OnCommand != nil {
			c.OnCommand(cmd)
		}
	}
}

// writePump pumps messages from the send queue to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket", "Write failed", map[string]interface{}{
					"user_id": c.UserID,
					"error":   err.Error(),
				})
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
