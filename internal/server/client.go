package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/devpair/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendQueueSize  = 256
)

// Client is one authenticated websocket connection.
type Client struct {
	id            string
	conn          *websocket.Conn
	hub           *Hub
	log           *log.Logger
	user          types.User
	send          chan *ServerMessage
	limiter       *rate.Limiter
	lastHeartbeat atomic.Int64
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, hub *Hub, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}

	limit := rate.Inf
	if hub.opts.RateLimit > 0 {
		limit = rate.Limit(hub.opts.RateLimit)
	}

	c := &Client{
		id:      id,
		conn:    conn,
		hub:     hub,
		log:     l,
		user:    user,
		send:    make(chan *ServerMessage, sendQueueSize),
		limiter: rate.NewLimiter(limit, hub.opts.RateBurst),
		stop:    make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixNano())

	return c
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	heartbeat := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		heartbeat.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for %s", c.id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-heartbeat.C:
			if c.heartbeatExpired(time.Now()) {
				c.log.Printf("no heartbeat response from %s, closing connection", c.id)
				return
			}

			bytes, _ := c.serializeMessage(Heartbeat())
			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.hub.Unregister(c)
		c.stopClient()
		c.log.Printf("read exiting for %s", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("error parsing message from %s: %v", c.id, err)
			continue
		}

		switch msg.Event {
		case EventHeartbeatResponse:
			c.lastHeartbeat.Store(time.Now().UnixNano())
			c.log.Printf("heartbeat response from %s", c.id)
			continue
		case EventCodeChange, EventChatMessage:
			// only relay events are limited
			if !c.limiter.Allow() {
				c.log.Printf("rate limit exceeded for %s, dropping %q", c.id, msg.Event)
				continue
			}
		}

		msg.client = c
		c.hub.dispatch(&msg)
	}
}

// heartbeatExpired reports whether eviction is enabled and the last
// heartbeat response is older than the timeout.
func (c *Client) heartbeatExpired(now time.Time) bool {
	timeout := c.hub.opts.HeartbeatTimeout
	if timeout <= 0 {
		return false
	}

	last := time.Unix(0, c.lastHeartbeat.Load())
	return now.Sub(last) > timeout
}

// queueMessage never blocks. A message for a full queue is dropped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send %q to %s, channel is full", msg.Event, c.id)
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
