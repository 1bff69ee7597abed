// Package wsclient is a Go client for the devpair event protocol. It
// answers heartbeats on its own and implements the bounded wait on leave
// acknowledgments.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultLeaveTimeout is how long LeaveRoom waits for the server's ack
// before giving up and proceeding.
const DefaultLeaveTimeout = 2 * time.Second

const (
	writeWait       = 10 * time.Second
	eventBufferSize = 256
)

var ErrClosed = errors.New("connection closed")

type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int            `json:"ack,omitempty"`
}

type outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int   `json:"ack,omitempty"`
}

type Client struct {
	conn      *websocket.Conn
	log       *log.Logger
	writeMu   sync.Mutex
	ackMu     sync.Mutex
	nextAck   int
	pending   map[int]chan struct{}
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a devpair /ws endpoint presenting token as a bearer
// credential.
func Dial(ctx context.Context, url, token string, logger *log.Logger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		log:     logger,
		pending: make(map[int]chan struct{}),
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Events delivers every server event except heartbeats and acks. The
// channel is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) JoinRoom(roomId string) error {
	return c.send(outgoing{Event: "join-room", Data: roomId})
}

// LeaveRoom asks the server to leave roomId and waits up to timeout for
// the ack. It reports whether the ack arrived. A missing ack is not an
// error: the caller proceeds as if the leave completed.
func (c *Client) LeaveRoom(ctx context.Context, roomId string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultLeaveTimeout
	}

	c.ackMu.Lock()
	c.nextAck++
	id := c.nextAck
	acked := make(chan struct{})
	c.pending[id] = acked
	c.ackMu.Unlock()

	defer func() {
		c.ackMu.Lock()
		delete(c.pending, id)
		c.ackMu.Unlock()
	}()

	if err := c.send(outgoing{Event: "leave-room", Data: roomId, Ack: &id}); err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-acked:
		return true, nil
	case <-timer.C:
		c.log.Printf("leave of %q not acknowledged within %s, proceeding", roomId, timeout)
		return false, nil
	case <-c.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Client) SendCode(roomId string, code any) error {
	return c.send(outgoing{
		Event: "code-change",
		Data:  map[string]any{"roomId": roomId, "code": code},
	})
}

func (c *Client) SendChat(roomId, message string) error {
	return c.send(outgoing{
		Event: "chat-message",
		Data:  map[string]string{"roomId": roomId, "message": message},
	})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *Client) send(msg outgoing) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}

	return nil
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() {
		close(c.done)
		close(c.events)
		c.conn.Close()
	})

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure, websocket.ClosePolicyViolation) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		switch ev.Event {
		case "heartbeat":
			if err := c.send(outgoing{Event: "heartbeat-response"}); err != nil {
				c.log.Println("heartbeat response:", err)
			}
		case "ack":
			if ev.Ack != nil {
				c.resolve(*ev.Ack)
			}
		default:
			select {
			case c.events <- ev:
			default:
				c.log.Printf("event buffer full, dropping %q", ev.Event)
			}
		}
	}
}

func (c *Client) resolve(id int) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	if ch, ok := c.pending[id]; ok {
		close(ch)
		delete(c.pending, id)
	}
}
