package server

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/npezzotti/devpair/internal/stats"
	"github.com/npezzotti/devpair/internal/types"
)

// Options tunes per-connection behavior of clients attached to a Hub.
type Options struct {
	HeartbeatInterval time.Duration
	// HeartbeatTimeout closes connections that have not answered a
	// heartbeat within the duration. Zero disables eviction.
	HeartbeatTimeout time.Duration
	RateLimit        float64
	RateBurst        int
}

type stopReq struct {
	done chan struct{}
}

// Hub owns room membership. Every mutation happens on the goroutine
// running Run, so each join, leave, disconnect or relay is applied
// atomically and broadcasts for a room are enqueued in order.
type Hub struct {
	log            *log.Logger
	stats          stats.StatsProvider
	opts           Options
	clients        map[*Client]struct{}
	rooms          map[string]*room
	connRooms      map[*Client]map[string]struct{}
	registerChan   chan *Client
	unregisterChan chan *Client
	msgChan        chan *ClientMessage
	stop           chan stopReq
	done           chan struct{}
	now            func() time.Time
}

func NewHub(logger *log.Logger, su stats.StatsProvider, opts Options) *Hub {
	for _, m := range []string{
		stats.ActiveConnections,
		stats.ActiveRooms,
		stats.PresenceBroadcasts,
		stats.DepartureEvents,
		stats.RelayedMessages,
	} {
		su.RegisterMetric(m)
	}

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	return &Hub{
		log:            logger,
		stats:          su,
		opts:           opts,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*room),
		connRooms:      make(map[*Client]map[string]struct{}),
		registerChan:   make(chan *Client),
		unregisterChan: make(chan *Client, 64),
		msgChan:        make(chan *ClientMessage, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		now:            time.Now,
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case c := <-h.registerChan:
			h.handleRegister(c)
		case c := <-h.unregisterChan:
			h.handleDisconnect(c)
		case msg := <-h.msgChan:
			h.handleMessage(msg)
		case req := <-h.stop:
			h.log.Println("shutting down hub")
			for c := range h.clients {
				c.stopClient()
			}
			clear(h.clients)
			clear(h.rooms)
			clear(h.connRooms)
			close(req.done)
			return
		}
	}
}

// Shutdown stops every client and the hub loop. It returns ctx.Err() if
// the hub has not stopped before ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case h.stop <- req:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register attaches c to the hub. It returns false if the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.registerChan <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregisterChan <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(msg *ClientMessage) {
	select {
	case h.msgChan <- msg:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.log.Printf("adding connection %s from %q", c.id, c.user.Username)
	h.clients[c] = struct{}{}
	h.stats.Incr(stats.ActiveConnections)
}

// handleDisconnect removes c from every room it joined. A second call for
// the same connection finds nothing to do.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; ok {
		h.log.Printf("removing connection %s from %q", c.id, c.user.Username)
		delete(h.clients, c)
		h.stats.Decr(stats.ActiveConnections)
	}

	joined := h.connRooms[c]
	if len(joined) == 0 {
		return
	}

	roomIds := make([]string, 0, len(joined))
	for id := range joined {
		roomIds = append(roomIds, id)
	}
	sort.Strings(roomIds)

	for _, id := range roomIds {
		if r, ok := h.rooms[id]; ok {
			h.removeFromRoom(c, r)
		}
	}
	delete(h.connRooms, c)
}

func (h *Hub) handleMessage(msg *ClientMessage) {
	c := msg.client

	// a frame still queued when its connection was removed
	if _, ok := h.clients[c]; !ok {
		h.log.Printf("dropping %q from removed connection %s", msg.Event, c.id)
		return
	}

	switch msg.Event {
	case EventJoinRoom:
		roomId, err := parseRoomId(msg.Data)
		if err != nil {
			h.log.Printf("join from %s ignored: %v", c.id, err)
			return
		}
		h.join(c, roomId)
	case EventLeaveRoom:
		roomId, err := parseRoomId(msg.Data)
		if err != nil {
			h.log.Printf("leave from %s ignored: %v", c.id, err)
			return
		}
		h.leave(c, roomId, msg.Ack)
	case EventCodeChange:
		var cc CodeChange
		if err := json.Unmarshal(msg.Data, &cc); err != nil {
			h.log.Printf("invalid code-change from %s: %v", c.id, err)
			return
		}
		h.relayCodeChange(c, cc)
	case EventChatMessage:
		var in ChatInput
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			h.log.Printf("invalid chat-message from %s: %v", c.id, err)
			return
		}
		h.relayChatMessage(c, in)
	default:
		h.log.Printf("unknown event %q from %s", msg.Event, c.id)
	}
}

func (h *Hub) join(c *Client, roomId string) {
	r, ok := h.rooms[roomId]
	if !ok {
		r = newRoom(roomId)
		h.rooms[roomId] = r
		h.stats.Incr(stats.ActiveRooms)
	}

	r.add(c)
	h.trackRoom(c, roomId)

	h.log.Printf("%q joined room %q", c.user.Username, roomId)
	h.broadcastPresence(r)
}

// leave applies an explicit leave and acks it once the state change is
// done. A leave for a room the user is not in is acked without changes.
func (h *Hub) leave(c *Client, roomId string, ack *int) {
	if r, ok := h.rooms[roomId]; ok && r.users[c.user.Id] != nil {
		h.removeFromRoom(c, r)
		h.log.Printf("%q left room %q", c.user.Username, roomId)
	}

	if ack != nil {
		c.queueMessage(Ack(*ack))
	}
}

// removeFromRoom drops c from r. The user-left event fires only when the
// user's last connection in the room goes away, and peers always get it
// before the updated snapshot, for leaves and disconnects alike.
func (h *Hub) removeFromRoom(c *Client, r *room) {
	if entry := r.users[c.user.Id]; entry != nil && entry.release(c) == 0 {
		delete(r.users, c.user.Id)
		r.broadcast(UserLeftRoom(types.LeaveEvent{
			UserId:   c.user.Id,
			Username: c.user.Username,
			LeftAt:   types.UnixMilli(h.now()),
		}, c))
		h.stats.Incr(stats.DepartureEvents)
	}

	delete(r.clients, c)
	h.untrackRoom(c, r.id)
	h.broadcastPresence(r)

	if r.empty() {
		h.log.Printf("removing empty room %q", r.id)
		delete(h.rooms, r.id)
		h.stats.Decr(stats.ActiveRooms)
	}
}

func (h *Hub) broadcastPresence(r *room) {
	r.broadcast(RoomUsers(r.snapshot()))
	h.stats.Incr(stats.PresenceBroadcasts)
}

func (h *Hub) relayCodeChange(c *Client, cc CodeChange) {
	r := h.memberRoom(c, cc.RoomId)
	if r == nil {
		return
	}

	r.broadcast(CodeUpdate(cc.Code, c))
	h.stats.Incr(stats.RelayedMessages)
}

func (h *Hub) relayChatMessage(c *Client, in ChatInput) {
	if in.Message == "" {
		return
	}

	r := h.memberRoom(c, in.RoomId)
	if r == nil {
		return
	}

	r.broadcast(ChatRelay(types.ChatMessage{
		Message: in.Message,
		From:    c.user.Username,
		Ts:      types.UnixMilli(h.now()),
	}, c))
	h.stats.Incr(stats.RelayedMessages)
}

// memberRoom returns the room only if c is subscribed to it.
func (h *Hub) memberRoom(c *Client, roomId string) *room {
	roomId = strings.TrimSpace(roomId)
	if roomId == "" {
		return nil
	}

	r, ok := h.rooms[roomId]
	if !ok || !r.has(c) {
		h.log.Printf("dropping event from %s: not a member of %q", c.id, roomId)
		return nil
	}

	return r
}

func (h *Hub) trackRoom(c *Client, roomId string) {
	if h.connRooms[c] == nil {
		h.connRooms[c] = make(map[string]struct{})
	}
	h.connRooms[c][roomId] = struct{}{}
}

func (h *Hub) untrackRoom(c *Client, roomId string) {
	if joined, ok := h.connRooms[c]; ok {
		delete(joined, roomId)
		if len(joined) == 0 {
			delete(h.connRooms, c)
		}
	}
}
