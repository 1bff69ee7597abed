package server

import (
	"sort"

	"github.com/npezzotti/devpair/internal/types"
)

// presenceEntry tracks one user's live connections in a room. An entry
// exists only while conns is non-empty.
type presenceEntry struct {
	user  types.User
	conns map[*Client]struct{}
}

func (e *presenceEntry) acquire(c *Client) {
	e.conns[c] = struct{}{}
}

// release drops c and returns how many connections the user still holds.
func (e *presenceEntry) release(c *Client) int {
	delete(e.conns, c)
	return len(e.conns)
}

// room is owned by the Hub goroutine and is never touched elsewhere.
type room struct {
	id string
	// clients is the broadcast set
	clients map[*Client]struct{}
	users   map[string]*presenceEntry
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		clients: make(map[*Client]struct{}),
		users:   make(map[string]*presenceEntry),
	}
}

func (r *room) add(c *Client) {
	entry, ok := r.users[c.user.Id]
	if !ok {
		entry = &presenceEntry{
			user:  c.user,
			conns: make(map[*Client]struct{}),
		}
		r.users[c.user.Id] = entry
	}

	entry.acquire(c)
	r.clients[c] = struct{}{}
}

func (r *room) has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

func (r *room) empty() bool {
	return len(r.users) == 0
}

// snapshot lists the users present in the room ordered by username then id.
func (r *room) snapshot() []types.PresenceUser {
	users := make([]types.PresenceUser, 0, len(r.users))
	for _, entry := range r.users {
		users = append(users, types.PresenceUser{
			UserId:   entry.user.Id,
			Username: entry.user.Username,
		})
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserId < users[j].UserId
	})

	return users
}

func (r *room) broadcast(msg *ServerMessage) {
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
