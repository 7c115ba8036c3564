package chatroom

import (
	"sort"
	"sync"
)

// Table maps online usernames to their connection. A name appears at most
// once and only while its session is running.
type Table struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{clients: make(map[string]*Client)}
}

// Insert adds c unless its username is already online. It returns the
// number of online users after the insert.
func (t *Table) Insert(c *Client) (online int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.clients[c.username]; exists {
		return len(t.clients), false
	}
	t.clients[c.username] = c
	return len(t.clients), true
}

// Remove deletes c's entry if it is still the one registered under its
// username. It reports whether an entry was deleted; removing an absent
// or replaced entry is a no-op.
func (t *Table) Remove(c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.clients[c.username]; ok && cur == c {
		delete(t.clients, c.username)
		return true
	}
	return false
}

// Get returns the client for username.
func (t *Table) Get(username string) (*Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[username]
	return c, ok
}

// Len returns the number of online users.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Snapshot copies the current clients.
func (t *Table) Snapshot() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	clients := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	return clients
}

// Usernames lists online users in sorted order.
func (t *Table) Usernames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.clients))
	for name := range t.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
