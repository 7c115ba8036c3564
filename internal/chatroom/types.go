package chatroom

import (
	"net"
	"sync"
	"time"

	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
	"github.com/caesarsage/chatcmd/internal/storage"
)

// Client-facing notices.
const (
	msgInvalidCommand     = "Invalid command."
	msgInvalidCredentials = "Invalid credentials."
	msgAlreadyConnected   = "User already connected."
	msgLoginOK            = "Login successful"
	msgRegisterOK         = "Registration successful"
	msgWelcome            = "Welcome! %d user(s) are online!"
	msgConnected          = "%s connected!"
	msgLeft               = "%s has left the chat"
	msgChat               = "%s: %s"
	msgLoadUsage          = `Usage: \LOAD <n>`
	msgTooLong            = "Message too long."
)

// Config tunes a Server.
type Config struct {
	// IdleTimeout ends a session that sends nothing for this long.
	IdleTimeout time.Duration
	// HandshakeTimeout bounds the wait for the CONNECT line.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds every write to a peer.
	WriteTimeout time.Duration
	// HistoryLimit caps the lines returned for one history request.
	HistoryLimit int
}

// DefaultConfig returns the production policy values.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      60 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		HistoryLimit:     100,
	}
}

// Client is one authenticated connection.
type Client struct {
	id        string
	username  string
	conn      *protocol.Conn
	log       *logger.Logger
	connected time.Time
}

// Username returns the account owning the connection.
func (c *Client) Username() string { return c.username }

// Server accepts connections, authenticates them and runs one session per
// authenticated user.
type Server struct {
	cfg   Config
	store storage.Store
	table *Table
	log   *logger.Logger

	mu        sync.Mutex
	listener  net.Listener
	pending   map[*protocol.Conn]struct{}
	wg        sync.WaitGroup
	startTime time.Time
}
