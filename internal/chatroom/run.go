package chatroom

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
	"github.com/caesarsage/chatcmd/internal/storage"
)

var errServerClosed = errors.New("chatroom: server closed")

// New creates a server backed by store.
func New(cfg Config, store storage.Store) *Server {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	return &Server{
		cfg:       cfg,
		store:     store,
		table:     NewTable(),
		log:       logger.New("chatroom"),
		pending:   make(map[*protocol.Conn]struct{}),
		startTime: time.Now(),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes
// every connection and waits for their sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("chat server started")

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.shutdown()
				return nil
			}

			// Back off on transient accept failures such as EMFILE.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Online lists the usernames currently connected.
func (s *Server) Online() []string {
	return s.table.Usernames()
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Server) shutdown() {
	s.log.Info().Msg("shutting down")

	s.mu.Lock()
	pending := make([]*protocol.Conn, 0, len(s.pending))
	for conn := range s.pending {
		pending = append(pending, conn)
	}
	s.pending = nil
	s.mu.Unlock()

	for _, conn := range pending {
		conn.Close()
	}
	for _, c := range s.table.Snapshot() {
		s.remove(c)
	}

	s.wg.Wait()
	s.log.Info().Msg("shutdown complete")
}

// trackPending records a connection that has not authenticated yet so
// shutdown can close it. It fails once shutdown has started.
func (s *Server) trackPending(conn *protocol.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return errServerClosed
	}
	s.pending[conn] = struct{}{}
	return nil
}

func (s *Server) untrackPending(conn *protocol.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		delete(s.pending, conn)
	}
}

// join moves an authenticated client from the pending set into the table.
func (s *Server) join(c *Client) (online int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return 0, errServerClosed
	}
	delete(s.pending, c.conn)

	online, ok := s.table.Insert(c)
	if !ok {
		return online, errAlreadyConnected
	}
	return online, nil
}

// remove closes c and deletes its table entry. It reports whether this
// call deleted the entry.
func (s *Server) remove(c *Client) bool {
	if err := c.conn.Close(); err != nil && !protocol.IsClosed(err) {
		c.log.Warn().Err(err).Msg("error closing client connection, ignoring")
	}

	if !s.table.Remove(c) {
		return false
	}
	c.log.Info().
		Int("online", s.table.Len()).
		Dur("session", time.Since(c.connected).Round(time.Second)).
		Msg("client removed")
	return true
}
