package chatroom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/caesarsage/chatcmd/internal/credentials"
	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
	"github.com/caesarsage/chatcmd/internal/storage"
)

var (
	errBadCredentials   = errors.New("bad credentials")
	errAlreadyConnected = errors.New("user already connected")
)

// handleConn runs one TCP connection from handshake to removal.
func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer s.wg.Done()

	conn := protocol.NewConn(raw)
	log := s.log.With("remote", conn.RemoteAddr().String())

	var client *Client
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic in connection handler")
			if client != nil {
				s.remove(client)
			} else {
				conn.Close()
			}
		}
	}()

	if err := s.trackPending(conn); err != nil {
		conn.Close()
		return
	}
	log.Debug().Stringer("conn", conn).Msg("connection accepted")

	client, err := s.authenticate(ctx, conn, log)
	if err != nil {
		s.untrackPending(conn)
		conn.Close()
		return
	}

	s.serveClient(ctx, client)
}

// authenticate reads the CONNECT line, logs the user in or registers them,
// and inserts the client into the table.
func (s *Server) authenticate(ctx context.Context, conn *protocol.Conn, log *logger.Logger) (*Client, error) {
	line, err := conn.ReceiveLineTimeout(s.cfg.HandshakeTimeout)
	if err != nil {
		log.Debug().Err(err).Msg("no handshake received")
		return nil, err
	}

	username, password, err := protocol.ParseConnect(line)
	if err != nil {
		s.reject(conn, log, msgInvalidCommand, "got invalid command from client, disconnecting")
		return nil, err
	}
	log = log.With("user", username)

	var notice string
	_, err = s.store.GetUserByName(ctx, username)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		err = s.register(ctx, username, password)
		notice = msgRegisterOK
	case err != nil:
		log.Error().Err(err).Msg("user lookup failed")
		return nil, err
	default:
		err = s.login(ctx, username, password)
		notice = msgLoginOK
	}
	if errors.Is(err, errBadCredentials) {
		s.reject(conn, log, msgInvalidCredentials, "client authentication failed, disconnecting")
		return nil, err
	}
	if err != nil {
		log.Error().Err(err).Msg("authentication failed on storage error")
		return nil, err
	}

	if _, online := s.table.Get(username); online {
		s.reject(conn, log, msgAlreadyConnected, "user already online, disconnecting")
		return nil, errAlreadyConnected
	}

	client := &Client{
		id:       uuid.NewString(),
		username: username,
		conn:     conn,
	}
	client.log = log.With("session", client.id)

	// Greet before joining: no broadcast may reach the client first.
	if err := s.send(client, notice); err != nil {
		return nil, err
	}
	if err := s.send(client, fmt.Sprintf(msgWelcome, s.table.Len()+1)); err != nil {
		return nil, err
	}

	client.connected = time.Now()
	online, err := s.join(client)
	if errors.Is(err, errAlreadyConnected) {
		s.reject(conn, log, msgAlreadyConnected, "user already online, disconnecting")
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	client.log.Info().Int("online", online).Msg("client joined")

	s.broadcast(fmt.Sprintf(msgConnected, username), nil)
	return client, nil
}

func (s *Server) register(ctx context.Context, username, password string) error {
	if credentials.ValidateUsername(username) != nil || credentials.ValidatePassword(password) != nil {
		return errBadCredentials
	}
	err := s.store.AddUser(ctx, username, password)
	if errors.Is(err, storage.ErrUserExists) {
		// Lost a registration race; the password was never checked.
		return errBadCredentials
	}
	return err
}

func (s *Server) login(ctx context.Context, username, password string) error {
	ok, err := s.store.LoginUser(ctx, username, password)
	if err != nil {
		return err
	}
	if !ok {
		return errBadCredentials
	}
	return nil
}

// reject tells the peer why it is being dropped; the caller closes conn.
func (s *Server) reject(conn *protocol.Conn, log *logger.Logger, clientMessage, serverMessage string) {
	log.Warn().Msg(serverMessage)
	if err := conn.SendLineTimeout(clientMessage, s.cfg.WriteTimeout); err != nil {
		log.Debug().Err(err).Msg("could not deliver rejection")
	}
}

// serveClient reads lines until the client quits, disconnects, idles out
// or fails.
func (s *Server) serveClient(ctx context.Context, c *Client) {
	for {
		line, err := c.conn.ReceiveLineTimeout(s.cfg.IdleTimeout)
		if err != nil {
			s.endSession(c, err)
			return
		}

		if err := s.dispatch(ctx, c, line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			c.log.Error().Err(err).Msg("error handling client message, disconnecting")
			s.remove(c)
			return
		}
	}
}

func (s *Server) endSession(c *Client, err error) {
	switch {
	case errors.Is(err, io.EOF):
		if s.remove(c) {
			s.broadcast(fmt.Sprintf(msgLeft, c.username), nil)
		}
	case protocol.IsTimeout(err):
		c.log.Info().Dur("idle", s.cfg.IdleTimeout).Msg("client timed out")
		s.remove(c)
	case protocol.IsClosed(err):
		// Closed locally by quit, pruning or shutdown.
		s.remove(c)
	default:
		c.log.Error().Err(err).Msg("error reading from client")
		s.remove(c)
	}
}
