package chatroom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caesarsage/chatcmd/internal/protocol"
)

// errQuit ends a session after an explicit quit.
var errQuit = errors.New("client quit")

// dispatch handles one line from an authenticated client. A returned error
// other than errQuit means the connection must be removed.
func (s *Server) dispatch(ctx context.Context, c *Client, line string) error {
	req := protocol.ParseRequest(line)
	c.log.Debug().Stringer("kind", req.Kind).Msg("dispatching")
	switch req.Kind {
	case protocol.KindLoad:
		return s.handleLoad(ctx, c, req)
	case protocol.KindQuit:
		return s.handleQuit(c)
	default:
		return s.handleChat(ctx, c, req.Text)
	}
}

// handleLoad sends the requester the page of history that precedes the
// history lines it already holds. Only messages stored before the session
// began count: later ones reached the client live.
func (s *Server) handleLoad(ctx context.Context, c *Client, req protocol.Request) error {
	if err := s.send(c, protocol.CmdAck); err != nil {
		return err
	}
	if req.Err != nil {
		c.log.Debug().Err(req.Err).Msg("malformed history request")
		return s.send(c, msgLoadUsage)
	}

	amount := req.Amount
	if amount > s.cfg.HistoryLimit {
		amount = s.cfg.HistoryLimit
	}

	messages, err := s.store.GetMessages(ctx, amount, req.Held, c.connected)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf(msgChat, m.Author, m.Text))
	}
	pack, kept, err := protocol.FormatPackWithin(lines)
	if err != nil {
		return err
	}

	c.log.Debug().
		Int("requested", req.Amount).
		Int("held", req.Held).
		Int("sent", len(kept)).
		Int("trimmed", len(lines)-len(kept)).
		Msg("history sent")
	return s.send(c, pack)
}

func (s *Server) handleQuit(c *Client) error {
	if err := s.send(c, protocol.CmdAck); err != nil {
		c.log.Debug().Err(err).Msg("could not acknowledge quit")
	}
	c.log.Info().Msg("closing connection on quit")
	s.remove(c)
	return errQuit
}

// handleChat stores the message, acknowledges it and relays it to everyone
// but the sender. Text whose relayed line would not fit in a frame is
// acknowledged and refused.
func (s *Server) handleChat(ctx context.Context, c *Client, text string) error {
	if strings.TrimSpace(text) == "" {
		return s.send(c, protocol.CmdAck)
	}

	relayed := fmt.Sprintf(msgChat, c.Username(), text)
	if !protocol.Fits(relayed) {
		c.log.Warn().Int("length", len(text)).Msg("message too long, dropped")
		if err := s.send(c, protocol.CmdAck); err != nil {
			return err
		}
		return s.send(c, msgTooLong)
	}

	if err := s.store.AddMessage(ctx, c.Username(), text); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if err := s.send(c, protocol.CmdAck); err != nil {
		return err
	}

	s.broadcast(relayed, c)
	return nil
}

// send writes one line to c.
func (s *Server) send(c *Client, line string) error {
	return c.conn.SendLineTimeout(line, s.cfg.WriteTimeout)
}

// broadcast writes message to every online client except exclude, one at
// a time. Clients whose write fails are removed once the pass completes.
func (s *Server) broadcast(message string, exclude *Client) {
	clients := s.table.Snapshot()

	var inactive []*Client
	for _, c := range clients {
		if c == exclude {
			continue
		}
		if err := s.send(c, message); err != nil {
			c.log.Warn().Err(err).Msg("could not write to client")
			inactive = append(inactive, c)
		}
	}

	for _, c := range inactive {
		s.remove(c)
	}

	s.log.Debug().Int("recipients", len(clients)).Int("pruned", len(inactive)).Msg("broadcast")
}
