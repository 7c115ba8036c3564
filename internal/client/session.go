package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
)

const (
	promptUsername = "Enter username: "
	promptPassword = "Enter password: "
	passwordMask   = '*'
)

// Options configures a Session.
type Options struct {
	Policy Policy
	Screen Screen
	Input  io.Reader
	// CancelInput unblocks a pending read on Input.
	CancelInput func()
	Dial        func(ctx context.Context) (net.Conn, error)
	Log         *logger.Logger
}

// Session is one login to a chat server.
type Session struct {
	opts Options
	log  *logger.Logger
}

// NewSession returns a Session; opts.Screen, opts.Input and opts.Dial are
// required.
func NewSession(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Session{opts: opts, log: log}
}

// DialTCP returns a dialer for Options.Dial.
func DialTCP(addr string) func(ctx context.Context) (net.Conn, error) {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Run prompts for credentials, connects and runs the input and receive
// loops until either ends. A quit, Ctrl-C, Ctrl-D, a closed server
// connection or a cancelled ctx returns nil. A panic in any loop ends the
// session with an error so the caller can restore the terminal.
func (s *Session) Run(ctx context.Context) error {
	if s.opts.CancelInput != nil {
		stop := context.AfterFunc(ctx, s.opts.CancelInput)
		defer stop()
	}
	editor := NewEditor(s.opts.Input, s.opts.Screen)

	s.opts.Screen.Echo(promptUsername)
	username, err := editor.ReadLine()
	if err != nil {
		return s.exit(ctx, err)
	}
	s.opts.Screen.Echo(promptPassword)
	password, err := editor.ReadMasked(passwordMask)
	if err != nil {
		return s.exit(ctx, err)
	}

	raw, err := s.opts.Dial(ctx)
	if err != nil {
		return s.exit(ctx, fmt.Errorf("connect: %w", err))
	}
	conn := protocol.NewConn(raw)
	defer conn.Close()

	log := s.log.With("user", username)
	if err := conn.SendLine(protocol.FormatConnect(username, password)); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	log.Info().Stringer("server", conn).Msg("connected")

	buf := NewBuffer()
	sender := NewSender(conn, s.opts.Policy, buf, buf.HistoryLen)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard("render", func() error {
		s.render(gctx, buf)
		return nil
	}))
	g.Go(guard("receive", func() error {
		defer cancel()
		return Receive(conn, buf, sender, log)
	}))
	g.Go(guard("input", func() error {
		defer cancel()
		return s.input(gctx, editor, sender, buf, username)
	}))
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		if s.opts.CancelInput != nil {
			s.opts.CancelInput()
		}
		return nil
	})

	err = g.Wait()
	s.opts.Screen.Render(buf.Lines())
	if err != nil {
		log.Error().Err(err).Msg("session failed")
	} else {
		log.Info().Msg("session ended")
	}
	return ignoreExit(err)
}

// exit maps an error from before the chat loops start; a cancelled ctx
// is a clean exit.
func (s *Session) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return ignoreExit(err)
}

// guard turns a panic in fn into an error.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s loop panic: %v", name, r)
			}
		}()
		return fn()
	}
}

// input sends typed lines until the user quits or the session ends.
func (s *Session) input(ctx context.Context, editor *Editor, sender *Sender, buf *Buffer, username string) error {
	for {
		line, err := editor.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		err = sender.Send(ctx, line)
		switch {
		case errors.Is(err, ErrSendFailed):
			buf.Append("Failed to send the message")
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch {
		case protocol.IsQuit(line):
			return nil
		case protocol.IsLoad(line):
		default:
			buf.Append(fmt.Sprintf("%s: %s", username, line))
		}
	}
}

// render redraws the screen whenever the buffer changes.
func (s *Session) render(ctx context.Context, buf *Buffer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-buf.Changed():
			s.opts.Screen.Render(buf.Lines())
		}
	}
}

func ignoreExit(err error) error {
	if errors.Is(err, ErrInterrupted) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
