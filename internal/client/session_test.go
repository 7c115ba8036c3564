package client

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
)

type countingAcker struct {
	n atomic.Int32
}

func (a *countingAcker) Ack() bool {
	a.n.Add(1)
	return false
}

func TestReceiveClassifiesLines(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	conn := protocol.NewConn(clientSide)
	server := protocol.NewConn(serverSide)

	go func() {
		server.SendLine("Login successful")
		server.SendLine(protocol.CmdAck)
		server.SendLine(`\PACK ["alice: 1","alice: 2"]`)
		server.SendLine(`\PACK not-json`)
		server.SendLine("bobby: hi")
		server.Close()
	}()

	buf := NewBuffer()
	acks := &countingAcker{}
	require.NoError(t, Receive(conn, buf, acks, logger.Nop()))

	assert.Equal(t, []string{
		"alice: 1", "alice: 2",
		"Login successful", "bobby: hi", NoticeServerClosed,
	}, buf.Lines())
	assert.Equal(t, int32(1), acks.n.Load())
}

func TestReceiveSkipsOversizedLine(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	conn := protocol.NewConn(clientSide)

	go func() {
		serverSide.Write([]byte(strings.Repeat("x", protocol.MaxLineLength+10) + "\n"))
		serverSide.Write([]byte("bobby: still here\n"))
		serverSide.Close()
	}()

	buf := NewBuffer()
	require.NoError(t, Receive(conn, buf, &countingAcker{}, logger.Nop()))
	assert.Equal(t, []string{"bobby: still here", NoticeServerClosed}, buf.Lines())
}

func TestReceiveStopsQuietlyOnLocalClose(t *testing.T) {
	clientSide, _ := net.Pipe()
	conn := protocol.NewConn(clientSide)
	conn.Close()

	buf := NewBuffer()
	require.NoError(t, Receive(conn, buf, &countingAcker{}, logger.Nop()))
	assert.Empty(t, buf.Lines())
}

// sessionHarness runs a Session against an in-memory server.
type sessionHarness struct {
	screen *fakeScreen
	input  *io.PipeWriter
	server *protocol.Conn
	done   chan error
}

func startSession(t *testing.T) *sessionHarness {
	t.Helper()
	screen := &fakeScreen{}
	h := startSessionOn(t, context.Background(), screen)
	h.screen = screen
	return h
}

func startSessionOn(t *testing.T, ctx context.Context, screen Screen) *sessionHarness {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	pr, pw := io.Pipe()
	h := &sessionHarness{
		input:  pw,
		server: protocol.NewConn(serverSide),
		done:   make(chan error, 1),
	}

	s := NewSession(Options{
		Policy:      Policy{Base: time.Second, Step: time.Second, MaxRetries: 3},
		Screen:      screen,
		Input:       pr,
		CancelInput: func() { pr.Close() },
		Dial: func(ctx context.Context) (net.Conn, error) {
			return clientSide, nil
		},
		Log: logger.Nop(),
	})
	go func() { h.done <- s.Run(ctx) }()
	t.Cleanup(func() { h.server.Close() })

	h.typeText("gvard\rabc123!@#\r")
	line, err := h.server.ReceiveLine()
	require.NoError(t, err)
	require.Equal(t, "CONNECT gvard abc123!@#", line)
	return h
}

func (h *sessionHarness) typeText(text string) {
	go h.input.Write([]byte(text))
}

func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSessionChatAndQuit(t *testing.T) {
	h := startSession(t)
	require.NoError(t, h.server.SendLine("Login successful"))

	h.typeText("hello\r")
	line, err := h.server.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
	require.NoError(t, h.server.SendLine(protocol.CmdAck))

	h.typeText("\\q\r")
	line, err = h.server.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdQuit, line)
	require.NoError(t, h.server.SendLine("bobby: hi"))
	require.NoError(t, h.server.SendLine(protocol.CmdAck))

	require.NoError(t, h.wait(t))
	assert.Equal(t, []string{"Login successful", "gvard: hello", "bobby: hi"}, h.screen.lastFrame())

	_, err = h.server.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionEndsWhenServerCloses(t *testing.T) {
	h := startSession(t)
	require.NoError(t, h.server.SendLine("Invalid credentials."))
	h.server.Close()

	require.NoError(t, h.wait(t))
	assert.Equal(t, []string{"Invalid credentials.", NoticeServerClosed}, h.screen.lastFrame())
}

func TestSessionInterrupt(t *testing.T) {
	h := startSession(t)
	require.NoError(t, h.server.SendLine("Login successful"))

	h.typeText("\x03")
	require.NoError(t, h.wait(t))

	_, err := h.server.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionPromptsMaskPassword(t *testing.T) {
	h := startSession(t)
	h.server.Close()
	require.NoError(t, h.wait(t))

	assert.Equal(t, "Enter username: gvardEnter password: *********", h.screen.echo())
}

// brokenScreen fails on its first redraw.
type brokenScreen struct {
	*fakeScreen
	once sync.Once
}

func (s *brokenScreen) Render(lines []string) {
	s.once.Do(func() { panic("render failed") })
	s.fakeScreen.Render(lines)
}

func TestSessionReturnsErrorAfterLoopPanic(t *testing.T) {
	screen := &brokenScreen{fakeScreen: &fakeScreen{}}
	h := startSessionOn(t, context.Background(), screen)
	require.NoError(t, h.server.SendLine("Login successful"))

	err := h.wait(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render loop panic: render failed")

	_, err = h.server.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Login successful"}, screen.lastFrame())
}

func TestSessionEndsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startSessionOn(t, ctx, &fakeScreen{})
	require.NoError(t, h.server.SendLine("Login successful"))

	cancel()
	require.NoError(t, h.wait(t))

	_, err := h.server.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionCancelledAtPrompt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()
	var dialed atomic.Bool

	s := NewSession(Options{
		Policy:      DefaultPolicy(),
		Screen:      &fakeScreen{},
		Input:       pr,
		CancelInput: func() { pr.Close() },
		Dial: func(ctx context.Context) (net.Conn, error) {
			dialed.Store(true)
			return nil, io.ErrUnexpectedEOF
		},
		Log: logger.Nop(),
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	assert.False(t, dialed.Load())
}
