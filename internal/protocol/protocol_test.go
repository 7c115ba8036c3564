package protocol

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewConn(a), NewConn(b)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestSendReceiveLine(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = client.SendLine("hello")
		_ = client.SendLine("")
		_ = client.SendLine("ünïcode ✓")
	}()

	for _, want := range []string{"hello", "", "ünïcode ✓"} {
		got, err := server.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSendLineRejectsEmbeddedNewline(t *testing.T) {
	client, _ := pipe(t)
	assert.ErrorIs(t, client.SendLine("two\nlines"), ErrEmbeddedNewline)
}

func TestReceiveLineStripsCarriageReturn(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	conn := NewConn(b)
	defer conn.Close()

	go a.Write([]byte("telnet\r\n"))

	got, err := conn.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, "telnet", got)
}

func TestReceiveLineEOF(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(b)
	defer conn.Close()

	go func() {
		a.Write([]byte("partial"))
		a.Close()
	}()

	_, err := conn.ReceiveLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiveLineTooLong(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	conn := NewConn(b)
	defer conn.Close()

	go a.Write([]byte(strings.Repeat("x", MaxLineLength+10) + "\nnext\n"))

	_, err := conn.ReceiveLine()
	assert.ErrorIs(t, err, ErrLineTooLong)

	// The oversized frame is skipped whole; the stream stays aligned.
	line, err := conn.ReceiveLine()
	require.NoError(t, err)
	assert.Equal(t, "next", line)
}

func TestReceiveLineTooLongAtEOF(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(b)
	defer conn.Close()

	go func() {
		a.Write([]byte(strings.Repeat("x", MaxLineLength+10)))
		a.Close()
	}()

	_, err := conn.ReceiveLine()
	assert.Error(t, err)
}

func TestReceiveLineTimeout(t *testing.T) {
	_, server := pipe(t)

	_, err := server.ReceiveLineTimeout(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	client, _ := pipe(t)
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	err := client.SendLine("late")
	assert.True(t, IsClosed(err), "got %v", err)
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		line   string
		kind   Kind
		amount int
		held   int
		bad    bool
	}{
		{line: "hello there", kind: KindChat},
		{line: `\LOAD 5`, kind: KindLoad, amount: 5},
		{line: `\LOAD 5 12`, kind: KindLoad, amount: 5, held: 12},
		{line: `\LOAD`, kind: KindLoad, bad: true},
		{line: `\LOAD five`, kind: KindLoad, bad: true},
		{line: `\LOAD -1`, kind: KindLoad, bad: true},
		{line: `\q`, kind: KindQuit},
		{line: `\Q`, kind: KindQuit},
		{line: `\quit`, kind: KindChat},
		{line: `\LOADED`, kind: KindChat},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			req := ParseRequest(tt.line)
			assert.Equal(t, tt.kind.String(), req.Kind.String())
			if tt.bad {
				assert.Error(t, req.Err)
				return
			}
			assert.NoError(t, req.Err)
			assert.Equal(t, tt.amount, req.Amount)
			assert.Equal(t, tt.held, req.Held)
			if tt.kind == KindChat {
				assert.Equal(t, tt.line, req.Text)
			}
		})
	}
}

func TestParseConnect(t *testing.T) {
	user, pass, err := ParseConnect(FormatConnect("gvard", "abc123!@#"))
	require.NoError(t, err)
	assert.Equal(t, "gvard", user)
	assert.Equal(t, "abc123!@#", pass)

	for _, bad := range []string{"", "CONNECT gvard", "CONNECT a b c", "connect gvard pw", "HELLO gvard pw"} {
		_, _, err := ParseConnect(bad)
		assert.ErrorIs(t, err, ErrInvalidHandshake, bad)
	}
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply(CmdAck)
	require.NoError(t, err)
	assert.Equal(t, ReplyAck, r.Kind)

	pack, err := FormatPack([]string{"gvard: hello", `alice: "quoted"`})
	require.NoError(t, err)
	r, err = ParseReply(pack)
	require.NoError(t, err)
	assert.Equal(t, ReplyPack, r.Kind)
	assert.Equal(t, []string{"gvard: hello", `alice: "quoted"`}, r.Lines)

	r, err = ParseReply("gvard connected!")
	require.NoError(t, err)
	assert.Equal(t, ReplyText, r.Kind)
	assert.Equal(t, "gvard connected!", r.Text)

	_, err = ParseReply(CmdPack + " {not json")
	assert.Error(t, err)
}

func TestFormatPackEmpty(t *testing.T) {
	pack, err := FormatPack(nil)
	require.NoError(t, err)
	assert.Equal(t, `\PACK []`, pack)
}

func TestFormatPackNeverEmbedsNewline(t *testing.T) {
	pack, err := FormatPack([]string{"line one\nline two"})
	require.NoError(t, err)
	assert.NotContains(t, pack, "\n")
}

func TestFormatPackWithinDropsOldest(t *testing.T) {
	big := strings.Repeat("y", MaxLineLength/3)
	lines := []string{"oldest " + big, "older " + big, "newer " + big, "newest " + big}

	pack, kept, err := FormatPackWithin(lines)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(pack), MaxLineLength)
	assert.Equal(t, lines[2:], kept)

	decoded, err := DecodePack(strings.TrimPrefix(pack, CmdPack+" "))
	require.NoError(t, err)
	assert.Equal(t, kept, decoded)

	small, kept, err := FormatPackWithin([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `\PACK ["a","b"]`, small)
	assert.Len(t, kept, 2)
}

func TestFits(t *testing.T) {
	assert.True(t, Fits(strings.Repeat("x", MaxLineLength)))
	assert.False(t, Fits(strings.Repeat("x", MaxLineLength+1)))
	assert.False(t, Fits("two\nlines"))
}

func TestFormatLoad(t *testing.T) {
	assert.Equal(t, `\LOAD 10 3`, FormatLoad(10, 3))
	assert.True(t, IsLoad(FormatLoad(1, 0)))
	assert.True(t, IsQuit(`\q`))
}
