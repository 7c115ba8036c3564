// Package protocol implements the newline-delimited line transport and the
// wire literals shared by the chat server and client.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// MaxLineLength bounds a single frame, terminator excluded.
const MaxLineLength = 64 * 1024

var (
	// ErrEmbeddedNewline is returned by SendLine for text that would split
	// into more than one frame.
	ErrEmbeddedNewline = errors.New("protocol: line contains embedded newline")
	// ErrLineTooLong is returned by ReceiveLine when a peer sends a frame
	// longer than MaxLineLength.
	ErrLineTooLong = errors.New("protocol: line too long")
	// ErrShortWrite reports a partial frame write.
	ErrShortWrite = errors.New("protocol: short write")
)

// Conn frames a net.Conn as UTF-8 lines terminated by '\n'.
//
// SendLine is safe for concurrent use; ReceiveLine must only be called from
// one goroutine at a time.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// SendLine writes text followed by '\n' as one frame.
func (c *Conn) SendLine(text string) error {
	return c.SendLineTimeout(text, 0)
}

// SendLineTimeout is SendLine with a write deadline; zero means none.
func (c *Conn) SendLineTimeout(text string, timeout time.Duration) error {
	if strings.ContainsRune(text, '\n') {
		return ErrEmbeddedNewline
	}

	frame := make([]byte, 0, len(text)+1)
	frame = append(frame, text...)
	frame = append(frame, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	n, err := c.conn.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrShortWrite
	}
	return nil
}

// ReceiveLine blocks until a full line arrives and returns it without the
// terminator (a trailing '\r' is dropped too). It returns io.EOF when the
// peer closes; an unterminated tail is discarded. A frame longer than
// MaxLineLength is skipped up to its terminator and reported as
// ErrLineTooLong, so the next call starts on the following frame.
func (c *Conn) ReceiveLine() (string, error) {
	var buf []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if len(buf)+len(chunk) > MaxLineLength+1 {
			if err == nil || errors.Is(err, bufio.ErrBufferFull) {
				if err := c.skipFrame(err == nil); err != nil {
					return "", err
				}
			}
			return "", ErrLineTooLong
		}
		buf = append(buf, chunk...)

		switch {
		case err == nil:
			line := bytes.TrimSuffix(buf[:len(buf)-1], []byte{'\r'})
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return "", io.EOF
		default:
			return "", err
		}
	}
}

// skipFrame discards input up to and including the next '\n' unless the
// terminator has already been consumed.
func (c *Conn) skipFrame(terminated bool) error {
	for !terminated {
		_, err := c.reader.ReadSlice('\n')
		switch {
		case err == nil:
			terminated = true
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			return err
		}
	}
	return nil
}

// Fits reports whether text can be sent and received as one frame.
func Fits(text string) bool {
	return len(text) <= MaxLineLength && !strings.ContainsRune(text, '\n')
}

// ReceiveLineTimeout is ReceiveLine with a read deadline; zero means none.
func (c *Conn) ReceiveLineTimeout(timeout time.Duration) (string, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
	} else if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return c.ReceiveLine()
}

// Close closes the underlying connection. Repeated calls return the first
// result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err stems from using a connection that was
// already closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn(%s)", c.conn.RemoteAddr())
}
