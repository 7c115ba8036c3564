package client

import (
	"errors"
	"io"

	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/protocol"
)

// NoticeServerClosed is shown when the server ends the stream.
const NoticeServerClosed = "Server closed connection."

// LineReceiver reads one protocol line.
type LineReceiver interface {
	ReceiveLine() (string, error)
}

// Acker is told about every \ACK the server sends.
type Acker interface {
	Ack() bool
}

// Receive reads server lines into buf until the stream ends. A stream the
// server closed returns nil after the closing notice; a connection closed
// locally returns nil without one.
func Receive(conn LineReceiver, buf *Buffer, acks Acker, log *logger.Logger) error {
	for {
		line, err := conn.ReceiveLine()
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrLineTooLong):
			log.Warn().Int("max", protocol.MaxLineLength).Msg("skipping oversized line")
			continue
		case errors.Is(err, io.EOF):
			buf.Append(NoticeServerClosed)
			return nil
		case protocol.IsClosed(err):
			return nil
		default:
			buf.Append(NoticeServerClosed)
			return err
		}

		reply, err := protocol.ParseReply(line)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed history pack")
			continue
		}

		switch reply.Kind {
		case protocol.ReplyAck:
			if !acks.Ack() {
				log.Debug().Msg("ignoring acknowledgement with nothing in flight")
			}
		case protocol.ReplyPack:
			buf.PrependHistory(reply.Lines)
		default:
			buf.Append(reply.Text)
		}
	}
}
