package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire literals. All are case-sensitive.
const (
	CmdConnect = "CONNECT"
	CmdLoad    = `\LOAD`
	CmdAck     = `\ACK`
	CmdPack    = `\PACK`
	CmdQuit    = `\q`
	CmdQuitAlt = `\Q`
)

// ErrInvalidHandshake is returned for a first line that is not
// "CONNECT <user> <pass>".
var ErrInvalidHandshake = errors.New("protocol: invalid handshake")

// Kind classifies a line sent by a client after the handshake.
type Kind int

const (
	KindChat Kind = iota
	KindLoad
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindQuit:
		return "quit"
	default:
		return "chat"
	}
}

// Request is a classified client line.
type Request struct {
	Kind Kind
	// Text is the raw line for chat messages.
	Text string
	// Amount and Held are set for well-formed history requests. Held is the
	// number of lines the client already displays.
	Amount int
	Held   int
	// Err is set for a history request whose arguments do not parse.
	Err error
}

// ParseRequest classifies a client line. History requests are tested
// before quit, and anything else is a chat message.
func ParseRequest(line string) Request {
	fields := strings.Fields(line)
	if len(fields) > 0 && fields[0] == CmdLoad {
		req := Request{Kind: KindLoad}
		req.Amount, req.Held, req.Err = parseLoadArgs(fields[1:])
		return req
	}

	if trimmed := strings.TrimSpace(line); trimmed == CmdQuit || trimmed == CmdQuitAlt {
		return Request{Kind: KindQuit}
	}

	return Request{Kind: KindChat, Text: line}
}

func parseLoadArgs(args []string) (amount, held int, err error) {
	if len(args) == 0 || len(args) > 2 {
		return 0, 0, fmt.Errorf("expected %s <n>", CmdLoad)
	}
	amount, err = strconv.Atoi(args[0])
	if err != nil || amount < 0 {
		return 0, 0, fmt.Errorf("invalid amount %q", args[0])
	}
	if len(args) == 2 {
		held, err = strconv.Atoi(args[1])
		if err != nil || held < 0 {
			return 0, 0, fmt.Errorf("invalid held count %q", args[1])
		}
	}
	return amount, held, nil
}

// IsLoad reports whether line is a history request.
func IsLoad(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == CmdLoad
}

// IsQuit reports whether line is a quit command.
func IsQuit(line string) bool {
	return ParseRequest(line).Kind == KindQuit
}

// FormatLoad builds a history request carrying the held line count.
func FormatLoad(amount, held int) string {
	return fmt.Sprintf("%s %d %d", CmdLoad, amount, held)
}

// FormatConnect builds the handshake line.
func FormatConnect(username, password string) string {
	return fmt.Sprintf("%s %s %s", CmdConnect, username, password)
}

// ParseConnect decodes the handshake line: exactly three whitespace
// separated tokens, the first being CONNECT.
func ParseConnect(line string) (username, password string, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != CmdConnect {
		return "", "", ErrInvalidHandshake
	}
	return fields[1], fields[2], nil
}

// ReplyKind classifies a line sent by the server.
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyAck
	ReplyPack
)

// Reply is a classified server line.
type Reply struct {
	Kind  ReplyKind
	Text  string
	Lines []string
}

// ParseReply classifies a server line. A pack whose payload is not a JSON
// array of strings is an error.
func ParseReply(line string) (Reply, error) {
	if line == CmdAck {
		return Reply{Kind: ReplyAck}, nil
	}
	if payload, ok := strings.CutPrefix(line, CmdPack+" "); ok {
		lines, err := DecodePack(payload)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyPack, Lines: lines}, nil
	}
	return Reply{Kind: ReplyText, Text: line}, nil
}

// FormatPack encodes lines as a single history-pack frame.
func FormatPack(lines []string) (string, error) {
	if lines == nil {
		lines = []string{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("encode pack: %w", err)
	}
	return CmdPack + " " + string(data), nil
}

// FormatPackWithin is FormatPack for the newest lines that fit in a single
// frame; older lines are dropped from the front. It returns the lines kept.
func FormatPackWithin(lines []string) (string, []string, error) {
	for {
		pack, err := FormatPack(lines)
		if err != nil {
			return "", nil, err
		}
		if len(pack) <= MaxLineLength || len(lines) == 0 {
			return pack, lines, nil
		}
		lines = lines[1:]
	}
}

// DecodePack decodes a pack payload.
func DecodePack(payload string) ([]string, error) {
	var lines []string
	if err := json.Unmarshal([]byte(payload), &lines); err != nil {
		return nil, fmt.Errorf("decode pack: %w", err)
	}
	return lines, nil
}
