package client

import (
	"bufio"
	"errors"
	"io"
)

// ErrInterrupted is returned when the user presses Ctrl-C while editing.
var ErrInterrupted = errors.New("interrupted")

const (
	keyInterrupt = 0x03
	keyEOF       = 0x04
	keyBackspace = 0x08
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

// Echoer shows the line being typed.
type Echoer interface {
	Echo(s string)
	EraseChar()
	ClearInput()
}

// Editor assembles lines from raw terminal input.
type Editor struct {
	in   *bufio.Reader
	echo Echoer
}

// NewEditor reads from in, echoing to echo.
func NewEditor(in io.Reader, echo Echoer) *Editor {
	return &Editor{in: bufio.NewReader(in), echo: echo}
}

// ReadLine returns the next line typed, without its terminator.
func (e *Editor) ReadLine() (string, error) {
	return e.read(0)
}

// ReadMasked is ReadLine echoing mask in place of each character.
func (e *Editor) ReadMasked(mask rune) (string, error) {
	return e.read(mask)
}

func (e *Editor) read(mask rune) (string, error) {
	var line []rune
	for {
		r, _, err := e.in.ReadRune()
		if err != nil {
			return "", err
		}

		switch {
		case r == '\r' || r == '\n':
			e.echo.ClearInput()
			return string(line), nil
		case r == keyInterrupt:
			e.echo.ClearInput()
			return "", ErrInterrupted
		case r == keyEOF:
			if len(line) == 0 {
				e.echo.ClearInput()
				return "", io.EOF
			}
		case r == keyDelete || r == keyBackspace:
			if len(line) > 0 {
				line = line[:len(line)-1]
				e.echo.EraseChar()
			}
		case r == keyEscape:
			if err := e.skipEscape(); err != nil {
				return "", err
			}
		case r < 0x20:
			// Other control keys are ignored.
		default:
			line = append(line, r)
			if mask != 0 {
				e.echo.Echo(string(mask))
			} else {
				e.echo.Echo(string(r))
			}
		}
	}
}

// skipEscape drops a CSI sequence such as an arrow key.
func (e *Editor) skipEscape() error {
	b, err := e.in.ReadByte()
	if err != nil {
		return err
	}
	if b != '[' {
		return nil
	}
	for {
		b, err := e.in.ReadByte()
		if err != nil {
			return err
		}
		if b >= 0x40 && b <= 0x7e {
			return nil
		}
	}
}
