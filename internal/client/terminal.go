package client

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Screen draws the buffer and the input line.
type Screen interface {
	Echoer
	Render(lines []string)
}

// Terminal is a raw-mode Screen. The bottom row holds the input line and
// every row above it shows the tail of the buffer.
type Terminal struct {
	mu    sync.Mutex
	inFd  int
	outFd int
	out   *termenv.Output
	state *term.State
	// col is the 1-based cursor column on the input row.
	col int
}

// OpenTerminal switches in to raw mode and clears out. Callers must call
// Restore.
func OpenTerminal(in, out *os.File) (*Terminal, error) {
	inFd := int(in.Fd())
	if !term.IsTerminal(inFd) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}
	state, err := term.MakeRaw(inFd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}

	t := &Terminal{
		inFd:  inFd,
		outFd: int(out.Fd()),
		out:   termenv.NewOutput(out),
		state: state,
		col:   1,
	}
	t.out.ClearScreen()
	_, rows := t.size()
	t.out.MoveCursor(rows, 1)
	return t, nil
}

// Restore leaves raw mode. It is safe to call more than once.
func (t *Terminal) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return nil
	}
	_, rows := t.size()
	t.out.MoveCursor(rows, 1)
	t.out.WriteString("\r\n")

	err := term.Restore(t.inFd, t.state)
	t.state = nil
	return err
}

// Render shows the last lines that fit above the input row.
func (t *Terminal) Render(lines []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	width, rows := t.size()
	visible := max(rows-1, 1)
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}

	t.out.SaveCursorPosition()
	for i := 0; i < visible; i++ {
		t.out.MoveCursor(i+1, 1)
		t.out.ClearLine()
		if i < len(lines) {
			t.out.WriteString(runewidth.Truncate(printable(lines[i]), width, "…"))
		}
	}
	t.out.RestoreCursorPosition()
}

func (t *Terminal) Echo(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.WriteString(s)
	t.col += runewidth.StringWidth(s)
}

func (t *Terminal) EraseChar() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.col <= 1 {
		return
	}
	t.out.CursorBack(1)
	t.out.WriteString(" ")
	t.out.CursorBack(1)
	t.col--
}

func (t *Terminal) ClearInput() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, rows := t.size()
	t.out.MoveCursor(rows, 1)
	t.out.ClearLine()
	t.col = 1
}

func (t *Terminal) size() (width, height int) {
	width, height, err := term.GetSize(t.outFd)
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// printable drops control characters so peers cannot move the cursor.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
