package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAppendAndHistory(t *testing.T) {
	b := NewBuffer()
	b.Append("Login successful")
	b.Append("carol: hi")

	b.PrependHistory([]string{"alice: 3", "alice: 4"})
	b.PrependHistory([]string{"alice: 1", "alice: 2"})
	b.PrependHistory(nil)

	assert.Equal(t, []string{
		"alice: 1", "alice: 2",
		"alice: 3", "alice: 4",
		"Login successful", "carol: hi",
	}, b.Lines())
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, 4, b.HistoryLen())
}

func TestBufferLinesIsSnapshot(t *testing.T) {
	b := NewBuffer()
	b.Append("one")

	lines := b.Lines()
	lines[0] = "changed"
	b.Append("two")

	assert.Equal(t, []string{"one", "two"}, b.Lines())
}

func TestBufferChangesCoalesce(t *testing.T) {
	b := NewBuffer()
	b.Append("a")
	b.Append("b")
	b.PrependHistory([]string{"c"})

	select {
	case <-b.Changed():
	default:
		t.Fatal("expected change signal")
	}
	select {
	case <-b.Changed():
		t.Fatal("signals should coalesce")
	default:
	}

	b.PrependHistory([]string{})
	select {
	case <-b.Changed():
		t.Fatal("empty history block should not signal")
	default:
	}
}
