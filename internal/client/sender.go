package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/caesarsage/chatcmd/internal/protocol"
)

var (
	// ErrSendFailed is returned when no acknowledgement arrived after every
	// retry.
	ErrSendFailed = errors.New("failed to send the message")
	// ErrSendInFlight is returned when another send is still waiting for its
	// acknowledgement.
	ErrSendInFlight = errors.New("a message is already awaiting acknowledgement")
)

// SendState tracks the message currently handled by a Sender.
type SendState string

const (
	StateIdle   SendState = "idle"
	StateSent   SendState = "sent"
	StateAcked  SendState = "acked"
	StateFailed SendState = "failed"
)

func (s SendState) String() string {
	return string(s)
}

// IsTerminal reports whether the last send has finished.
func (s SendState) IsTerminal() bool {
	return s == StateAcked || s == StateFailed
}

// Policy sets how long a send waits for its acknowledgement. Attempt i,
// counting from zero, waits Base + i*Step.
type Policy struct {
	Base       time.Duration
	Step       time.Duration
	MaxRetries int
}

// DefaultPolicy waits 1s, 2s, 3s and 4s.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Step: time.Second, MaxRetries: 3}
}

// linearBackOff grows the wait by Step on every retry.
type linearBackOff struct {
	base, step time.Duration
	n          int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base + time.Duration(b.n)*b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := &linearBackOff{base: p.Base, step: p.Step}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// LineSender writes one protocol line.
type LineSender interface {
	SendLine(text string) error
}

// Notifier receives status lines meant for the user.
type Notifier interface {
	Append(line string)
}

// Sender delivers one line at a time and waits for the server's \ACK,
// retransmitting on a linear schedule.
type Sender struct {
	conn    LineSender
	policy  Policy
	notices Notifier
	held    func() int

	flight   sync.Mutex
	awaiting atomic.Bool
	acks     chan struct{}

	mu    sync.Mutex
	state SendState
}

// NewSender returns a Sender writing to conn. held reports how many history
// lines the display holds and is used to page history requests.
func NewSender(conn LineSender, policy Policy, notices Notifier, held func() int) *Sender {
	if held == nil {
		held = func() int { return 0 }
	}
	return &Sender{
		conn:    conn,
		policy:  policy,
		notices: notices,
		held:    held,
		acks:    make(chan struct{}, 1),
		state:   StateIdle,
	}
}

// Send transmits line and blocks until it is acknowledged, every retry
// has been used or ctx is done.
func (s *Sender) Send(ctx context.Context, line string) error {
	if !s.flight.TryLock() {
		return ErrSendInFlight
	}
	defer s.flight.Unlock()

	line = s.frame(line)

	s.drain()
	s.awaiting.Store(true)
	defer s.awaiting.Store(false)

	b := s.policy.backOff(ctx)
	b.Reset()

	wait := s.policy.Base
	for attempt := 1; ; attempt++ {
		s.setState(StateSent)
		if err := s.conn.SendLine(line); err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("send: %w", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.acks:
			timer.Stop()
			s.setState(StateAcked)
			return nil
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateFailed)
			return ctx.Err()
		case <-timer.C:
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			s.setState(StateFailed)
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrSendFailed
		}
		s.notices.Append(fmt.Sprintf("Retrying to send the message (%d/%d)...", attempt, s.policy.MaxRetries))
		wait = next
	}
}

// Ack records an acknowledgement from the server. It reports false when
// no send was waiting for one.
func (s *Sender) Ack() bool {
	if !s.awaiting.Load() {
		return false
	}
	select {
	case s.acks <- struct{}{}:
		return true
	default:
		return false
	}
}

// InFlight reports whether a send is waiting for its acknowledgement.
func (s *Sender) InFlight() bool {
	return s.awaiting.Load()
}

// State returns the state of the most recent send.
func (s *Sender) State() SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) setState(state SendState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Sender) drain() {
	select {
	case <-s.acks:
	default:
	}
}

// frame adds the held line count to well-formed history requests.
func (s *Sender) frame(line string) string {
	if !protocol.IsLoad(line) {
		return line
	}
	req := protocol.ParseRequest(line)
	if req.Err != nil {
		return line
	}
	return protocol.FormatLoad(req.Amount, s.held())
}
