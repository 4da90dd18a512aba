package hub

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	LobbyRoom     = "lobby"
	AnonymousName = "Anonymous"
	noColor       = -1
)

// Session is the hub-side state of one live connection. Everything except
// the outbound queue is owned by the Manager goroutine.
type Session struct {
	ID            string
	Addr          string
	Name          string
	Color         int
	Room          string
	Authenticated bool
	Renames       int

	authPending bool
	closed      bool
	send        chan []byte
}

func newSession(addr string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:    uuid.NewString(),
		Addr:  addr,
		Color: noColor,
		send:  make(chan []byte, buffer),
	}
}

// Outbound yields encoded frames for the transport to write. It is closed
// once the session has been removed from the hub.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// DisplayName is the session's name, or AnonymousName before one is set.
func (s *Session) DisplayName() string {
	if s.Name == "" {
		return AnonymousName
	}
	return s.Name
}

// deliver queues frame without blocking.
func (s *Session) deliver(frame []byte) error {
	if s.closed {
		return ErrSessionUnreachable
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", ErrSessionUnreachable)
	}
}

func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
