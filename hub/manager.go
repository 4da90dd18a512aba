// Package hub is the in-memory chat engine: sessions, rooms, presence and
// fan-out. All state is owned by the goroutine running Manager.Run.
package hub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	RequireAuth       bool
	ColorCount        int
	MaxHistory        int
	MaxNickChanges    int
	MinNickLength     int
	MaxNickLength     int
	MaxRoomNameLength int
	MaxMessageLength  int
	SendBuffer        int
	PersistQueue      int
	// StoreTimeout bounds every AuthStore and HistoryStore call.
	StoreTimeout time.Duration
}

type Stats struct {
	Connections   int
	Authenticated int
	Rooms         []RoomInfo
	Users         []string
}

// String renders stats in the control socket's key=value form.
func (s Stats) String() string {
	rooms := make([]string, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		rooms = append(rooms, fmt.Sprintf("%s:%d", r.Name, r.Members))
	}
	return fmt.Sprintf("connections=%d,authenticated=%d,rooms=%s,users=%s",
		s.Connections, s.Authenticated, strings.Join(rooms, ";"), strings.Join(s.Users, ";"))
}

type Manager struct {
	opts    Options
	auth    AuthStore
	history HistoryStore

	sessions map[string]*Session
	rooms    *RoomRegistry
	presence *PresenceTracker
	router   *BroadcastRouter
	colors   ColorAllocator
	nicks    NicknameDirectory
	persist  *persister

	ops    chan func()
	done   chan struct{}
	now    func() time.Time
	lastTS int64
	log    zerolog.Logger
}

func NewManager(opts Options, auth AuthStore, history HistoryStore) *Manager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 50
	}

	logger := log.With().Str("component", "hub").Logger()
	rooms := NewRoomRegistry()
	return &Manager{
		opts:     opts,
		auth:     auth,
		history:  history,
		sessions: make(map[string]*Session),
		rooms:    rooms,
		presence: NewPresenceTracker(),
		router:   NewBroadcastRouter(rooms, logger),
		colors:   NewColorAllocator(opts.ColorCount),
		nicks: NicknameDirectory{
			MinLength:  opts.MinNickLength,
			MaxLength:  opts.MaxNickLength,
			MaxChanges: opts.MaxNickChanges,
		},
		persist: newPersister(history, opts.PersistQueue, opts.StoreTimeout, logger),
		ops:     make(chan func(), 1024),
		done:    make(chan struct{}),
		now:     time.Now,
		log:     logger,
	}
}

// Run processes operations until ctx is cancelled, then closes every
// session and flushes pending history writes. It must be called once.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info().Msg("hub started")
	defer m.persist.stop()

	for {
		select {
		case <-ctx.Done():
			n := len(m.sessions)
			for id, s := range m.sessions {
				s.close()
				delete(m.sessions, id)
			}
			close(m.done)
			m.log.Info().Int("sessions", n).Msg("hub stopped")
			return nil
		case fn := <-m.ops:
			fn()
		}
	}
}

func (m *Manager) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.ops <- fn:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the hub goroutine and waits for it to finish.
func (m *Manager) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := m.enqueue(ctx, func() {
		fn()
		close(finished)
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a new unauthenticated session placed in the lobby.
func (m *Manager) Connect(ctx context.Context, addr string) (*Session, error) {
	s := newSession(addr, m.opts.SendBuffer)
	if err := m.call(ctx, func() { m.connect(s) }); err != nil {
		// the op may still run after we gave up on it
		_ = m.enqueue(context.Background(), func() { m.disconnect(s) })
		return nil, err
	}
	return s, nil
}

// Deliver hands one inbound frame of s to the hub. Frames of a session are
// handled in the order they were delivered.
func (m *Manager) Deliver(ctx context.Context, s *Session, frame []byte) error {
	return m.enqueue(ctx, func() { m.handleFrame(s, frame) })
}

// Disconnect removes s from the hub. Calling it more than once is harmless.
func (m *Manager) Disconnect(ctx context.Context, s *Session) error {
	return m.enqueue(ctx, func() { m.disconnect(s) })
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := m.call(ctx, func() {
		st.Connections = len(m.sessions)
		for _, s := range m.sessions {
			if s.Authenticated {
				st.Authenticated++
				st.Users = append(st.Users, s.Name)
			}
		}
		sort.Strings(st.Users)
		st.Rooms = m.rooms.Rooms()
	})
	return st, err
}

func (m *Manager) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var rooms []RoomInfo
	err := m.call(ctx, func() { rooms = m.rooms.Rooms() })
	return rooms, err
}

// Announce sends a system notice to every authenticated session.
func (m *Manager) Announce(ctx context.Context, message string) error {
	return m.call(ctx, func() {
		for _, s := range m.sessions {
			if !s.Authenticated {
				continue
			}
			m.reply(s, systemNotice(s.Room, message))
		}
	})
}

// Shutdown tells every session the server is going away. Connections are
// closed when Run returns.
func (m *Manager) Shutdown(ctx context.Context, reason string) error {
	msg := "server is shutting down"
	if reason != "" {
		msg += ": " + reason
	}
	m.log.Info().Str("reason", reason).Msg("shutdown requested")
	return m.Announce(ctx, msg)
}

func (m *Manager) connect(s *Session) {
	m.sessions[s.ID] = s
	_, _ = m.rooms.Move(s, LobbyRoom)
	m.log.Debug().Str("session", s.ID).Str("addr", s.Addr).Msg("session connected")
}

func (m *Manager) disconnect(s *Session) {
	if _, ok := m.sessions[s.ID]; !ok {
		return
	}
	delete(m.sessions, s.ID)

	room := s.Room
	m.presence.Clear(s)
	m.rooms.Leave(s)
	s.close()

	if s.Authenticated {
		m.router.BroadcastToRoom(room, systemNotice(room, s.Name+" left the room"), s.ID)
		m.log.Info().Str("user", s.Name).Str("room", room).Msg("user disconnected")
		return
	}
	m.log.Debug().Str("session", s.ID).Msg("session disconnected")
}

func (m *Manager) authenticated() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Authenticated {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) findOnline(name string) (*Session, error) {
	for _, s := range m.sessions {
		if s.Authenticated && strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUserOffline)
}

// timestamp returns wall-clock milliseconds, never earlier than the last
// value handed out.
func (m *Manager) timestamp() int64 {
	ts := m.now().UnixMilli()
	if ts < m.lastTS {
		ts = m.lastTS
	}
	m.lastTS = ts
	return ts
}
