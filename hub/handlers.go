package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"roomhub/models"
	"roomhub/protocol"
)

var errBadCredentials = errors.New("invalid credentials")

func systemNotice(room, message string) protocol.Notice {
	return protocol.NewSystem(room, message)
}

func (m *Manager) reply(s *Session, event any) {
	if err := m.router.SendToSession(s, event); err != nil {
		m.log.Warn().Err(err).Str("session", s.ID).Msg("reply dropped")
	}
}

func (m *Manager) handleFrame(s *Session, frame []byte) {
	if s.closed {
		return
	}

	ev, err := protocol.Parse(frame)
	if err != nil {
		m.log.Debug().Err(err).Str("session", s.ID).Int("size", len(frame)).Msg("dropping frame")
		return
	}

	switch e := ev.(type) {
	case protocol.Login:
		m.handleLogin(s, e)
		return
	case protocol.Identify:
		m.handleIdentify(s, e)
		return
	}

	if !s.Authenticated {
		m.reply(s, protocol.NewError(ErrNotAuthenticated.Error()))
		return
	}

	switch e := ev.(type) {
	case protocol.JoinRoom:
		m.handleJoinRoom(s, e)
	case protocol.Rename:
		m.handleRename(s, e)
	case protocol.Users:
		m.handleUsers(s)
	case protocol.Message:
		m.handleMessage(s, e)
	case protocol.Private:
		m.handlePrivate(s, e)
	case protocol.Typing:
		m.handleTyping(s, true)
	case protocol.StopTyping:
		m.handleTyping(s, false)
	}
}

// handleLogin checks credentials off the hub goroutine and finishes the
// login back on it, so slow hashing never stalls other sessions.
func (m *Manager) handleLogin(s *Session, e protocol.Login) {
	if s.Authenticated {
		m.reply(s, protocol.NewError(ErrAlreadyAuthed.Error()))
		return
	}
	if s.authPending {
		m.reply(s, protocol.NewError("login already in progress"))
		return
	}

	name := strings.TrimSpace(e.Username)
	if err := m.nicks.Validate(name); err != nil {
		if e.Register {
			m.reply(s, protocol.NewAuthError(m.nameRule()))
		} else {
			m.reply(s, protocol.NewAuthError(errBadCredentials.Error()))
		}
		return
	}
	if e.Password == "" {
		m.reply(s, protocol.NewAuthError("password required"))
		return
	}

	s.authPending = true
	go func() {
		err := m.authenticate(name, e.Password, e.Register)
		_ = m.enqueue(context.Background(), func() { m.finishLogin(s, name, err) })
	}()
}

func (m *Manager) authenticate(name, password string, register bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
	defer cancel()

	if register {
		return m.auth.Create(ctx, name, password)
	}

	ok, err := m.auth.Verify(ctx, name, password)
	if err != nil {
		return err
	}
	if !ok {
		return errBadCredentials
	}
	return nil
}

func (m *Manager) finishLogin(s *Session, name string, err error) {
	s.authPending = false
	if s.closed {
		return
	}

	switch {
	case err == nil:
		m.admit(s, name)
	case errors.Is(err, ErrNameTaken):
		m.reply(s, protocol.NewAuthError(fmt.Sprintf("name %s is already registered", name)))
	case errors.Is(err, errBadCredentials):
		m.log.Info().Str("user", name).Str("addr", s.Addr).Msg("login rejected")
		m.reply(s, protocol.NewAuthError(errBadCredentials.Error()))
	default:
		m.log.Error().Err(err).Str("user", name).Msg("auth store")
		m.reply(s, protocol.NewAuthError("authentication unavailable"))
	}
}

func (m *Manager) handleIdentify(s *Session, e protocol.Identify) {
	if m.opts.RequireAuth {
		m.reply(s, protocol.NewAuthError("authentication required"))
		return
	}
	if s.Authenticated {
		m.reply(s, protocol.NewError(ErrAlreadyAuthed.Error()))
		return
	}

	name := strings.TrimSpace(e.Username)
	if err := m.nicks.Validate(name); err != nil {
		m.reply(s, protocol.NewAuthError(m.nameRule()))
		return
	}
	m.admit(s, name)
}

// admit turns a verified session into a chat participant in its current room.
func (m *Manager) admit(s *Session, name string) {
	if m.nicks.IsTaken(m.sessions, name, s) {
		m.reply(s, protocol.NewAuthError(fmt.Sprintf("name %s is already in use", name)))
		return
	}

	s.Name = name
	s.Color = m.colors.Allocate(m.authenticated())
	s.Authenticated = true

	m.reply(s, protocol.NewAuthSuccess(s.Name, s.Color, s.Room, m.nicks.Remaining(s)))
	m.sendHistory(s, s.Room)
	m.router.BroadcastToRoom(s.Room, systemNotice(s.Room, s.Name+" joined the room"), s.ID)

	m.log.Info().Str("user", s.Name).Int("color", s.Color).Str("addr", s.Addr).Msg("user authenticated")
}

func (m *Manager) sendHistory(s *Session, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
	defer cancel()

	msgs, err := m.history.Recent(ctx, room, m.opts.MaxHistory)
	if err != nil {
		m.log.Error().Err(fmt.Errorf("%w: %v", ErrPersistence, err)).Str("room", room).Msg("load history")
		msgs = nil
	}
	m.reply(s, protocol.NewHistory(room, msgs))
}

func (m *Manager) validRoom(room string) bool {
	if room == "" || utf8.RuneCountInString(room) > m.opts.MaxRoomNameLength {
		return false
	}
	for _, r := range room {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (m *Manager) handleJoinRoom(s *Session, e protocol.JoinRoom) {
	room := strings.TrimSpace(e.Room)
	if !m.validRoom(room) {
		m.reply(s, protocol.NewError(fmt.Sprintf("%s: must be 1 to %d characters", ErrRoomInvalid, m.opts.MaxRoomNameLength)))
		return
	}
	if room == s.Room {
		m.reply(s, systemNotice(room, "you are already in "+room))
		return
	}

	m.presence.Clear(s)
	from, err := m.rooms.Move(s, room)
	if err != nil {
		m.reply(s, systemNotice(room, "you are already in "+room))
		return
	}

	m.router.BroadcastToRoom(from, systemNotice(from, s.Name+" left the room"), s.ID)
	m.reply(s, systemNotice(room, "you joined "+room))
	m.sendHistory(s, room)
	m.router.BroadcastToRoom(room, systemNotice(room, s.Name+" joined the room"), s.ID)

	m.log.Info().Str("user", s.Name).Str("from", from).Str("to", room).Msg("room changed")
}

func (m *Manager) nameRule() string {
	return fmt.Sprintf("name must be %d to %d characters without spaces or any of %s", m.opts.MinNickLength, m.opts.MaxNickLength, reservedRunes)
}

func (m *Manager) handleRename(s *Session, e protocol.Rename) {
	res, err := m.nicks.Rename(m.sessions, s, e.Username)
	switch {
	case errors.Is(err, ErrRenameLimit):
		m.reply(s, protocol.NewError(fmt.Sprintf("%s: %d changes allowed", ErrRenameLimit, m.opts.MaxNickChanges)))
		return
	case errors.Is(err, ErrNameInvalid):
		m.reply(s, protocol.NewError(m.nameRule()))
		return
	case errors.Is(err, ErrNameTaken):
		m.reply(s, protocol.NewError(fmt.Sprintf("name %s is already taken", strings.TrimSpace(e.Username))))
		return
	case err != nil:
		m.reply(s, protocol.NewError(err.Error()))
		return
	}

	m.stopTyping(s, res.Old)
	m.router.BroadcastToRoom(s.Room, systemNotice(s.Room, fmt.Sprintf("%s is now known as %s", res.Old, res.New)), s.ID)
	m.reply(s, systemNotice(s.Room, fmt.Sprintf("you are now known as %s (%d renames left)", res.New, res.Remaining)))

	m.log.Info().Str("old", res.Old).Str("new", res.New).Int("remaining", res.Remaining).Msg("user renamed")
}

func (m *Manager) handleUsers(s *Session) {
	var entries []protocol.RosterEntry
	for _, member := range m.rooms.Members(s.Room) {
		if !member.Authenticated {
			continue
		}
		entries = append(entries, protocol.RosterEntry{Username: member.DisplayName(), Color: member.Color})
	}
	m.reply(s, protocol.NewRoster(s.Room, entries))
}

func (m *Manager) handleMessage(s *Session, e protocol.Message) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		m.reply(s, protocol.NewError("message text required"))
		return
	}
	if utf8.RuneCountInString(text) > m.opts.MaxMessageLength {
		m.reply(s, protocol.NewError(fmt.Sprintf("message too long: %d characters max", m.opts.MaxMessageLength)))
		return
	}

	msg := models.Message{
		Room:      s.Room,
		Author:    s.Name,
		Text:      text,
		Timestamp: m.timestamp(),
		Color:     s.Color,
	}
	m.persist.enqueue(msg)

	m.stopTyping(s, s.Name)
	m.router.BroadcastToRoom(s.Room, protocol.NewChatMessage(msg), s.ID)
}

func (m *Manager) handlePrivate(s *Session, e protocol.Private) {
	to := strings.TrimSpace(e.To)
	text := strings.TrimSpace(e.Text)
	if text == "" {
		m.reply(s, protocol.NewError("message text required"))
		return
	}
	if utf8.RuneCountInString(text) > m.opts.MaxMessageLength {
		m.reply(s, protocol.NewError(fmt.Sprintf("message too long: %d characters max", m.opts.MaxMessageLength)))
		return
	}

	target, err := m.findOnline(to)
	if err != nil {
		m.reply(s, systemNotice(s.Room, fmt.Sprintf("%s is not online", to)))
		return
	}

	pm := protocol.PrivateMessage{
		Type:      protocol.TypePrivate,
		From:      s.Name,
		To:        target.Name,
		Text:      text,
		Color:     s.Color,
		Timestamp: m.timestamp(),
	}
	if err := m.router.SendToSession(target, pm); err != nil {
		m.log.Warn().Err(err).Str("from", s.Name).Str("to", target.Name).Msg("private message not delivered")
		m.reply(s, protocol.NewError(fmt.Sprintf("could not deliver message to %s", target.Name)))
	}
}

func (m *Manager) handleTyping(s *Session, typing bool) {
	if !typing {
		m.stopTyping(s, s.Name)
		return
	}
	if m.presence.StartTyping(s) {
		m.router.BroadcastToRoom(s.Room, protocol.NewTyping(s.Room, s.Name, true), s.ID)
	}
}

// stopTyping clears the typing flag of s in its current room. Peers are told
// under name, the name they saw when typing started.
func (m *Manager) stopTyping(s *Session, name string) {
	if m.presence.StopTyping(s) {
		m.router.BroadcastToRoom(s.Room, protocol.NewTyping(s.Room, name, false), s.ID)
	}
}
