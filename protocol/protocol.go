package protocol

import (
	"encoding/json"
	"errors"

	"roomhub/models"
)

var (
	ErrMalformed = errors.New("malformed frame")
)

// Inbound event types.
const (
	TypeRegister   = "register"
	TypeLogin      = "login"
	TypeIdentify   = "identify"
	TypeJoinRoom   = "join_room"
	TypeRename     = "rename"
	TypeUsers      = "users"
	TypeMessage    = "message"
	TypePrivate    = "private"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
)

// Outbound event types not shared with inbound ones.
const (
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeHistory     = "history"
	TypeSystem      = "system"
	TypeError       = "error"
)

// short names used by the web frontend
var aliases = map[string]string{
	"join": TypeJoinRoom,
	"nick": TypeRename,
}

// Event is one parsed inbound frame. The concrete type is one of the
// variants below.
type Event interface {
	Type() string
}

type Login struct {
	Username string
	Password string
	Register bool
}

type Identify struct {
	Username string
}

type JoinRoom struct {
	Room string
}

type Rename struct {
	Username string
}

type Users struct{}

type Message struct {
	Text string
}

type Private struct {
	To   string
	Text string
}

type Typing struct{}

type StopTyping struct{}

func (l Login) Type() string {
	if l.Register {
		return TypeRegister
	}
	return TypeLogin
}
func (Identify) Type() string   { return TypeIdentify }
func (JoinRoom) Type() string   { return TypeJoinRoom }
func (Rename) Type() string     { return TypeRename }
func (Users) Type() string      { return TypeUsers }
func (Message) Type() string    { return TypeMessage }
func (Private) Type() string    { return TypePrivate }
func (Typing) Type() string     { return TypeTyping }
func (StopTyping) Type() string { return TypeStopTyping }

// envelope holds every field any inbound variant may carry. Pointers tell a
// missing field apart from an empty one.
type envelope struct {
	Type     string  `json:"type"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Room     *string `json:"room"`
	Text     *string `json:"text"`
	To       *string `json:"to"`
}

// Parse decodes a frame into its event variant. A frame that is not a JSON
// object, names an unknown type or lacks a required field yields ErrMalformed.
func Parse(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, ErrMalformed
	}

	typ := env.Type
	if alias, ok := aliases[typ]; ok {
		typ = alias
	}

	switch typ {
	case TypeRegister, TypeLogin:
		if env.Username == nil || env.Password == nil {
			return nil, ErrMalformed
		}
		return Login{Username: *env.Username, Password: *env.Password, Register: typ == TypeRegister}, nil
	case TypeIdentify:
		if env.Username == nil {
			return nil, ErrMalformed
		}
		return Identify{Username: *env.Username}, nil
	case TypeJoinRoom:
		if env.Room == nil {
			return nil, ErrMalformed
		}
		return JoinRoom{Room: *env.Room}, nil
	case TypeRename:
		if env.Username == nil {
			return nil, ErrMalformed
		}
		return Rename{Username: *env.Username}, nil
	case TypeUsers:
		return Users{}, nil
	case TypeMessage:
		if env.Text == nil {
			return nil, ErrMalformed
		}
		return Message{Text: *env.Text}, nil
	case TypePrivate:
		if env.To == nil || env.Text == nil {
			return nil, ErrMalformed
		}
		return Private{To: *env.To, Text: *env.Text}, nil
	case TypeTyping:
		return Typing{}, nil
	case TypeStopTyping:
		return StopTyping{}, nil
	}

	return nil, ErrMalformed
}

// Outbound events.

type AuthSuccess struct {
	Type        string `json:"type"`
	Username    string `json:"username"`
	Color       int    `json:"colorIndex"`
	Room        string `json:"room"`
	RenamesLeft int    `json:"renamesLeft"`
}

type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

type History struct {
	Type     string           `json:"type"`
	Room     string           `json:"room"`
	Messages []models.Message `json:"messages"`
}

type ChatMessage struct {
	Type string `json:"type"`
	models.Message
}

type PrivateMessage struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Color     int    `json:"colorIndex"`
	Timestamp int64  `json:"timestamp"`
}

type RosterEntry struct {
	Username string `json:"username"`
	Color    int    `json:"colorIndex"`
}

type Roster struct {
	Type  string        `json:"type"`
	Room  string        `json:"room"`
	Users []RosterEntry `json:"users"`
}

type Presence struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Username string `json:"username"`
}

func NewAuthSuccess(username string, color int, room string, renamesLeft int) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, Username: username, Color: color, Room: room, RenamesLeft: renamesLeft}
}

func NewAuthError(message string) Notice {
	return Notice{Type: TypeAuthError, Message: message}
}

func NewSystem(room, message string) Notice {
	return Notice{Type: TypeSystem, Message: message, Room: room}
}

func NewError(message string) Notice {
	return Notice{Type: TypeError, Message: message}
}

func NewHistory(room string, messages []models.Message) History {
	if messages == nil {
		messages = []models.Message{}
	}
	return History{Type: TypeHistory, Room: room, Messages: messages}
}

func NewChatMessage(msg models.Message) ChatMessage {
	return ChatMessage{Type: TypeMessage, Message: msg}
}

func NewRoster(room string, users []RosterEntry) Roster {
	if users == nil {
		users = []RosterEntry{}
	}
	return Roster{Type: TypeUsers, Room: room, Users: users}
}

func NewTyping(room, username string, typing bool) Presence {
	typ := TypeStopTyping
	if typing {
		typ = TypeTyping
	}
	return Presence{Type: typ, Room: room, Username: username}
}

// Encode serializes an outbound event into a single text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
