package hub

import "errors"

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrAlreadyAuthed      = errors.New("already authenticated")
	ErrNameInvalid        = errors.New("invalid name")
	ErrNameTaken          = errors.New("name is already taken")
	ErrRenameLimit        = errors.New("rename limit exceeded")
	ErrUserOffline        = errors.New("user is not online")
	ErrSessionUnreachable = errors.New("session unreachable")
	ErrAlreadyInRoom      = errors.New("already in room")
	ErrRoomInvalid        = errors.New("invalid room name")
	ErrPersistence        = errors.New("persistence failure")
	ErrClosed             = errors.New("hub closed")
)
