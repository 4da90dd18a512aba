package hub

import (
	"github.com/rs/zerolog"

	"roomhub/protocol"
)

// BroadcastRouter fans events out to session outbound queues. It never
// blocks on a slow peer.
type BroadcastRouter struct {
	rooms *RoomRegistry
	log   zerolog.Logger
}

func NewBroadcastRouter(rooms *RoomRegistry, logger zerolog.Logger) *BroadcastRouter {
	return &BroadcastRouter{rooms: rooms, log: logger}
}

// BroadcastToRoom delivers event to every authenticated member of room
// except excludeID and returns how many sessions accepted it.
func (r *BroadcastRouter) BroadcastToRoom(room string, event any, excludeID string) int {
	frame, err := protocol.Encode(event)
	if err != nil {
		r.log.Error().Err(err).Str("room", room).Msg("encode broadcast")
		return 0
	}

	delivered := 0
	r.rooms.each(room, func(s *Session) {
		if s.ID == excludeID || !s.Authenticated {
			return
		}
		if err := s.deliver(frame); err != nil {
			r.log.Warn().Err(err).Str("room", room).Str("session", s.ID).Str("user", s.Name).Msg("skipping peer")
			return
		}
		delivered++
	})
	return delivered
}

func (r *BroadcastRouter) SendToSession(s *Session, event any) error {
	frame, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	return s.deliver(frame)
}
