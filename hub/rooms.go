package hub

import (
	"sort"
	"strings"
)

type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// RoomRegistry is the only record of room membership. Empty rooms are
// dropped and recreated on the next reference.
type RoomRegistry struct {
	rooms map[string]map[string]*Session
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]map[string]*Session)}
}

// Ensure returns the member set of room, creating it when absent.
func (r *RoomRegistry) Ensure(room string) map[string]*Session {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	return members
}

// Move transfers s into room and returns the room it left.
func (r *RoomRegistry) Move(s *Session, to string) (string, error) {
	from := s.Room
	if from == to {
		if _, ok := r.rooms[to][s.ID]; ok {
			return from, ErrAlreadyInRoom
		}
	}

	r.remove(s)
	r.Ensure(to)[s.ID] = s
	s.Room = to
	return from, nil
}

// Leave removes s from its room.
func (r *RoomRegistry) Leave(s *Session) {
	r.remove(s)
	s.Room = ""
}

func (r *RoomRegistry) remove(s *Session) {
	members, ok := r.rooms[s.Room]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(r.rooms, s.Room)
	}
}

func (r *RoomRegistry) Contains(room string, s *Session) bool {
	_, ok := r.rooms[room][s.ID]
	return ok
}

// Members returns the sessions of room ordered by display name, then ID.
func (r *RoomRegistry) Members(room string) []*Session {
	members := r.rooms[room]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName()), strings.ToLower(out[j].DisplayName())
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// each calls fn for every member of room in no particular order.
func (r *RoomRegistry) each(room string, fn func(*Session)) {
	for _, s := range r.rooms[room] {
		fn(s)
	}
}

// Rooms lists rooms that have at least one authenticated member.
func (r *RoomRegistry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for name, members := range r.rooms {
		n := 0
		for _, s := range members {
			if s.Authenticated {
				n++
			}
		}
		if n > 0 {
			out = append(out, RoomInfo{Name: name, Members: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
