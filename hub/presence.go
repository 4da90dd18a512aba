package hub

// PresenceTracker remembers which sessions are typing, per room. The bool
// results tell the caller whether peers need to hear about a change.
type PresenceTracker struct {
	typing map[string]map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{typing: make(map[string]map[string]struct{})}
}

func (p *PresenceTracker) StartTyping(s *Session) bool {
	room, ok := p.typing[s.Room]
	if !ok {
		room = make(map[string]struct{})
		p.typing[s.Room] = room
	}
	if _, already := room[s.ID]; already {
		return false
	}
	room[s.ID] = struct{}{}
	return true
}

func (p *PresenceTracker) StopTyping(s *Session) bool {
	room, ok := p.typing[s.Room]
	if !ok {
		return false
	}
	if _, typing := room[s.ID]; !typing {
		return false
	}
	delete(room, s.ID)
	if len(room) == 0 {
		delete(p.typing, s.Room)
	}
	return true
}

// Clear drops the typing flag of s in its current room without reporting it.
// Peers learn from the leave notice instead.
func (p *PresenceTracker) Clear(s *Session) {
	p.StopTyping(s)
}

func (p *PresenceTracker) IsTyping(s *Session) bool {
	_, ok := p.typing[s.Room][s.ID]
	return ok
}
