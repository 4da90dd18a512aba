package hub

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NicknameDirectory enforces display-name rules. It holds no names of its
// own; membership is read from the live session table on every call.
type NicknameDirectory struct {
	MinLength  int
	MaxLength  int
	MaxChanges int
}

type RenameResult struct {
	Old       string
	New       string
	Remaining int
}

// reservedRunes separate fields in the control socket's stats line.
const reservedRunes = ",;=|:"

// Validate checks length bounds and rejects control, whitespace and
// reserved runes.
func (d NicknameDirectory) Validate(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n < d.MinLength || (d.MaxLength > 0 && n > d.MaxLength) {
		return ErrNameInvalid
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == utf8.RuneError || strings.ContainsRune(reservedRunes, r) {
			return ErrNameInvalid
		}
	}
	return nil
}

// IsTaken reports whether an authenticated session other than except
// already uses name, compared case-insensitively.
func (d NicknameDirectory) IsTaken(sessions map[string]*Session, name string, except *Session) bool {
	for _, s := range sessions {
		if s == except || !s.Authenticated {
			continue
		}
		if strings.EqualFold(s.Name, name) {
			return true
		}
	}
	return false
}

func (d NicknameDirectory) Remaining(s *Session) int {
	if left := d.MaxChanges - s.Renames; left > 0 {
		return left
	}
	return 0
}

// Rename applies newName to s. The limit is checked first so an exhausted
// session is refused whatever it asks for.
func (d NicknameDirectory) Rename(sessions map[string]*Session, s *Session, newName string) (RenameResult, error) {
	if s.Renames >= d.MaxChanges {
		return RenameResult{}, ErrRenameLimit
	}

	newName = strings.TrimSpace(newName)
	if err := d.Validate(newName); err != nil {
		return RenameResult{}, err
	}
	if d.IsTaken(sessions, newName, s) {
		return RenameResult{}, ErrNameTaken
	}

	res := RenameResult{Old: s.Name, New: newName}
	s.Name = newName
	s.Renames++
	res.Remaining = d.Remaining(s)
	return res, nil
}
