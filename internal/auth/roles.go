package auth

import "sort"

// Role is what a Telegram user may do in the bot.
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// AdminSet is the static allow-list of administrator Telegram ids.
type AdminSet struct {
	ids map[int64]struct{}
}

// NewAdminSet builds an AdminSet from ids. Duplicates and non-positive ids are ignored.
func NewAdminSet(ids []int64) *AdminSet {
	s := &AdminSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		if id > 0 {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// IsAdmin reports whether userID is an administrator.
func (s *AdminSet) IsAdmin(userID int64) bool {
	_, ok := s.ids[userID]
	return ok
}

// RoleOf returns the role of userID.
func (s *AdminSet) RoleOf(userID int64) Role {
	if s.IsAdmin(userID) {
		return RoleAdmin
	}
	return RoleStaff
}

// IDs returns the administrator ids in ascending order.
func (s *AdminSet) IDs() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of administrators.
func (s *AdminSet) Len() int { return len(s.ids) }
