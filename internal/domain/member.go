package domain

import (
	"time"

	"golang.org/x/exp/slices"
)

// Identity is the local peer's view of itself, provided by the host at
// startup. IsOwner marks the session owner, the only role allowed to
// override leadership.
type Identity struct {
	UserId      string
	DisplayName string
	IsOwner     bool
}

type Member struct {
	UserId           string    `json:"user_id"`
	DisplayName      string    `json:"display_name"`
	IsLeader         bool      `json:"is_leader"`
	IsActive         bool      `json:"is_active"`
	MissedHeartbeats int       `json:"missed_heartbeats"`
	LastActivity     time.Time `json:"last_activity"`
}

// Members is an insertion-ordered set of members keyed by user id.
// Order is kept stable so cleanup payloads and snapshots are
// deterministic across peers.
type Members struct {
	list []Member
}

func (m *Members) Len() int {
	return len(m.list)
}

func (m *Members) AsList() []Member {
	out := make([]Member, len(m.list))
	copy(out, m.list)
	return out
}

func (m *Members) GetById(userId string) (Member, int, bool) {
	for index, member := range m.list {
		if member.UserId == userId {
			return member, index, true
		}
	}

	return Member{}, 0, false
}

func (m *Members) Contains(userId string) bool {
	_, _, ok := m.GetById(userId)
	return ok
}

// Upsert inserts member or updates the existing entry in place,
// preserving its position. Returns true if the member was new.
func (m *Members) Upsert(member Member) bool {
	if _, index, ok := m.GetById(member.UserId); ok {
		m.list[index] = member
		return false
	}

	m.list = append(m.list, member)
	return true
}

func (m *Members) RemoveById(userId string) (Member, bool) {
	member, index, ok := m.GetById(userId)
	if !ok {
		return Member{}, false
	}

	m.list = slices.Delete(m.list, index, index+1)
	return member, true
}

// Update applies fn to the member with the given id, if present.
func (m *Members) Update(userId string, fn func(*Member)) bool {
	_, index, ok := m.GetById(userId)
	if !ok {
		return false
	}

	fn(&m.list[index])
	return true
}

// Each applies fn to every member in insertion order.
func (m *Members) Each(fn func(*Member)) {
	for i := range m.list {
		fn(&m.list[i])
	}
}

// Replace swaps the whole set. Used when reloading a durable snapshot
// or applying a remote state response.
func (m *Members) Replace(list []Member) {
	m.list = make([]Member, len(list))
	copy(m.list, list)
}
