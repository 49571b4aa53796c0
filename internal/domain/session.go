package domain

import (
	"time"

	"golang.org/x/exp/slices"
)

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

type LeaderRequest struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RequestedAt time.Time `json:"requested_at"`
}

// SessionState is the local replica of session membership and
// leadership. Written only by the session replicator.
type SessionState struct {
	LeaderId        *string
	Members         Members
	PendingRequests []LeaderRequest
	HasJoined       bool
	Connection      ConnectionStatus
}

func NewSessionState() SessionState {
	return SessionState{
		Connection: ConnectionDisconnected,
	}
}

func (s *SessionState) Leader() (Member, bool) {
	if s.LeaderId == nil {
		return Member{}, false
	}

	member, _, ok := s.Members.GetById(*s.LeaderId)
	return member, ok
}

// SetLeader reassigns leadership to userId, clearing the flag on every
// other member and dropping all pending requests. Passing "" vacates
// the role.
func (s *SessionState) SetLeader(userId string) {
	if userId == "" {
		s.LeaderId = nil
	} else {
		id := userId
		s.LeaderId = &id
	}

	s.Members.Each(func(m *Member) {
		m.IsLeader = m.UserId == userId
	})
	s.PendingRequests = nil
}

func (s *SessionState) IsLeader(userId string) bool {
	return s.LeaderId != nil && *s.LeaderId == userId
}

func (s *SessionState) AppendRequest(req LeaderRequest) bool {
	if slices.ContainsFunc(s.PendingRequests, func(r LeaderRequest) bool {
		return r.UserId == req.UserId
	}) {
		return false
	}

	s.PendingRequests = append(s.PendingRequests, req)
	return true
}

func (s *SessionState) RemoveRequest(userId string) bool {
	index := slices.IndexFunc(s.PendingRequests, func(r LeaderRequest) bool {
		return r.UserId == userId
	})
	if index < 0 {
		return false
	}

	s.PendingRequests = slices.Delete(s.PendingRequests, index, index+1)
	return true
}
