package state

import "github.com/sessiondj/peer/internal/domain"

// Typed notification hooks for the excluded UI layer. Registration is
// optional; firing with no subscribers is a no-op. Callbacks run on the
// mutating goroutine and must not call back into the replicators.
type observers struct {
	memberJoined []func(domain.Member)
	memberLeft   []func(userId string)
	leaderChange []func(oldId, newId string)
	queueChange  []func(items []domain.QueueItem, currentIndex int)
	heartbeat    []func(domain.PlaybackState)
	changed      []func()
}

func (s *Store) OnMemberJoined(fn func(domain.Member)) {
	s.observers.memberJoined = append(s.observers.memberJoined, fn)
}

func (s *Store) OnMemberLeft(fn func(userId string)) {
	s.observers.memberLeft = append(s.observers.memberLeft, fn)
}

func (s *Store) OnLeaderChanged(fn func(oldId, newId string)) {
	s.observers.leaderChange = append(s.observers.leaderChange, fn)
}

func (s *Store) OnQueueChanged(fn func(items []domain.QueueItem, currentIndex int)) {
	s.observers.queueChange = append(s.observers.queueChange, fn)
}

func (s *Store) OnHeartbeatProcessed(fn func(domain.PlaybackState)) {
	s.observers.heartbeat = append(s.observers.heartbeat, fn)
}

// OnChanged fires after any replicated-state mutation, alongside the
// narrower hook for that mutation.
func (s *Store) OnChanged(fn func()) {
	s.observers.changed = append(s.observers.changed, fn)
}

func (s *Store) NotifyMemberJoined(m domain.Member) {
	for _, fn := range s.observers.memberJoined {
		fn(m)
	}
	s.notifyChanged()
}

func (s *Store) NotifyMemberLeft(userId string) {
	for _, fn := range s.observers.memberLeft {
		fn(userId)
	}
	s.notifyChanged()
}

func (s *Store) NotifyLeaderChanged(oldId, newId string) {
	for _, fn := range s.observers.leaderChange {
		fn(oldId, newId)
	}
	s.notifyChanged()
}

func (s *Store) NotifyQueueChanged(items []domain.QueueItem, currentIndex int) {
	for _, fn := range s.observers.queueChange {
		fn(items, currentIndex)
	}
	s.notifyChanged()
}

func (s *Store) NotifyHeartbeatProcessed(p domain.PlaybackState) {
	for _, fn := range s.observers.heartbeat {
		fn(p)
	}
	s.notifyChanged()
}

func (s *Store) notifyChanged() {
	for _, fn := range s.observers.changed {
		fn()
	}
}
