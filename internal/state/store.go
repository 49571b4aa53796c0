package state

import (
	"sync"

	"github.com/sessiondj/peer/internal/domain"
)

// Store is the replicated state for one peer: session membership,
// queue and playback, created at session start and passed to every
// replicator. Each structure has exactly one writer component; cross
// reads are fine. The mutex serializes all mutation so the replicators
// behave like a single cooperative task queue.
type Store struct {
	mu sync.Mutex

	Session  domain.SessionState
	Queue    domain.QueueState
	Playback domain.PlaybackState

	observers observers
}

type Config struct {
	QueueMode      domain.QueueMode
	DriftTolerance float64
}

func New(cfg *Config) *Store {
	return &Store{
		Session:  domain.NewSessionState(),
		Queue:    domain.NewQueueState(cfg.QueueMode),
		Playback: domain.NewPlaybackState(cfg.DriftTolerance),
	}
}

func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// Snapshot returns copies of the session and queue state, taken under
// the lock, safe to hand to the HTTP surface or a state response.
func (s *Store) Snapshot() (domain.SessionState, domain.QueueState, domain.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.Session
	session.Members = domain.Members{}
	session.Members.Replace(s.Session.Members.AsList())
	session.PendingRequests = append([]domain.LeaderRequest(nil), s.Session.PendingRequests...)

	queue := s.Queue
	queue.Items = append([]domain.QueueItem(nil), s.Queue.Items...)

	return session, queue, s.Playback
}
