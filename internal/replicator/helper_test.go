package replicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/player"
	"github.com/sessiondj/peer/internal/state"
	"github.com/sessiondj/peer/internal/store"
	"github.com/sessiondj/peer/pkg/msgrouter"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []*msgrouter.Message
	err  error
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, msg *msgrouter.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *fakeBroadcaster) sentTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]string, 0, len(b.sent))
	for _, msg := range b.sent {
		types = append(types, msg.Type)
	}
	return types
}

func (b *fakeBroadcaster) lastOfType(messageType string) *msgrouter.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.sent) - 1; i >= 0; i-- {
		if b.sent[i].Type == messageType {
			return b.sent[i]
		}
	}
	return nil
}

type fakeDurable struct {
	mu      sync.Mutex
	leader  *string
	members []domain.Member
	queue   *store.QueueSnapshot
}

func (d *fakeDurable) SaveLeader(_ context.Context, leaderId *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leader = leaderId
	return nil
}

func (d *fakeDurable) LoadLeader(_ context.Context) (*string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.leader == nil {
		return nil, store.ErrNotFound
	}
	return d.leader, nil
}

func (d *fakeDurable) SaveMembers(_ context.Context, members []domain.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members = members
	return nil
}

func (d *fakeDurable) LoadMembers(_ context.Context) ([]domain.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members == nil {
		return nil, store.ErrNotFound
	}
	return d.members, nil
}

func (d *fakeDurable) SaveQueue(_ context.Context, snapshot *store.QueueSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = snapshot
	return nil
}

func (d *fakeDurable) LoadQueue(_ context.Context) (*store.QueueSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return nil, store.ErrNotFound
	}
	return d.queue, nil
}

type fakePlayer struct {
	mu       sync.Mutex
	status   player.Status
	commands []string
}

func (p *fakePlayer) record(command string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, command)
}

func (p *fakePlayer) Load(_ context.Context, contentId string) error {
	p.record("load:" + contentId)
	p.mu.Lock()
	p.status.ContentId = contentId
	p.status.PositionSeconds = 0
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) LoadPlaylist(_ context.Context, playlistId string, _ int) error {
	p.record("load_playlist:" + playlistId)
	return nil
}

func (p *fakePlayer) Play(ctx context.Context) error {
	p.record("play")
	p.mu.Lock()
	p.status.IsPlaying = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Pause(ctx context.Context) error {
	p.record("pause")
	p.mu.Lock()
	p.status.IsPlaying = false
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Seek(_ context.Context, positionSeconds float64) error {
	p.record("seek")
	p.mu.Lock()
	p.status.PositionSeconds = positionSeconds
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Status(_ context.Context) (player.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *fakePlayer) commandLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

type testPeer struct {
	identity  domain.Identity
	store     *state.Store
	session   *SessionReplicator
	queue     *QueueReplicator
	heartbeat *HeartbeatSynchronizer
	router    *msgrouter.Router
	b         *fakeBroadcaster
	durable   *fakeDurable
	player    *fakePlayer
}

func testConfig() *Config {
	return &Config{
		HeartbeatInterval: 5 * time.Second,
		GraceWindow:       30 * time.Second,
		MissedThreshold:   3,
	}
}

func newTestPeer(identity domain.Identity, mode domain.QueueMode) *testPeer {
	logger := slog.Default()
	st := state.New(&state.Config{QueueMode: mode, DriftTolerance: 2.0})
	b := &fakeBroadcaster{}
	durable := &fakeDurable{}
	pc := &fakePlayer{}

	session := NewSessionReplicator(st, b, durable, identity, testConfig(), logger)
	heartbeat := NewHeartbeatSynchronizer(st, b, pc, session, identity, testConfig(), logger)
	queue := NewQueueReplicator(st, b, durable, pc, heartbeat, identity, logger)

	return &testPeer{
		identity:  identity,
		store:     st,
		session:   session,
		queue:     queue,
		heartbeat: heartbeat,
		router:    NewRouter(session, queue, heartbeat),
		b:         b,
		durable:   durable,
		player:    pc,
	}
}

// joinDirect seeds the local peer as a joined member without
// broadcasting, for tests that build a known member set.
func (p *testPeer) joinDirect(now time.Time) {
	p.store.Lock()
	p.store.Session.Members.Upsert(domain.Member{
		UserId:       p.identity.UserId,
		DisplayName:  p.identity.DisplayName,
		IsActive:     true,
		LastActivity: now,
	})
	p.store.Session.HasJoined = true
	p.store.Session.Connection = domain.ConnectionConnected
	p.store.Unlock()
}

func (p *testPeer) addMemberDirect(userId string, lastActivity time.Time) {
	p.store.Lock()
	p.store.Session.Members.Upsert(domain.Member{
		UserId:       userId,
		DisplayName:  userId,
		IsActive:     true,
		LastActivity: lastActivity,
	})
	p.store.Unlock()
}

func (p *testPeer) leaderId() string {
	p.store.Lock()
	defer p.store.Unlock()
	if p.store.Session.LeaderId == nil {
		return ""
	}
	return *p.store.Session.LeaderId
}

// assertSingleLeader verifies the leader invariant: leaderId and the
// member flags always agree, with at most one flagged member.
func (p *testPeer) assertSingleLeader() bool {
	p.store.Lock()
	defer p.store.Unlock()

	flagged := 0
	consistent := true
	p.store.Session.Members.Each(func(m *domain.Member) {
		if m.IsLeader {
			flagged++
			if p.store.Session.LeaderId == nil || *p.store.Session.LeaderId != m.UserId {
				consistent = false
			}
		}
	})

	if p.store.Session.LeaderId == nil {
		return flagged == 0
	}
	return flagged <= 1 && consistent
}
