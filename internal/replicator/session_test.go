package replicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/message"
)

func TestClaimLeadership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())

	require.NoError(t, peer.session.ClaimLeadership(ctx))
	assert.Equal(t, "alice", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())
	assert.Contains(t, peer.b.sentTypes(), message.TypeLeaderClaim)

	// claiming again is a no-op
	require.NoError(t, peer.session.ClaimLeadership(ctx))
	assert.Equal(t, "alice", peer.leaderId())
}

func TestClaimLeadershipConflict(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("bob", time.Now())

	peer.store.Lock()
	peer.store.Session.SetLeader("bob")
	peer.store.Unlock()

	err := peer.session.ClaimLeadership(ctx)
	require.ErrorIs(t, err, domain.ErrLeaderAlreadySet)
	assert.Equal(t, "bob", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())
}

func TestReleaseLeadership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())

	// releasing while not leader is a no-op
	require.NoError(t, peer.session.ReleaseLeadership(ctx))
	assert.NotContains(t, peer.b.sentTypes(), message.TypeLeaderRelease)

	require.NoError(t, peer.session.ClaimLeadership(ctx))
	require.NoError(t, peer.session.ReleaseLeadership(ctx))
	assert.Equal(t, "", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())
	assert.Contains(t, peer.b.sentTypes(), message.TypeLeaderRelease)
}

func TestOverrideLeadership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("bob", time.Now())

	peer.store.Lock()
	peer.store.Session.SetLeader("bob")
	peer.store.Unlock()

	err := peer.session.OverrideLeadership(ctx)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, "bob", peer.leaderId())

	owner := newTestPeer(domain.Identity{UserId: "carol", DisplayName: "Carol", IsOwner: true}, domain.QueueModeSingleLeader)
	owner.joinDirect(time.Now())
	owner.addMemberDirect("bob", time.Now())
	owner.store.Lock()
	owner.store.Session.SetLeader("bob")
	owner.store.Unlock()

	require.NoError(t, owner.session.OverrideLeadership(ctx))
	assert.Equal(t, "carol", owner.leaderId())
	assert.True(t, owner.assertSingleLeader())
}

func TestRequestApproveFlow(t *testing.T) {
	ctx := context.Background()
	leader := newTestPeer(domain.Identity{UserId: "x", DisplayName: "X"}, domain.QueueModeSingleLeader)
	leader.joinDirect(time.Now())
	leader.addMemberDirect("y", time.Now())
	require.NoError(t, leader.session.ClaimLeadership(ctx))

	// Y's request arrives at the leader
	msg, err := message.New(message.TypeLeaderRequest, "y", &message.LeaderRequestPayload{DisplayName: "Y"})
	require.NoError(t, err)
	require.NoError(t, leader.router.DispatchMessage(ctx, msg))

	leader.store.Lock()
	require.Len(t, leader.store.Session.PendingRequests, 1)
	assert.Equal(t, "y", leader.store.Session.PendingRequests[0].UserId)
	leader.store.Unlock()

	require.NoError(t, leader.session.ApproveRequest(ctx, "y"))
	assert.Equal(t, "y", leader.leaderId())
	leader.store.Lock()
	assert.Empty(t, leader.store.Session.PendingRequests)
	leader.store.Unlock()
	assert.True(t, leader.assertSingleLeader())
	assert.Contains(t, leader.b.sentTypes(), message.TypeLeaderApprove)
}

func TestDenyRequest(t *testing.T) {
	ctx := context.Background()
	leader := newTestPeer(domain.Identity{UserId: "x", DisplayName: "X"}, domain.QueueModeSingleLeader)
	leader.joinDirect(time.Now())
	require.NoError(t, leader.session.ClaimLeadership(ctx))

	msg, err := message.New(message.TypeLeaderRequest, "y", &message.LeaderRequestPayload{DisplayName: "Y"})
	require.NoError(t, err)
	require.NoError(t, leader.router.DispatchMessage(ctx, msg))

	require.NoError(t, leader.session.DenyRequest(ctx, "y"))
	assert.Equal(t, "x", leader.leaderId())
	leader.store.Lock()
	assert.Empty(t, leader.store.Session.PendingRequests)
	leader.store.Unlock()

	require.ErrorIs(t, leader.session.DenyRequest(ctx, "y"), ErrRequestNotFound)
}

func TestVacantRoleRequestAutoApproves(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("bob", time.Now())

	msg, err := message.New(message.TypeLeaderRequest, "bob", &message.LeaderRequestPayload{DisplayName: "Bob"})
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, msg))

	assert.Equal(t, "bob", peer.leaderId())
	assert.Contains(t, peer.b.sentTypes(), message.TypeLeaderApprove)
}

func TestHandoffLeadership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("bob", time.Now())

	require.ErrorIs(t, peer.session.HandoffLeadership(ctx, "bob"), domain.ErrNotLeader)

	require.NoError(t, peer.session.ClaimLeadership(ctx))
	require.ErrorIs(t, peer.session.HandoffLeadership(ctx, "ghost"), domain.ErrMemberNotFound)

	require.NoError(t, peer.session.HandoffLeadership(ctx, "bob"))
	assert.Equal(t, "bob", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())
}

func TestRemoveLeaderClearsRole(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("bob", time.Now())

	peer.store.Lock()
	peer.store.Session.SetLeader("bob")
	peer.store.Unlock()

	peer.session.RemoveMember(ctx, "bob")
	assert.Equal(t, "", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())
}

func TestHeartbeatActivityEviction(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "leader", DisplayName: "L"}, domain.QueueModeSingleLeader)

	now := time.Now()
	peer.session.now = func() time.Time { return now }
	peer.joinDirect(now)
	require.NoError(t, peer.session.ClaimLeadership(ctx))

	// old enough to be evictable, fresh enough to stay in grace
	peer.addMemberDirect("stale", now.Add(-time.Minute))
	peer.addMemberDirect("fresh", now.Add(-time.Second))
	peer.addMemberDirect("alive", now.Add(-time.Minute))

	for i := 0; i < 3; i++ {
		require.NoError(t, peer.session.ProcessHeartbeatActivity(ctx, "leader", []string{"alive"}))
	}

	peer.store.Lock()
	assert.False(t, peer.store.Session.Members.Contains("stale"), "stale member must be evicted")
	assert.True(t, peer.store.Session.Members.Contains("fresh"), "member inside grace window must survive")
	assert.True(t, peer.store.Session.Members.Contains("alive"))
	assert.True(t, peer.store.Session.Members.Contains("leader"))
	peer.store.Unlock()

	cleanup := peer.b.lastOfType(message.TypeMemberCleanup)
	require.NotNil(t, cleanup)
	var payload message.MemberCleanupPayload
	require.NoError(t, cleanup.DecodeData(&payload))
	assert.Equal(t, []string{"stale"}, payload.RemovedIds)
}

func TestHeartbeatActivityEvictsLeader(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "me", DisplayName: "Me"}, domain.QueueModeSingleLeader)

	now := time.Now()
	peer.session.now = func() time.Time { return now }
	peer.joinDirect(now)
	peer.addMemberDirect("dj", now.Add(-time.Minute))
	peer.store.Lock()
	peer.store.Session.SetLeader("dj")
	peer.store.Unlock()

	// the old leader stopped heartbeating; liveness rounds are now run
	// against a newly claimed leader elsewhere
	for i := 0; i < 3; i++ {
		require.NoError(t, peer.session.ProcessHeartbeatActivity(ctx, "me", []string{}))
	}

	assert.Equal(t, "", peer.leaderId())
	peer.store.Lock()
	assert.False(t, peer.store.Session.Members.Contains("dj"))
	peer.store.Unlock()
}

func TestGhostCorrectionOnReload(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "b", DisplayName: "B"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())

	// durable member list only knows about A: peer B was evicted while
	// disconnected
	require.NoError(t, peer.durable.SaveMembers(ctx, []domain.Member{
		{UserId: "a", DisplayName: "A", IsActive: true},
	}))

	require.NoError(t, peer.session.LoadFromDurable(ctx))

	peer.store.Lock()
	assert.False(t, peer.store.Session.HasJoined)
	assert.Equal(t, domain.ConnectionDisconnected, peer.store.Session.Connection)
	assert.True(t, peer.store.Session.Members.Contains("a"))
	assert.False(t, peer.store.Session.Members.Contains("b"))
	peer.store.Unlock()
}

func TestReloadPreservesJoinWhenStillMember(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "b", DisplayName: "B"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())

	require.NoError(t, peer.durable.SaveMembers(ctx, []domain.Member{
		{UserId: "a", DisplayName: "A", IsActive: true},
		{UserId: "b", DisplayName: "B", IsActive: true},
	}))
	leaderId := "a"
	require.NoError(t, peer.durable.SaveLeader(ctx, &leaderId))

	require.NoError(t, peer.session.LoadFromDurable(ctx))

	peer.store.Lock()
	assert.True(t, peer.store.Session.HasJoined)
	assert.Equal(t, domain.ConnectionConnected, peer.store.Session.Connection)
	peer.store.Unlock()
	assert.Equal(t, "a", peer.leaderId())
}

func TestSelfEchoSuppressedOnMembership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	require.NoError(t, peer.session.Join(ctx))

	// the relay echoes our own join back
	echo := peer.b.lastOfType(message.TypeUserJoin)
	require.NotNil(t, echo)
	require.NoError(t, peer.router.DispatchMessage(ctx, echo))

	peer.store.Lock()
	assert.Equal(t, 1, peer.store.Session.Members.Len())
	peer.store.Unlock()
}

func TestRedeliveredJoinKeepsLeaderFlag(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "fan", DisplayName: "Fan"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("dj", time.Now())

	peer.store.Lock()
	peer.store.Session.SetLeader("dj")
	peer.store.Unlock()

	// the relay re-delivers the leader's join announcement
	msg, err := message.New(message.TypeUserJoin, "dj", &message.UserJoinPayload{DisplayName: "DJ"})
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, msg))

	peer.store.Lock()
	dj, _, ok := peer.store.Session.Members.GetById("dj")
	peer.store.Unlock()
	require.True(t, ok)
	assert.True(t, dj.IsLeader)
	assert.Equal(t, "dj", peer.leaderId())
}

func TestLocalRejoinKeepsLeaderFlag(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "dj", DisplayName: "DJ"}, domain.QueueModeSingleLeader)
	require.NoError(t, peer.session.Join(ctx))
	require.NoError(t, peer.session.ClaimLeadership(ctx))

	// a reconnect re-announces the local member
	require.NoError(t, peer.session.Join(ctx))

	peer.store.Lock()
	me, _, ok := peer.store.Session.Members.GetById("dj")
	peer.store.Unlock()
	require.True(t, ok)
	assert.True(t, me.IsLeader)
	assert.True(t, peer.assertSingleLeader())
}

func TestMemberCleanupAppliedSymmetrically(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "me", DisplayName: "Me"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("gone", time.Now())

	msg, err := message.New(message.TypeMemberCleanup, "leader", &message.MemberCleanupPayload{RemovedIds: []string{"gone"}})
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, msg))

	peer.store.Lock()
	assert.False(t, peer.store.Session.Members.Contains("gone"))
	peer.store.Unlock()
}

func TestMemberCleanupEvictingSelfResetsJoinFlags(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "me", DisplayName: "Me"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())

	msg, err := message.New(message.TypeMemberCleanup, "leader", &message.MemberCleanupPayload{RemovedIds: []string{"me"}})
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, msg))

	peer.store.Lock()
	assert.False(t, peer.store.Session.HasJoined)
	assert.Equal(t, domain.ConnectionDisconnected, peer.store.Session.Connection)
	peer.store.Unlock()
}

func TestLastMessageWinsLeadership(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "me", DisplayName: "Me"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.addMemberDirect("a", time.Now())
	peer.addMemberDirect("b", time.Now())

	claimA, err := message.New(message.TypeLeaderClaim, "a", nil)
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, claimA))
	assert.Equal(t, "a", peer.leaderId())

	overrideB, err := message.New(message.TypeLeaderOverride, "b", nil)
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, overrideB))
	assert.Equal(t, "b", peer.leaderId())
	assert.True(t, peer.assertSingleLeader())

	// stale release from a non-leader is ignored
	release, err := message.New(message.TypeLeaderRelease, "a", nil)
	require.NoError(t, err)
	require.NoError(t, peer.router.DispatchMessage(ctx, release))
	assert.Equal(t, "b", peer.leaderId())
}

func TestBroadcastFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	peer := newTestPeer(domain.Identity{UserId: "alice", DisplayName: "Alice"}, domain.QueueModeSingleLeader)
	peer.joinDirect(time.Now())
	peer.b.err = assert.AnError

	err := peer.session.ClaimLeadership(ctx)
	require.Error(t, err)
	assert.Equal(t, "alice", peer.leaderId(), "optimistic local mutation must survive a failed broadcast")
}
