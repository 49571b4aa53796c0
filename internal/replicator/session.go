package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/slices"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/message"
	"github.com/sessiondj/peer/internal/state"
	"github.com/sessiondj/peer/internal/store"
	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
	"github.com/sessiondj/peer/pkg/validator"
)

var ErrRequestNotFound = errors.New("leadership request not found")

// SessionReplicator converges membership and leadership across peers.
// It is the only writer of SessionState.
type SessionReplicator struct {
	store       *state.Store
	broadcaster transport.Broadcaster
	durable     iDurableStore
	identity    domain.Identity
	cfg         *Config
	logger      *slog.Logger
	validate    *validator.Validator

	now func() time.Time
}

func NewSessionReplicator(st *state.Store, b transport.Broadcaster, durable iDurableStore, identity domain.Identity, cfg *Config, logger *slog.Logger) *SessionReplicator {
	return &SessionReplicator{
		store:       st,
		broadcaster: b,
		durable:     durable,
		identity:    identity,
		cfg:         cfg,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Join registers the local peer in the member set and announces it.
func (r *SessionReplicator) Join(ctx context.Context) error {
	now := r.now()
	member := domain.Member{
		UserId:       r.identity.UserId,
		DisplayName:  r.identity.DisplayName,
		IsActive:     true,
		LastActivity: now,
	}

	r.store.Lock()
	member.IsLeader = r.store.Session.IsLeader(member.UserId)
	r.store.Session.Members.Upsert(member)
	r.store.Session.HasJoined = true
	r.store.Session.Connection = domain.ConnectionConnected
	members := r.store.Session.Members.AsList()
	r.store.Unlock()

	r.store.NotifyMemberJoined(member)
	r.persistMembers(ctx, members)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeUserJoin, r.identity.UserId, &message.UserJoinPayload{
		DisplayName: r.identity.DisplayName,
	})
}

// Leave removes the local peer, releasing leadership first if held.
func (r *SessionReplicator) Leave(ctx context.Context) error {
	if err := r.ReleaseLeadership(ctx); err != nil {
		return err
	}

	r.store.Lock()
	r.store.Session.Members.RemoveById(r.identity.UserId)
	r.store.Session.HasJoined = false
	r.store.Session.Connection = domain.ConnectionDisconnected
	members := r.store.Session.Members.AsList()
	r.store.Unlock()

	r.store.NotifyMemberLeft(r.identity.UserId)
	r.persistMembers(ctx, members)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeUserLeave, r.identity.UserId, nil)
}

// ClaimLeadership takes the vacant leader role. It fails when any
// other member already holds it and is a no-op when the caller does.
func (r *SessionReplicator) ClaimLeadership(ctx context.Context) error {
	r.store.Lock()
	if r.store.Session.IsLeader(r.identity.UserId) {
		r.store.Unlock()
		return nil
	}
	if r.store.Session.LeaderId != nil {
		r.store.Unlock()
		return domain.ErrLeaderAlreadySet
	}

	oldId := leaderOrEmpty(&r.store.Session)
	r.store.Session.SetLeader(r.identity.UserId)
	r.store.Unlock()

	r.store.NotifyLeaderChanged(oldId, r.identity.UserId)
	r.persistLeader(ctx, &r.identity.UserId)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderClaim, r.identity.UserId, nil)
}

// OverrideLeadership unconditionally reassigns leadership to the
// caller. Only the session owner may do this.
func (r *SessionReplicator) OverrideLeadership(ctx context.Context) error {
	if !r.identity.IsOwner {
		return domain.ErrPermissionDenied
	}

	r.store.Lock()
	oldId := leaderOrEmpty(&r.store.Session)
	r.store.Session.SetLeader(r.identity.UserId)
	r.store.Unlock()

	r.store.NotifyLeaderChanged(oldId, r.identity.UserId)
	r.persistLeader(ctx, &r.identity.UserId)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderOverride, r.identity.UserId, nil)
}

// ReleaseLeadership vacates the role. The role stays vacant until
// someone claims it; there is no automatic re-claim. No-op when the
// caller is not the leader.
func (r *SessionReplicator) ReleaseLeadership(ctx context.Context) error {
	r.store.Lock()
	if !r.store.Session.IsLeader(r.identity.UserId) {
		r.store.Unlock()
		return nil
	}

	r.store.Session.SetLeader("")
	r.store.Unlock()

	r.store.NotifyLeaderChanged(r.identity.UserId, "")
	r.persistLeader(ctx, nil)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderRelease, r.identity.UserId, nil)
}

// RequestLeadership asks the current leader for a handoff. A vacant
// role short-circuits to a claim only for the session owner;
// everyone else goes through the request flow even when the role is
// vacant, so two claimants racing for it resolve at the peers instead.
func (r *SessionReplicator) RequestLeadership(ctx context.Context) error {
	r.store.Lock()
	vacant := r.store.Session.LeaderId == nil
	r.store.Unlock()

	if vacant && r.identity.IsOwner {
		return r.ClaimLeadership(ctx)
	}

	r.store.Lock()
	r.store.Session.AppendRequest(domain.LeaderRequest{
		UserId:      r.identity.UserId,
		DisplayName: r.identity.DisplayName,
		RequestedAt: r.now(),
	})
	r.store.Unlock()

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderRequest, r.identity.UserId, &message.LeaderRequestPayload{
		DisplayName: r.identity.DisplayName,
	})
}

// ApproveRequest hands leadership to a pending requester. Leader only.
func (r *SessionReplicator) ApproveRequest(ctx context.Context, userId string) error {
	r.store.Lock()
	if !r.store.Session.IsLeader(r.identity.UserId) {
		r.store.Unlock()
		return domain.ErrNotLeader
	}
	if !r.store.Session.RemoveRequest(userId) {
		r.store.Unlock()
		return ErrRequestNotFound
	}

	oldId := leaderOrEmpty(&r.store.Session)
	r.store.Session.SetLeader(userId)
	r.store.Unlock()

	r.store.NotifyLeaderChanged(oldId, userId)
	r.persistLeader(ctx, &userId)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderApprove, r.identity.UserId, &message.LeaderApprovePayload{
		RequesterId: userId,
	})
}

// DenyRequest drops a pending leadership request. Leader only.
func (r *SessionReplicator) DenyRequest(ctx context.Context, userId string) error {
	r.store.Lock()
	if !r.store.Session.IsLeader(r.identity.UserId) {
		r.store.Unlock()
		return domain.ErrNotLeader
	}
	if !r.store.Session.RemoveRequest(userId) {
		r.store.Unlock()
		return ErrRequestNotFound
	}
	r.store.Unlock()

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderDeny, r.identity.UserId, &message.LeaderDenyPayload{
		RequesterId: userId,
	})
}

// HandoffLeadership reassigns leadership to a known active member.
// Leader only.
func (r *SessionReplicator) HandoffLeadership(ctx context.Context, targetUserId string) error {
	r.store.Lock()
	if !r.store.Session.IsLeader(r.identity.UserId) {
		r.store.Unlock()
		return domain.ErrNotLeader
	}

	target, _, ok := r.store.Session.Members.GetById(targetUserId)
	if !ok {
		r.store.Unlock()
		return domain.ErrMemberNotFound
	}
	if !target.IsActive {
		r.store.Unlock()
		return domain.ErrMemberNotFound
	}

	oldId := leaderOrEmpty(&r.store.Session)
	r.store.Session.SetLeader(targetUserId)
	r.store.Unlock()

	r.store.NotifyLeaderChanged(oldId, targetUserId)
	r.persistLeader(ctx, &targetUserId)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderHandoff, r.identity.UserId, &message.LeaderHandoffPayload{
		TargetId: targetUserId,
	})
}

// AddMember upserts a member keyed by user id.
func (r *SessionReplicator) AddMember(ctx context.Context, member domain.Member) {
	r.store.Lock()
	// a re-observed join must not wipe the leader flag on an existing entry
	member.IsLeader = r.store.Session.IsLeader(member.UserId)
	isNew := r.store.Session.Members.Upsert(member)
	members := r.store.Session.Members.AsList()
	r.store.Unlock()

	if isNew {
		r.store.NotifyMemberJoined(member)
	}
	r.persistMembers(ctx, members)
}

// RemoveMember deletes a member. A removed leader leaves the role
// vacant; it is never auto-transferred.
func (r *SessionReplicator) RemoveMember(ctx context.Context, userId string) {
	r.store.Lock()
	_, removed := r.store.Session.Members.RemoveById(userId)
	wasLeader := r.store.Session.IsLeader(userId)
	if wasLeader {
		r.store.Session.SetLeader("")
	}
	members := r.store.Session.Members.AsList()
	r.store.Unlock()

	if !removed {
		return
	}

	r.store.NotifyMemberLeft(userId)
	if wasLeader {
		r.store.NotifyLeaderChanged(userId, "")
		r.persistLeader(ctx, nil)
	}
	r.persistMembers(ctx, members)
}

// ProcessHeartbeatActivity runs one liveness round: the leader and
// every responder are marked active, everyone else accrues a missed
// beat. Members past the missed threshold are evicted unless they are
// still inside the grace window. Evictions are broadcast so all peers
// converge on the same member set.
func (r *SessionReplicator) ProcessHeartbeatActivity(ctx context.Context, leaderId string, respondingUserIds []string) error {
	now := r.now()

	r.store.Lock()
	var evicted []string
	r.store.Session.Members.Each(func(m *domain.Member) {
		if m.UserId == leaderId || slices.Contains(respondingUserIds, m.UserId) {
			m.MissedHeartbeats = 0
			m.IsActive = true
			m.LastActivity = now
			return
		}

		m.MissedHeartbeats++
		if m.MissedHeartbeats >= r.cfg.MissedThreshold && now.Sub(m.LastActivity) > r.cfg.GraceWindow {
			evicted = append(evicted, m.UserId)
		}
	})

	leaderEvicted := false
	for _, userId := range evicted {
		r.store.Session.Members.RemoveById(userId)
		if r.store.Session.IsLeader(userId) {
			leaderEvicted = true
			r.store.Session.SetLeader("")
		}
	}
	members := r.store.Session.Members.AsList()
	r.store.Unlock()

	if len(evicted) == 0 {
		return nil
	}

	for _, userId := range evicted {
		r.store.NotifyMemberLeft(userId)
	}
	if leaderEvicted {
		r.store.NotifyLeaderChanged(leaderId, "")
		r.persistLeader(ctx, nil)
	}
	r.persistMembers(ctx, members)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeMemberCleanup, r.identity.UserId, &message.MemberCleanupPayload{
		RemovedIds: evicted,
	})
}

// MarkActive resets the liveness counters of one member. Called by the
// heartbeat synchronizer when the leader's heartbeat arrives.
func (r *SessionReplicator) MarkActive(userId string) {
	r.store.Lock()
	r.store.Session.Members.Update(userId, func(m *domain.Member) {
		m.MissedHeartbeats = 0
		m.IsActive = true
		m.LastActivity = r.now()
	})
	r.store.Unlock()
}

// RequestState asks the session for a full snapshot, used to
// re-converge after a suspected desync.
func (r *SessionReplicator) RequestState(ctx context.Context) error {
	return broadcast(ctx, r.broadcaster, r.logger, message.TypeStateRequest, r.identity.UserId, nil)
}

// LoadFromDurable reloads the three world blobs. Local runtime flags
// survive the overwrite, except that a peer marked as joined which is
// absent from the durable member set has been evicted elsewhere: its
// join flags are forcibly reset so it does not resume as a ghost.
func (r *SessionReplicator) LoadFromDurable(ctx context.Context) error {
	leaderId, err := r.durable.LoadLeader(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load leader: %w", err)
	}

	members, err := r.durable.LoadMembers(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load members: %w", err)
	}

	queue, err := r.durable.LoadQueue(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	r.store.Lock()
	r.store.Session.Members.Replace(members)
	if leaderId != nil && r.store.Session.Members.Contains(*leaderId) {
		r.store.Session.SetLeader(*leaderId)
	} else {
		r.store.Session.SetLeader("")
	}

	if r.store.Session.HasJoined && !r.store.Session.Members.Contains(r.identity.UserId) {
		r.store.Session.HasJoined = false
		r.store.Session.Connection = domain.ConnectionDisconnected
	}

	if queue != nil {
		r.store.Queue.ReplaceAll(queue.Items, queue.CurrentIndex)
		r.store.Queue.LoadedSavedSetId = queue.LoadedSavedSetId
		r.store.Queue.ModifiedFromSaved = false
	}
	r.store.Unlock()

	return nil
}

// HasJoined reports whether the local peer is a session member.
func (r *SessionReplicator) HasJoined() bool {
	r.store.Lock()
	defer r.store.Unlock()
	return r.store.Session.HasJoined
}

func (r *SessionReplicator) persistLeader(ctx context.Context, leaderId *string) {
	if err := r.durable.SaveLeader(ctx, leaderId); err != nil {
		r.logger.InfoContext(ctx, "failed to persist leader", "error", err)
	}
}

func (r *SessionReplicator) persistMembers(ctx context.Context, members []domain.Member) {
	if err := r.durable.SaveMembers(ctx, members); err != nil {
		r.logger.InfoContext(ctx, "failed to persist members", "error", err)
	}
}

func leaderOrEmpty(s *domain.SessionState) string {
	if s.LeaderId == nil {
		return ""
	}
	return *s.LeaderId
}

// receive-side reconciliation

func (r *SessionReplicator) handleUserJoin(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.UserJoinPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.AddMember(ctx, domain.Member{
		UserId:       msg.UserId,
		DisplayName:  payload.DisplayName,
		IsActive:     true,
		LastActivity: r.now(),
	})
}

func (r *SessionReplicator) handleUserLeave(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	r.RemoveMember(ctx, msg.UserId)
}

// handleMemberCleanup is symmetric: evictions are applied no matter
// who reported them, the local peer's own reports included. A peer
// finding itself in the removed list was evicted elsewhere and resets
// its join flags immediately instead of waiting for the durable
// correction.
func (r *SessionReplicator) handleMemberCleanup(ctx context.Context, msg *msgrouter.Message) {
	var payload message.MemberCleanupPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	if msg.UserId == r.identity.UserId {
		// own report, already applied locally
		return
	}

	for _, userId := range payload.RemovedIds {
		if userId == r.identity.UserId {
			r.store.Lock()
			r.store.Session.HasJoined = false
			r.store.Session.Connection = domain.ConnectionDisconnected
			r.store.Unlock()
		}
		r.RemoveMember(ctx, userId)
	}
}

// setLeaderFromRemote applies a last-message-wins leadership
// overwrite.
func (r *SessionReplicator) setLeaderFromRemote(ctx context.Context, newLeaderId string) {
	r.store.Lock()
	oldId := leaderOrEmpty(&r.store.Session)
	if oldId == newLeaderId {
		r.store.Unlock()
		return
	}
	r.store.Session.SetLeader(newLeaderId)
	r.store.Unlock()

	r.store.NotifyLeaderChanged(oldId, newLeaderId)
}

func (r *SessionReplicator) handleLeaderClaim(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	r.setLeaderFromRemote(ctx, msg.UserId)
}

func (r *SessionReplicator) handleLeaderOverride(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	r.setLeaderFromRemote(ctx, msg.UserId)
}

func (r *SessionReplicator) handleLeaderRelease(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	r.store.Lock()
	if !r.store.Session.IsLeader(msg.UserId) {
		r.store.Unlock()
		return
	}
	r.store.Session.SetLeader("")
	r.store.Unlock()

	r.store.NotifyLeaderChanged(msg.UserId, "")
}

func (r *SessionReplicator) handleLeaderHandoff(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.LeaderHandoffPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.setLeaderFromRemote(ctx, payload.TargetId)
}

// handleLeaderRequest is acted on by the leader's peer, which queues
// the request for approval. Against a vacant role the first request
// seen auto-approves, mirroring the local claim path, and the approval
// is re-broadcast so every peer converges. Two requests racing for a
// vacant role can both get approved here; the later approval wins
// everywhere, which is the accepted race.
func (r *SessionReplicator) handleLeaderRequest(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.LeaderRequestPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	vacant := r.store.Session.LeaderId == nil
	isLeader := r.store.Session.IsLeader(r.identity.UserId)

	if vacant {
		oldId := leaderOrEmpty(&r.store.Session)
		r.store.Session.SetLeader(msg.UserId)
		r.store.Unlock()

		r.store.NotifyLeaderChanged(oldId, msg.UserId)
		r.persistLeader(ctx, &msg.UserId)

		if err := broadcast(ctx, r.broadcaster, r.logger, message.TypeLeaderApprove, r.identity.UserId, &message.LeaderApprovePayload{
			RequesterId: msg.UserId,
		}); err != nil {
			r.logger.InfoContext(ctx, "failed to broadcast vacant-role approval", "error", err)
		}
		return
	}

	if !isLeader {
		r.store.Unlock()
		return
	}

	r.store.Session.AppendRequest(domain.LeaderRequest{
		UserId:      msg.UserId,
		DisplayName: payload.DisplayName,
		RequestedAt: time.UnixMilli(msg.Timestamp),
	})
	r.store.Unlock()
}

func (r *SessionReplicator) handleLeaderApprove(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.LeaderApprovePayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.setLeaderFromRemote(ctx, payload.RequesterId)
}

func (r *SessionReplicator) handleLeaderDeny(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.LeaderDenyPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	r.store.Session.RemoveRequest(payload.RequesterId)
	r.store.Unlock()
}

// handleStateRequest answers with a full snapshot. Only the leader
// responds, or the session owner when the role is vacant, so one
// request does not trigger a response from every peer.
func (r *SessionReplicator) handleStateRequest(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	session, queue, _ := r.store.Snapshot()
	isLeader := session.LeaderId != nil && *session.LeaderId == r.identity.UserId
	vacantOwner := session.LeaderId == nil && r.identity.IsOwner
	if !isLeader && !vacantOwner {
		return
	}

	if err := broadcast(ctx, r.broadcaster, r.logger, message.TypeStateResponse, r.identity.UserId, &message.StateResponsePayload{
		LeaderId:     session.LeaderId,
		Members:      session.Members.AsList(),
		Items:        queue.Items,
		CurrentIndex: queue.CurrentIndex,
	}); err != nil {
		r.logger.InfoContext(ctx, "failed to respond to state request", "error", err)
	}
}

// handleStateResponse adopts the session half of a remote snapshot,
// preserving the local runtime flags. The queue replicator applies the
// queue half of the same message.
func (r *SessionReplicator) handleStateResponse(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.StateResponsePayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	oldId := leaderOrEmpty(&r.store.Session)
	r.store.Session.Members.Replace(payload.Members)
	if payload.LeaderId != nil {
		r.store.Session.SetLeader(*payload.LeaderId)
	} else {
		r.store.Session.SetLeader("")
	}
	newId := leaderOrEmpty(&r.store.Session)
	r.store.Unlock()

	if oldId != newId {
		r.store.NotifyLeaderChanged(oldId, newId)
	}
}
