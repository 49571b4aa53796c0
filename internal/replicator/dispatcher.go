package replicator

import (
	"context"

	"github.com/sessiondj/peer/internal/message"
	"github.com/sessiondj/peer/pkg/msgrouter"
)

// NewRouter wires every message type to its owning replicator. The one
// shared type is STATE_RESPONSE, whose session and queue halves go to
// their respective owners.
func NewRouter(session *SessionReplicator, queue *QueueReplicator, heartbeat *HeartbeatSynchronizer) *msgrouter.Router {
	mux := msgrouter.New()

	// membership
	mux.Handle(message.TypeUserJoin, session.handleUserJoin)
	mux.Handle(message.TypeUserLeave, session.handleUserLeave)
	mux.Handle(message.TypeMemberCleanup, session.handleMemberCleanup)

	// leadership
	mux.Handle(message.TypeLeaderClaim, session.handleLeaderClaim)
	mux.Handle(message.TypeLeaderRelease, session.handleLeaderRelease)
	mux.Handle(message.TypeLeaderRequest, session.handleLeaderRequest)
	mux.Handle(message.TypeLeaderApprove, session.handleLeaderApprove)
	mux.Handle(message.TypeLeaderDeny, session.handleLeaderDeny)
	mux.Handle(message.TypeLeaderHandoff, session.handleLeaderHandoff)
	mux.Handle(message.TypeLeaderOverride, session.handleLeaderOverride)

	// queue
	mux.Handle(message.TypeQueueAdd, queue.handleQueueAdd)
	mux.Handle(message.TypeQueueRemove, queue.handleQueueRemove)
	mux.Handle(message.TypeQueueUpdate, queue.handleQueueUpdate)
	mux.Handle(message.TypeQueueNext, queue.handleQueueNext)
	mux.Handle(message.TypeQueueClear, queue.handleQueueClear)
	mux.Handle(message.TypeQueueSync, queue.handleQueueSync)

	// playback
	mux.Handle(message.TypePlay, heartbeat.handlePlay)
	mux.Handle(message.TypePause, heartbeat.handlePause)
	mux.Handle(message.TypeSeek, heartbeat.handleSeek)
	mux.Handle(message.TypeLoad, heartbeat.handleLoad)
	mux.Handle(message.TypeLoadPlaylist, heartbeat.handleLoadPlaylist)
	mux.Handle(message.TypeHeartbeat, heartbeat.handleHeartbeat)
	mux.Handle(message.TypeHeartbeatResponse, heartbeat.handleHeartbeatResponse)

	// reconciliation
	mux.Handle(message.TypeStateRequest, session.handleStateRequest)
	mux.Handle(message.TypeStateResponse, func(ctx context.Context, msg *msgrouter.Message) {
		session.handleStateResponse(ctx, msg)
		queue.handleStateResponseQueue(ctx, msg)
	})

	return mux
}
