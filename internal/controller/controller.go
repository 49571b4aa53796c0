package controller

import (
	"context"
	"log/slog"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/replicator"
	"github.com/sessiondj/peer/internal/state"
	"github.com/sessiondj/peer/pkg/validator"
)

type iSessionReplicator interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	ClaimLeadership(ctx context.Context) error
	OverrideLeadership(ctx context.Context) error
	ReleaseLeadership(ctx context.Context) error
	RequestLeadership(ctx context.Context) error
	ApproveRequest(ctx context.Context, userId string) error
	DenyRequest(ctx context.Context, userId string) error
	HandoffLeadership(ctx context.Context, targetUserId string) error
	RequestState(ctx context.Context) error
}

type iQueueReplicator interface {
	AddItem(ctx context.Context, params *replicator.AddItemParams) (domain.QueueItem, error)
	RemoveItem(ctx context.Context, itemId string) error
	Reorder(ctx context.Context, fromIndex, toIndex int) error
	Advance(ctx context.Context) error
	AdvanceLinear(ctx context.Context) error
	Clear(ctx context.Context) error
}

type iPlayback interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionSeconds float64) error
	Load(ctx context.Context, contentId string) error
}

// Controller is the local inspection and control surface for the
// excluded UI layer. It only ever talks to the replicators; nothing
// here touches replicated state directly except via snapshots.
type Controller struct {
	session  iSessionReplicator
	queue    iQueueReplicator
	playback iPlayback
	store    *state.Store
	logger   *slog.Logger
	validate *validator.Validator
}

func NewController(session iSessionReplicator, queue iQueueReplicator, playback iPlayback, store *state.Store, logger *slog.Logger) *Controller {
	return &Controller{
		session:  session,
		queue:    queue,
		playback: playback,
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}
