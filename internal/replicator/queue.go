package replicator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/message"
	"github.com/sessiondj/peer/internal/player"
	"github.com/sessiondj/peer/internal/state"
	"github.com/sessiondj/peer/internal/store"
	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
	"github.com/sessiondj/peer/pkg/validator"
)

var ErrEmptyContent = errors.New("content id is empty")

type AddItemParams struct {
	ContentId  string
	Title      string
	IsPlaylist bool
	PlaylistId *string
	ToFront    bool
}

// iPlaybackOwner is the slice of the heartbeat synchronizer the queue
// needs. PlaybackState has a single writer; a queue clear asks that
// writer to pause instead of touching the state itself.
type iPlaybackOwner interface {
	ForcePause(ctx context.Context)
}

// QueueReplicator converges the shared play queue. It is the only
// writer of QueueState. It reads SessionState for authority checks but
// never writes it.
type QueueReplicator struct {
	store       *state.Store
	broadcaster transport.Broadcaster
	durable     iDurableStore
	player      player.Controller
	playback    iPlaybackOwner
	identity    domain.Identity
	logger      *slog.Logger
	validate    *validator.Validator

	now func() time.Time
}

func NewQueueReplicator(st *state.Store, b transport.Broadcaster, durable iDurableStore, pc player.Controller, playback iPlaybackOwner, identity domain.Identity, logger *slog.Logger) *QueueReplicator {
	return &QueueReplicator{
		store:       st,
		broadcaster: b,
		durable:     durable,
		player:      pc,
		playback:    playback,
		identity:    identity,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// checkCanAppend enforces the append authority rule: leader always; in
// collaborative mode any active joined member. Callers hold the store
// lock.
func (r *QueueReplicator) checkCanAppend() error {
	session := &r.store.Session
	if session.IsLeader(r.identity.UserId) {
		return nil
	}

	if r.store.Queue.Mode != domain.QueueModeCollaborative {
		return domain.ErrPermissionDenied
	}

	if !session.HasJoined {
		return domain.ErrNotJoined
	}

	member, _, ok := session.Members.GetById(r.identity.UserId)
	if !ok || !member.IsActive {
		return domain.ErrPermissionDenied
	}

	return nil
}

// checkLeaderOnly covers remove, reorder, clear and advance, which are
// leader-exclusive in both modes. Callers hold the store lock.
func (r *QueueReplicator) checkLeaderOnly() error {
	if !r.store.Session.IsLeader(r.identity.UserId) {
		return domain.ErrNotLeader
	}

	return nil
}

// AddItem appends content to the queue, or slots it in right after the
// current item when ToFront is set.
func (r *QueueReplicator) AddItem(ctx context.Context, params *AddItemParams) (domain.QueueItem, error) {
	if params.ContentId == "" {
		return domain.QueueItem{}, ErrEmptyContent
	}

	now := r.now()
	item := domain.QueueItem{
		Id:         domain.NewQueueItemId(params.ContentId, now),
		ContentId:  params.ContentId,
		Title:      params.Title,
		AddedBy:    r.identity.UserId,
		AddedAt:    now,
		IsPlaylist: params.IsPlaylist,
		PlaylistId: params.PlaylistId,
	}

	r.store.Lock()
	if err := r.checkCanAppend(); err != nil {
		r.store.Unlock()
		return domain.QueueItem{}, err
	}

	wasEmpty := len(r.store.Queue.Items) == 0
	r.store.Queue.Add(item, params.ToFront)
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.persistQueue(ctx)

	if wasEmpty {
		if err := r.player.Load(ctx, item.ContentId); err != nil {
			r.logger.InfoContext(ctx, "failed to load first queue item", "error", err)
		}
	}

	return item, broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueAdd, r.identity.UserId, &message.QueueAddPayload{
		Item:    item,
		ToFront: params.ToFront,
	})
}

// RemoveItem deletes a queue entry by id. Removing the current item
// loads whatever became current.
func (r *QueueReplicator) RemoveItem(ctx context.Context, itemId string) error {
	r.store.Lock()
	if err := r.checkLeaderOnly(); err != nil {
		r.store.Unlock()
		return err
	}

	_, currentChanged, err := r.store.Queue.Remove(itemId)
	if err != nil {
		r.store.Unlock()
		return err
	}

	newCurrent, hasCurrent := r.store.Queue.CurrentItem()
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.persistQueue(ctx)

	if currentChanged && hasCurrent {
		if err := r.player.Load(ctx, newCurrent.ContentId); err != nil {
			r.logger.InfoContext(ctx, "failed to load new current item", "error", err)
		}
	}

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueRemove, r.identity.UserId, &message.QueueRemovePayload{
		ItemId: itemId,
	})
}

// Reorder moves an item between positions.
func (r *QueueReplicator) Reorder(ctx context.Context, fromIndex, toIndex int) error {
	r.store.Lock()
	if err := r.checkLeaderOnly(); err != nil {
		r.store.Unlock()
		return err
	}

	if err := r.store.Queue.Reorder(fromIndex, toIndex); err != nil {
		r.store.Unlock()
		return err
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.persistQueue(ctx)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueUpdate, r.identity.UserId, &message.QueueUpdatePayload{
		FromIndex: fromIndex,
		ToIndex:   toIndex,
	})
}

// Advance cycles the current item to the back of the queue and loads
// the item that took its place.
func (r *QueueReplicator) Advance(ctx context.Context) error {
	return r.advance(ctx, false)
}

// AdvanceLinear steps the pointer forward without cycling items,
// wrapping at the end of the queue.
func (r *QueueReplicator) AdvanceLinear(ctx context.Context) error {
	return r.advance(ctx, true)
}

func (r *QueueReplicator) advance(ctx context.Context, linear bool) error {
	r.store.Lock()
	if err := r.checkLeaderOnly(); err != nil {
		r.store.Unlock()
		return err
	}

	var next domain.QueueItem
	var ok bool
	if linear {
		next, ok = r.store.Queue.AdvanceLinear()
	} else {
		next, ok = r.store.Queue.AdvanceCycle()
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.persistQueue(ctx)

	if ok {
		if err := r.player.Load(ctx, next.ContentId); err != nil {
			r.logger.InfoContext(ctx, "failed to load next item", "error", err)
		}
	}

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueNext, r.identity.UserId, &message.QueueNextPayload{
		Linear: linear,
	})
}

// Clear empties the queue and forces playback into a paused state. The
// loaded content reference is kept so the last played item stays
// visible.
func (r *QueueReplicator) Clear(ctx context.Context) error {
	r.store.Lock()
	if err := r.checkLeaderOnly(); err != nil {
		r.store.Unlock()
		return err
	}

	r.store.Queue.Clear()
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.persistQueue(ctx)

	r.playback.ForcePause(ctx)

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueClear, r.identity.UserId, nil)
}

// Sync broadcasts the full queue, replacing every peer's copy. Leader
// only; used after bulk edits such as loading a saved set.
func (r *QueueReplicator) Sync(ctx context.Context) error {
	r.store.Lock()
	if err := r.checkLeaderOnly(); err != nil {
		r.store.Unlock()
		return err
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	return broadcast(ctx, r.broadcaster, r.logger, message.TypeQueueSync, r.identity.UserId, &message.QueueSyncPayload{
		Items:        items,
		CurrentIndex: currentIndex,
	})
}

func (r *QueueReplicator) queueCopyLocked() ([]domain.QueueItem, int) {
	items := append([]domain.QueueItem(nil), r.store.Queue.Items...)
	return items, r.store.Queue.CurrentIndex
}

func (r *QueueReplicator) persistQueue(ctx context.Context) {
	r.store.Lock()
	snapshot := store.QueueSnapshot{
		Items:            append([]domain.QueueItem(nil), r.store.Queue.Items...),
		CurrentIndex:     r.store.Queue.CurrentIndex,
		Mode:             r.store.Queue.Mode,
		LoadedSavedSetId: r.store.Queue.LoadedSavedSetId,
	}
	r.store.Unlock()

	if err := r.durable.SaveQueue(ctx, &snapshot); err != nil {
		r.logger.InfoContext(ctx, "failed to persist queue", "error", err)
	}
}

// receive-side reconciliation. Each handler re-applies the same index
// math from the fields carried in the message, so peers with a synced
// prior state land on identical queues. Add, remove and advance are
// self-echo suppressed; clear, reorder and sync are leader-exclusive
// single-writer operations and apply uniformly.

func (r *QueueReplicator) handleQueueAdd(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.QueueAddPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	r.store.Queue.Add(payload.Item, payload.ToFront)
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
}

func (r *QueueReplicator) handleQueueRemove(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.QueueRemovePayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	if _, _, err := r.store.Queue.Remove(payload.ItemId); err != nil {
		// already gone, duplicate or stale copy
		r.store.Unlock()
		return
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
}

func (r *QueueReplicator) handleQueueUpdate(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.QueueUpdatePayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	if err := r.store.Queue.Reorder(payload.FromIndex, payload.ToIndex); err != nil {
		r.store.Unlock()
		r.logger.DebugContext(ctx, "dropping stale reorder", "error", err)
		return
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
}

func (r *QueueReplicator) handleQueueNext(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.QueueNextPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.store.Lock()
	if payload.Linear {
		r.store.Queue.AdvanceLinear()
	} else {
		r.store.Queue.AdvanceCycle()
	}
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
}

func (r *QueueReplicator) handleQueueClear(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	r.store.Lock()
	r.store.Queue.Clear()
	items, currentIndex := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(items, currentIndex)
	r.playback.ForcePause(ctx)
}

func (r *QueueReplicator) handleQueueSync(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.QueueSyncPayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.applyQueueSnapshot(payload.Items, payload.CurrentIndex)
}

// handleStateResponseQueue applies the queue half of a STATE_RESPONSE.
func (r *QueueReplicator) handleStateResponseQueue(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == r.identity.UserId {
		return
	}

	var payload message.StateResponsePayload
	if !decodePayload(ctx, r.validate, r.logger, msg, &payload) {
		return
	}

	r.applyQueueSnapshot(payload.Items, payload.CurrentIndex)
}

func (r *QueueReplicator) applyQueueSnapshot(items []domain.QueueItem, currentIndex int) {
	r.store.Lock()
	r.store.Queue.ReplaceAll(items, currentIndex)
	copied, index := r.queueCopyLocked()
	r.store.Unlock()

	r.store.NotifyQueueChanged(copied, index)
}
