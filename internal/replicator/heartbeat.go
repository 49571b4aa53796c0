package replicator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/message"
	"github.com/sessiondj/peer/internal/player"
	"github.com/sessiondj/peer/internal/state"
	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
	"github.com/sessiondj/peer/pkg/validator"
)

// HeartbeatSynchronizer propagates the leader's live playback position
// to followers and doubles as the liveness signal for membership. It
// is the only writer of PlaybackState.
//
// Idle until the local peer becomes leader; Active while it holds the
// role and content is loaded. Losing the role, or eviction, cancels
// the timer immediately and no in-flight heartbeat is retried.
type HeartbeatSynchronizer struct {
	store       *state.Store
	broadcaster transport.Broadcaster
	player      player.Controller
	session     *SessionReplicator
	identity    domain.Identity
	cfg         *Config
	logger      *slog.Logger
	validate    *validator.Validator

	mu         sync.Mutex
	cancel     context.CancelFunc
	responders map[string]struct{}

	now func() time.Time
}

func NewHeartbeatSynchronizer(st *state.Store, b transport.Broadcaster, pc player.Controller, session *SessionReplicator, identity domain.Identity, cfg *Config, logger *slog.Logger) *HeartbeatSynchronizer {
	return &HeartbeatSynchronizer{
		store:       st,
		broadcaster: b,
		player:      pc,
		session:     session,
		identity:    identity,
		cfg:         cfg,
		logger:      logger,
		validate:    validator.New(),
		responders:  make(map[string]struct{}),
		now:         time.Now,
	}
}

// LeadershipChanged flips the synchronizer between Idle and Active.
// Wired to the store's leader-change notification at startup.
func (h *HeartbeatSynchronizer) LeadershipChanged(newLeaderId string) {
	if newLeaderId == h.identity.UserId {
		h.start()
	} else {
		h.stop()
	}
}

func (h *HeartbeatSynchronizer) start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.run(ctx)
}

func (h *HeartbeatSynchronizer) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel == nil {
		return
	}

	h.cancel()
	h.cancel = nil
}

func (h *HeartbeatSynchronizer) run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one leader round: query the live transport position, emit
// a heartbeat and feed the responder set into liveness processing. The
// live query avoids drift from the cached replica.
func (h *HeartbeatSynchronizer) Tick(ctx context.Context) {
	h.store.Lock()
	isLeader := h.store.Session.IsLeader(h.identity.UserId)
	current, hasCurrent := h.store.Queue.CurrentItem()
	h.store.Unlock()

	if !isLeader {
		return
	}

	status, err := h.player.Status(ctx)
	if err != nil {
		h.logger.InfoContext(ctx, "failed to query player status", "error", err)
		return
	}

	if status.ContentId == "" {
		// nothing playing, nothing to synchronize
		return
	}

	h.store.Lock()
	contentId := status.ContentId
	h.store.Playback.ContentId = &contentId
	h.store.Playback.PositionSeconds = status.PositionSeconds
	h.store.Playback.DurationSeconds = status.DurationSeconds
	h.store.Playback.IsPlaying = status.IsPlaying
	h.store.Playback.IsReady = true
	h.store.Unlock()

	payload := message.HeartbeatPayload{
		ContentId:       status.ContentId,
		PositionSeconds: status.PositionSeconds,
		IsPlaying:       status.IsPlaying,
		EmittedAt:       h.now().UnixMilli(),
	}
	if hasCurrent && current.IsPlaylist {
		payload.PlaylistId = current.PlaylistId
	}

	if err := broadcast(ctx, h.broadcaster, h.logger, message.TypeHeartbeat, h.identity.UserId, &payload); err != nil {
		h.logger.InfoContext(ctx, "failed to broadcast heartbeat", "error", err)
	}

	h.mu.Lock()
	responders := make([]string, 0, len(h.responders))
	for userId := range h.responders {
		responders = append(responders, userId)
	}
	h.responders = make(map[string]struct{})
	h.mu.Unlock()

	if err := h.session.ProcessHeartbeatActivity(ctx, h.identity.UserId, responders); err != nil {
		h.logger.InfoContext(ctx, "failed to process heartbeat activity", "error", err)
	}
}

// playback control surface, leader only. Local command first, then the
// matching broadcast so followers converge.

func (h *HeartbeatSynchronizer) Play(ctx context.Context) error {
	if err := h.checkLeader(); err != nil {
		return err
	}

	if err := h.player.Play(ctx); err != nil {
		return err
	}

	h.store.Lock()
	h.store.Playback.IsPlaying = true
	h.store.Unlock()

	return broadcast(ctx, h.broadcaster, h.logger, message.TypePlay, h.identity.UserId, nil)
}

func (h *HeartbeatSynchronizer) Pause(ctx context.Context) error {
	if err := h.checkLeader(); err != nil {
		return err
	}

	if err := h.player.Pause(ctx); err != nil {
		return err
	}

	h.store.Lock()
	h.store.Playback.IsPlaying = false
	h.store.Unlock()

	return broadcast(ctx, h.broadcaster, h.logger, message.TypePause, h.identity.UserId, nil)
}

// ForcePause stops playback without a leadership check and without a
// broadcast. The queue replicator calls it when the queue is cleared;
// the clear message itself carries the authority and the pause travels
// with it.
func (h *HeartbeatSynchronizer) ForcePause(ctx context.Context) {
	if err := h.player.Pause(ctx); err != nil {
		h.logger.InfoContext(ctx, "failed to pause player", "error", err)
	}

	h.store.Lock()
	h.store.Playback.IsPlaying = false
	h.store.Unlock()
}

func (h *HeartbeatSynchronizer) Seek(ctx context.Context, positionSeconds float64) error {
	if err := h.checkLeader(); err != nil {
		return err
	}

	if err := h.player.Seek(ctx, positionSeconds); err != nil {
		return err
	}

	h.store.Lock()
	h.store.Playback.PositionSeconds = positionSeconds
	h.store.Unlock()

	return broadcast(ctx, h.broadcaster, h.logger, message.TypeSeek, h.identity.UserId, &message.SeekPayload{
		PositionSeconds: positionSeconds,
	})
}

func (h *HeartbeatSynchronizer) Load(ctx context.Context, contentId string) error {
	if err := h.checkLeader(); err != nil {
		return err
	}

	if err := h.player.Load(ctx, contentId); err != nil {
		return err
	}

	h.store.Lock()
	h.store.Playback.ContentId = &contentId
	h.store.Playback.PositionSeconds = 0
	h.store.Unlock()

	return broadcast(ctx, h.broadcaster, h.logger, message.TypeLoad, h.identity.UserId, &message.LoadPayload{
		ContentId: contentId,
	})
}

func (h *HeartbeatSynchronizer) LoadPlaylist(ctx context.Context, playlistId string, index int) error {
	if err := h.checkLeader(); err != nil {
		return err
	}

	if err := h.player.LoadPlaylist(ctx, playlistId, index); err != nil {
		return err
	}

	return broadcast(ctx, h.broadcaster, h.logger, message.TypeLoadPlaylist, h.identity.UserId, &message.LoadPlaylistPayload{
		PlaylistId: playlistId,
		Index:      index,
	})
}

func (h *HeartbeatSynchronizer) checkLeader() error {
	h.store.Lock()
	defer h.store.Unlock()

	if !h.store.Session.IsLeader(h.identity.UserId) {
		return domain.ErrNotLeader
	}

	return nil
}

// receive side

// handleHeartbeat applies a leader heartbeat on a follower: a content
// mismatch loads the leader's content, an out-of-tolerance drift seeks,
// and a play-state mismatch plays or pauses. The three corrections are
// independent and absolute, so re-applying the same heartbeat is a
// no-op.
func (h *HeartbeatSynchronizer) handleHeartbeat(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == h.identity.UserId {
		return
	}

	var payload message.HeartbeatPayload
	if !decodePayload(ctx, h.validate, h.logger, msg, &payload) {
		return
	}

	h.session.MarkActive(msg.UserId)

	status, err := h.player.Status(ctx)
	if err != nil {
		h.logger.InfoContext(ctx, "failed to query player status", "error", err)
		return
	}

	if status.ContentId != payload.ContentId {
		// the leader is authoritative; load rather than seek
		if err := h.player.Load(ctx, payload.ContentId); err != nil {
			h.logger.InfoContext(ctx, "failed to load leader content", "error", err)
		}
	} else {
		drift := math.Abs(status.PositionSeconds - payload.PositionSeconds)
		h.store.Lock()
		tolerance := h.store.Playback.DriftTolerance
		h.store.Unlock()

		if drift > tolerance {
			if err := h.player.Seek(ctx, payload.PositionSeconds); err != nil {
				h.logger.InfoContext(ctx, "failed to correct drift", "error", err)
			}
		}
	}

	if status.IsPlaying != payload.IsPlaying {
		if payload.IsPlaying {
			err = h.player.Play(ctx)
		} else {
			err = h.player.Pause(ctx)
		}
		if err != nil {
			h.logger.InfoContext(ctx, "failed to correct play state", "error", err)
		}
	}

	h.store.Lock()
	contentId := payload.ContentId
	h.store.Playback.ContentId = &contentId
	h.store.Playback.PositionSeconds = payload.PositionSeconds
	h.store.Playback.IsPlaying = payload.IsPlaying
	h.store.Playback.IsReady = true
	playback := h.store.Playback
	h.store.Unlock()

	h.store.NotifyHeartbeatProcessed(playback)

	h.respond(ctx)
}

func (h *HeartbeatSynchronizer) respond(ctx context.Context) {
	h.store.Lock()
	joined := h.store.Session.HasJoined
	h.store.Unlock()

	if !joined {
		return
	}

	if err := broadcast(ctx, h.broadcaster, h.logger, message.TypeHeartbeatResponse, h.identity.UserId, nil); err != nil {
		h.logger.InfoContext(ctx, "failed to respond to heartbeat", "error", err)
	}
}

// handleHeartbeatResponse collects follower liveness on the leader.
func (h *HeartbeatSynchronizer) handleHeartbeatResponse(ctx context.Context, msg *msgrouter.Message) {
	if msg.UserId == h.identity.UserId {
		return
	}

	h.store.Lock()
	isLeader := h.store.Session.IsLeader(h.identity.UserId)
	h.store.Unlock()

	if !isLeader {
		return
	}

	h.mu.Lock()
	h.responders[msg.UserId] = struct{}{}
	h.mu.Unlock()
}

// follower application of leader playback commands. Only the current
// leader's commands are honored.

func (h *HeartbeatSynchronizer) fromLeader(msg *msgrouter.Message) bool {
	if msg.UserId == h.identity.UserId {
		return false
	}

	h.store.Lock()
	defer h.store.Unlock()
	return h.store.Session.IsLeader(msg.UserId)
}

func (h *HeartbeatSynchronizer) handlePlay(ctx context.Context, msg *msgrouter.Message) {
	if !h.fromLeader(msg) {
		return
	}

	if err := h.player.Play(ctx); err != nil {
		h.logger.InfoContext(ctx, "failed to play", "error", err)
		return
	}

	h.store.Lock()
	h.store.Playback.IsPlaying = true
	h.store.Unlock()
}

func (h *HeartbeatSynchronizer) handlePause(ctx context.Context, msg *msgrouter.Message) {
	if !h.fromLeader(msg) {
		return
	}

	if err := h.player.Pause(ctx); err != nil {
		h.logger.InfoContext(ctx, "failed to pause", "error", err)
		return
	}

	h.store.Lock()
	h.store.Playback.IsPlaying = false
	h.store.Unlock()
}

func (h *HeartbeatSynchronizer) handleSeek(ctx context.Context, msg *msgrouter.Message) {
	if !h.fromLeader(msg) {
		return
	}

	var payload message.SeekPayload
	if !decodePayload(ctx, h.validate, h.logger, msg, &payload) {
		return
	}

	if err := h.player.Seek(ctx, payload.PositionSeconds); err != nil {
		h.logger.InfoContext(ctx, "failed to seek", "error", err)
		return
	}

	h.store.Lock()
	h.store.Playback.PositionSeconds = payload.PositionSeconds
	h.store.Unlock()
}

func (h *HeartbeatSynchronizer) handleLoad(ctx context.Context, msg *msgrouter.Message) {
	if !h.fromLeader(msg) {
		return
	}

	var payload message.LoadPayload
	if !decodePayload(ctx, h.validate, h.logger, msg, &payload) {
		return
	}

	if err := h.player.Load(ctx, payload.ContentId); err != nil {
		h.logger.InfoContext(ctx, "failed to load", "error", err)
		return
	}

	h.store.Lock()
	contentId := payload.ContentId
	h.store.Playback.ContentId = &contentId
	h.store.Playback.PositionSeconds = 0
	h.store.Unlock()
}

func (h *HeartbeatSynchronizer) handleLoadPlaylist(ctx context.Context, msg *msgrouter.Message) {
	if !h.fromLeader(msg) {
		return
	}

	var payload message.LoadPlaylistPayload
	if !decodePayload(ctx, h.validate, h.logger, msg, &payload) {
		return
	}

	if err := h.player.LoadPlaylist(ctx, payload.PlaylistId, payload.Index); err != nil {
		h.logger.InfoContext(ctx, "failed to load playlist", "error", err)
	}
}
