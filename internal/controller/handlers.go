package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/replicator"
	"github.com/sessiondj/peer/pkg/rest"
)

func (c *Controller) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrNotLeader),
		errors.Is(err, domain.ErrLeaderAlreadySet),
		errors.Is(err, domain.ErrNotJoined):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, replicator.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidIndex),
		errors.Is(err, replicator.ErrEmptyContent):
		status = http.StatusBadRequest
	}

	rest.WriteJSON(w, status, rest.Envelope{"error": err.Error()})
}

func (c *Controller) run(w http.ResponseWriter, r *http.Request, fn func() error) {
	if err := fn(); err != nil {
		c.logger.InfoContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		c.writeError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"ok": true})
}

func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"status": "ok"})
}

type stateResponse struct {
	LeaderId        *string                `json:"leader_id"`
	Members         []domain.Member        `json:"members"`
	PendingRequests []domain.LeaderRequest `json:"pending_requests"`
	HasJoined       bool                   `json:"has_joined"`
	Connection      domain.ConnectionStatus `json:"connection"`
	Items           []domain.QueueItem     `json:"items"`
	CurrentIndex    int                    `json:"current_index"`
	Mode            domain.QueueMode       `json:"mode"`
	ContentId       *string                `json:"content_id"`
	PositionSeconds float64                `json:"position_seconds"`
	IsPlaying       bool                   `json:"is_playing"`
}

func (c *Controller) State(w http.ResponseWriter, r *http.Request) {
	session, queue, playback := c.store.Snapshot()

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": stateResponse{
		LeaderId:        session.LeaderId,
		Members:         session.Members.AsList(),
		PendingRequests: session.PendingRequests,
		HasJoined:       session.HasJoined,
		Connection:      session.Connection,
		Items:           queue.Items,
		CurrentIndex:    queue.CurrentIndex,
		Mode:            queue.Mode,
		ContentId:       playback.ContentId,
		PositionSeconds: playback.PositionSeconds,
		IsPlaying:       playback.IsPlaying,
	}})
}

func (c *Controller) Resync(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.RequestState(r.Context()) })
}

func (c *Controller) Join(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.Join(r.Context()) })
}

func (c *Controller) Leave(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.Leave(r.Context()) })
}

func (c *Controller) ClaimLeadership(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.ClaimLeadership(r.Context()) })
}

func (c *Controller) ReleaseLeadership(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.ReleaseLeadership(r.Context()) })
}

func (c *Controller) RequestLeadership(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.RequestLeadership(r.Context()) })
}

func (c *Controller) OverrideLeadership(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.session.OverrideLeadership(r.Context()) })
}

type userIdRequest struct {
	UserId string `json:"user_id" validate:"required"`
}

func (c *Controller) handoffLike(w http.ResponseWriter, r *http.Request, fn func(userId string) error) {
	var req userIdRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	c.run(w, r, func() error { return fn(req.UserId) })
}

func (c *Controller) HandoffLeadership(w http.ResponseWriter, r *http.Request) {
	c.handoffLike(w, r, func(userId string) error {
		return c.session.HandoffLeadership(r.Context(), userId)
	})
}

func (c *Controller) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	c.handoffLike(w, r, func(userId string) error {
		return c.session.ApproveRequest(r.Context(), userId)
	})
}

func (c *Controller) DenyRequest(w http.ResponseWriter, r *http.Request) {
	c.handoffLike(w, r, func(userId string) error {
		return c.session.DenyRequest(r.Context(), userId)
	})
}

type addQueueItemRequest struct {
	ContentId  string  `json:"content_id" validate:"required"`
	Title      string  `json:"title"`
	IsPlaylist bool    `json:"is_playlist"`
	PlaylistId *string `json:"playlist_id"`
	ToFront    bool    `json:"to_front"`
}

func (c *Controller) AddQueueItem(w http.ResponseWriter, r *http.Request) {
	var req addQueueItemRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	item, err := c.queue.AddItem(r.Context(), &replicator.AddItemParams{
		ContentId:  req.ContentId,
		Title:      req.Title,
		IsPlaylist: req.IsPlaylist,
		PlaylistId: req.PlaylistId,
		ToFront:    req.ToFront,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": item})
}

func (c *Controller) RemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	itemId := chi.URLParam(r, "item-id")
	c.run(w, r, func() error { return c.queue.RemoveItem(r.Context(), itemId) })
}

type reorderRequest struct {
	FromIndex int `json:"from_index" validate:"gte=0"`
	ToIndex   int `json:"to_index" validate:"gte=0"`
}

func (c *Controller) ReorderQueue(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	c.run(w, r, func() error { return c.queue.Reorder(r.Context(), req.FromIndex, req.ToIndex) })
}

type advanceRequest struct {
	Linear bool `json:"linear"`
}

func (c *Controller) AdvanceQueue(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	// body optional, defaults to cycling advance
	_ = rest.ReadJSON(r, &req)

	c.run(w, r, func() error {
		if req.Linear {
			return c.queue.AdvanceLinear(r.Context())
		}
		return c.queue.Advance(r.Context())
	})
}

func (c *Controller) ClearQueue(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.queue.Clear(r.Context()) })
}

func (c *Controller) Play(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.playback.Play(r.Context()) })
}

func (c *Controller) Pause(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, func() error { return c.playback.Pause(r.Context()) })
}

type seekRequest struct {
	PositionSeconds float64 `json:"position_seconds" validate:"gte=0"`
}

func (c *Controller) Seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	c.run(w, r, func() error { return c.playback.Seek(r.Context(), req.PositionSeconds) })
}

type loadRequest struct {
	ContentId string `json:"content_id" validate:"required"`
}

func (c *Controller) Load(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	c.run(w, r, func() error { return c.playback.Load(r.Context(), req.ContentId) })
}
