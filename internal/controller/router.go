package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (c *Controller) Mux() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", c.Healthz)
	r.Get("/state", c.State)
	r.Post("/resync", c.Resync)

	r.Post("/session/join", c.Join)
	r.Post("/session/leave", c.Leave)

	r.Post("/leadership/claim", c.ClaimLeadership)
	r.Post("/leadership/release", c.ReleaseLeadership)
	r.Post("/leadership/request", c.RequestLeadership)
	r.Post("/leadership/override", c.OverrideLeadership)
	r.Post("/leadership/handoff", c.HandoffLeadership)
	r.Post("/leadership/approve", c.ApproveRequest)
	r.Post("/leadership/deny", c.DenyRequest)

	r.Post("/queue/items", c.AddQueueItem)
	r.Delete("/queue/items/{item-id}", c.RemoveQueueItem)
	r.Post("/queue/reorder", c.ReorderQueue)
	r.Post("/queue/next", c.AdvanceQueue)
	r.Post("/queue/clear", c.ClearQueue)

	r.Post("/player/play", c.Play)
	r.Post("/player/pause", c.Pause)
	r.Post("/player/seek", c.Seek)
	r.Post("/player/load", c.Load)

	return r
}
