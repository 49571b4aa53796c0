package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/replicator"
	"github.com/sessiondj/peer/internal/state"
)

type fakeSession struct {
	calls []string
	err   error
}

func (s *fakeSession) call(name string) error {
	s.calls = append(s.calls, name)
	return s.err
}

func (s *fakeSession) Join(context.Context) error               { return s.call("join") }
func (s *fakeSession) Leave(context.Context) error              { return s.call("leave") }
func (s *fakeSession) ClaimLeadership(context.Context) error    { return s.call("claim") }
func (s *fakeSession) OverrideLeadership(context.Context) error { return s.call("override") }
func (s *fakeSession) ReleaseLeadership(context.Context) error  { return s.call("release") }
func (s *fakeSession) RequestLeadership(context.Context) error  { return s.call("request") }
func (s *fakeSession) RequestState(context.Context) error       { return s.call("resync") }

func (s *fakeSession) ApproveRequest(_ context.Context, userId string) error {
	return s.call("approve:" + userId)
}

func (s *fakeSession) DenyRequest(_ context.Context, userId string) error {
	return s.call("deny:" + userId)
}

func (s *fakeSession) HandoffLeadership(_ context.Context, targetUserId string) error {
	return s.call("handoff:" + targetUserId)
}

type fakeQueue struct {
	calls []string
	err   error
}

func (q *fakeQueue) call(name string) error {
	q.calls = append(q.calls, name)
	return q.err
}

func (q *fakeQueue) AddItem(_ context.Context, params *replicator.AddItemParams) (domain.QueueItem, error) {
	if err := q.call("add:" + params.ContentId); err != nil {
		return domain.QueueItem{}, err
	}
	return domain.QueueItem{Id: params.ContentId + "-id", ContentId: params.ContentId}, nil
}

func (q *fakeQueue) RemoveItem(_ context.Context, itemId string) error {
	return q.call("remove:" + itemId)
}

func (q *fakeQueue) Reorder(_ context.Context, fromIndex, toIndex int) error {
	return q.call("reorder")
}

func (q *fakeQueue) Advance(context.Context) error       { return q.call("advance") }
func (q *fakeQueue) AdvanceLinear(context.Context) error { return q.call("advance-linear") }
func (q *fakeQueue) Clear(context.Context) error         { return q.call("clear") }

type fakePlayback struct {
	calls []string
	err   error
}

func (p *fakePlayback) call(name string) error {
	p.calls = append(p.calls, name)
	return p.err
}

func (p *fakePlayback) Play(context.Context) error                 { return p.call("play") }
func (p *fakePlayback) Pause(context.Context) error                { return p.call("pause") }
func (p *fakePlayback) Seek(_ context.Context, pos float64) error  { return p.call("seek") }
func (p *fakePlayback) Load(_ context.Context, contentId string) error {
	return p.call("load:" + contentId)
}

type fixture struct {
	session  *fakeSession
	queue    *fakeQueue
	playback *fakePlayback
	store    *state.Store
	handler  http.Handler
}

func newFixture() *fixture {
	session := &fakeSession{}
	queue := &fakeQueue{}
	playback := &fakePlayback{}
	st := state.New(&state.Config{QueueMode: domain.QueueModeSingleLeader, DriftTolerance: 2.0})

	c := NewController(session, queue, playback, st, slog.Default())
	return &fixture{
		session:  session,
		queue:    queue,
		playback: playback,
		store:    st,
		handler:  c.Mux(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture()

	for path, want := range map[string]string{
		"/session/join":       "join",
		"/session/leave":      "leave",
		"/leadership/claim":   "claim",
		"/leadership/release": "release",
		"/leadership/request": "request",
		"/leadership/override": "override",
		"/resync":             "resync",
	} {
		rec := f.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, f.session.calls, want)
	}
}

func TestHandoffRequiresUserId(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/leadership/handoff", `{"user_id":"bob"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.session.calls, "handoff:bob")

	rec = f.do(t, http.MethodPost, "/leadership/handoff", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/leadership/handoff", `{broken`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApproveAndDeny(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/leadership/approve", `{"user_id":"bob"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.session.calls, "approve:bob")

	rec = f.do(t, http.MethodPost, "/leadership/deny", `{"user_id":"bob"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.session.calls, "deny:bob")
}

func TestAddQueueItem(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/queue/items", `{"content_id":"track-1","title":"Track"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "add:track-1")

	var body struct {
		Data domain.QueueItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "track-1", body.Data.ContentId)

	rec = f.do(t, http.MethodPost, "/queue/items", `{"title":"no content"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodDelete, "/queue/items/track-1-id", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "remove:track-1-id")

	rec = f.do(t, http.MethodPost, "/queue/reorder", `{"from_index":0,"to_index":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "reorder")

	rec = f.do(t, http.MethodPost, "/queue/next", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "advance")

	rec = f.do(t, http.MethodPost, "/queue/next", `{"linear":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "advance-linear")

	rec = f.do(t, http.MethodPost, "/queue/clear", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.queue.calls, "clear")
}

func TestPlayerRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/player/play", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/player/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/player/seek", `{"position_seconds":12.5}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/player/seek", `{"position_seconds":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/player/load", `{"content_id":"track-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"play", "pause", "seek", "load:track-1"}, f.playback.calls)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotLeader, http.StatusForbidden},
		{domain.ErrPermissionDenied, http.StatusForbidden},
		{domain.ErrLeaderAlreadySet, http.StatusForbidden},
		{domain.ErrMemberNotFound, http.StatusNotFound},
		{replicator.ErrRequestNotFound, http.StatusNotFound},
		{domain.ErrInvalidIndex, http.StatusBadRequest},
	}

	for _, tc := range cases {
		f := newFixture()
		f.session.err = tc.err
		rec := f.do(t, http.MethodPost, "/leadership/claim", "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestItemNotFoundMapsTo404(t *testing.T) {
	f := newFixture()
	f.queue.err = domain.ErrItemNotFound

	rec := f.do(t, http.MethodDelete, "/queue/items/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateSnapshot(t *testing.T) {
	f := newFixture()

	f.store.Lock()
	f.store.Session.Members.Upsert(domain.Member{UserId: "alice", DisplayName: "Alice"})
	f.store.Session.SetLeader("alice")
	f.store.Session.HasJoined = true
	f.store.Unlock()

	rec := f.do(t, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			LeaderId     *string         `json:"leader_id"`
			Members      []domain.Member `json:"members"`
			HasJoined    bool            `json:"has_joined"`
			CurrentIndex int             `json:"current_index"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Data.LeaderId)
	assert.Equal(t, "alice", *body.Data.LeaderId)
	require.Len(t, body.Data.Members, 1)
	assert.True(t, body.Data.Members[0].IsLeader)
	assert.True(t, body.Data.HasJoined)
	assert.Equal(t, -1, body.Data.CurrentIndex)
}
