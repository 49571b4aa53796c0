package player

import "context"

// Status is a live snapshot queried from the media transport, not the
// cached replica, so leader heartbeats carry the real position.
type Status struct {
	ContentId       string
	PositionSeconds float64
	DurationSeconds float64
	IsPlaying       bool
}

// Controller is the media-embed collaborator. Commands are issued by
// the replicators; the wrapper behind it is out of scope here.
type Controller interface {
	Load(ctx context.Context, contentId string) error
	LoadPlaylist(ctx context.Context, playlistId string, index int) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionSeconds float64) error
	Status(ctx context.Context) (Status, error)
}

// Unattached is the controller used when no media embed is wired in.
// Commands succeed and do nothing; Status reports an empty player.
type Unattached struct{}

func (Unattached) Load(context.Context, string) error           { return nil }
func (Unattached) LoadPlaylist(context.Context, string, int) error { return nil }
func (Unattached) Play(context.Context) error                   { return nil }
func (Unattached) Pause(context.Context) error                  { return nil }
func (Unattached) Seek(context.Context, float64) error          { return nil }
func (Unattached) Status(context.Context) (Status, error)       { return Status{}, nil }
