package domain

// PlaybackState is the local replica of the player position. On the
// leader it mirrors live transport queries; on followers it mirrors the
// last applied heartbeat. Written only by the heartbeat synchronizer.
type PlaybackState struct {
	ContentId       *string
	PositionSeconds float64
	DurationSeconds float64
	IsPlaying       bool
	IsReady         bool
	DriftTolerance  float64
}

func NewPlaybackState(driftTolerance float64) PlaybackState {
	return PlaybackState{
		DriftTolerance: driftTolerance,
	}
}
