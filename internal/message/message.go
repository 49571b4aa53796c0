package message

import (
	"encoding/json"
	"time"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/pkg/msgrouter"
)

// Broadcast message types. Unknown types received from newer peers are
// ignored without error.
const (
	// membership
	TypeUserJoin      = "USER_JOIN"
	TypeUserLeave     = "USER_LEAVE"
	TypeMemberCleanup = "MEMBER_CLEANUP"

	// leadership
	TypeLeaderClaim    = "LEADER_CLAIM"
	TypeLeaderRelease  = "LEADER_RELEASE"
	TypeLeaderRequest  = "LEADER_REQUEST"
	TypeLeaderApprove  = "LEADER_APPROVE"
	TypeLeaderDeny     = "LEADER_DENY"
	TypeLeaderHandoff  = "LEADER_HANDOFF"
	TypeLeaderOverride = "LEADER_OVERRIDE"

	// queue
	TypeQueueAdd    = "QUEUE_ADD"
	TypeQueueRemove = "QUEUE_REMOVE"
	TypeQueueUpdate = "QUEUE_UPDATE"
	TypeQueueNext   = "QUEUE_NEXT"
	TypeQueueClear  = "QUEUE_CLEAR"
	TypeQueueSync   = "QUEUE_SYNC"

	// playback
	TypePlay              = "PLAY"
	TypePause             = "PAUSE"
	TypeSeek              = "SEEK"
	TypeLoad              = "LOAD"
	TypeLoadPlaylist      = "LOAD_PLAYLIST"
	TypeHeartbeat         = "HEARTBEAT"
	TypeHeartbeatResponse = "HEARTBEAT_RESPONSE"

	// reconciliation
	TypeStateRequest  = "STATE_REQUEST"
	TypeStateResponse = "STATE_RESPONSE"
)

type UserJoinPayload struct {
	DisplayName string `json:"displayName" validate:"required"`
}

type MemberCleanupPayload struct {
	RemovedIds []string `json:"removedIds" validate:"required,min=1"`
}

type LeaderRequestPayload struct {
	DisplayName string `json:"displayName" validate:"required"`
}

type LeaderApprovePayload struct {
	RequesterId string `json:"requesterId" validate:"required"`
}

type LeaderDenyPayload struct {
	RequesterId string `json:"requesterId" validate:"required"`
}

type LeaderHandoffPayload struct {
	TargetId string `json:"targetId" validate:"required"`
}

type QueueAddPayload struct {
	Item    domain.QueueItem `json:"item" validate:"required"`
	ToFront bool             `json:"toFront"`
}

type QueueRemovePayload struct {
	ItemId string `json:"itemId" validate:"required"`
}

type QueueUpdatePayload struct {
	FromIndex int `json:"fromIndex" validate:"gte=0"`
	ToIndex   int `json:"toIndex" validate:"gte=0"`
}

type QueueNextPayload struct {
	Linear bool `json:"linear"`
}

type QueueSyncPayload struct {
	Items        []domain.QueueItem `json:"items"`
	CurrentIndex int                `json:"currentIndex" validate:"gte=-1"`
}

type SeekPayload struct {
	PositionSeconds float64 `json:"positionSeconds" validate:"gte=0"`
}

type LoadPayload struct {
	ContentId string `json:"contentId" validate:"required"`
}

type LoadPlaylistPayload struct {
	PlaylistId string `json:"playlistId" validate:"required"`
	Index      int    `json:"index" validate:"gte=0"`
}

type HeartbeatPayload struct {
	ContentId       string  `json:"contentId"`
	PositionSeconds float64 `json:"positionSeconds" validate:"gte=0"`
	IsPlaying       bool    `json:"isPlaying"`
	EmittedAt       int64   `json:"emittedAt" validate:"required"`
	PlaylistId      *string `json:"playlistId,omitempty"`
	PlaylistIndex   *int    `json:"playlistIndex,omitempty"`
}

type StateResponsePayload struct {
	LeaderId     *string            `json:"leaderId"`
	Members      []domain.Member    `json:"members"`
	Items        []domain.QueueItem `json:"items"`
	CurrentIndex int                `json:"currentIndex" validate:"gte=-1"`
}

// New builds a wire envelope from the local identity and an optional
// payload. A nil payload leaves the data field empty.
func New(messageType, userId string, payload any) (*msgrouter.Message, error) {
	msg := msgrouter.Message{
		Type:      messageType,
		UserId:    userId,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}

	return &msg, nil
}
