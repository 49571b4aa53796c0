package domain

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotLeader        = errors.New("caller is not the leader")
	ErrLeaderAlreadySet = errors.New("another member already holds leadership")
	ErrMemberNotFound   = errors.New("member not found")
	ErrItemNotFound     = errors.New("queue item not found")
	ErrInvalidIndex     = errors.New("index out of range")
	ErrNotJoined        = errors.New("local peer has not joined the session")
)
