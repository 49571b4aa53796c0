package store

import (
	"context"
	"errors"

	"github.com/sessiondj/peer/internal/domain"
)

var ErrNotFound = errors.New("blob not found")

// QueueSnapshot is the durable form of the queue blob.
type QueueSnapshot struct {
	Items            []domain.QueueItem `json:"items"`
	CurrentIndex     int                `json:"current_index"`
	Mode             domain.QueueMode   `json:"mode"`
	LoadedSavedSetId *string            `json:"loaded_saved_set_id,omitempty"`
}

// Store is the durable world store: three independently written blobs
// with last-write-wins semantics. It is a slow consistency backstop
// read at startup and reconnect, never the primary replication path.
type Store interface {
	SaveLeader(ctx context.Context, leaderId *string) error
	LoadLeader(ctx context.Context) (*string, error)

	SaveMembers(ctx context.Context, members []domain.Member) error
	LoadMembers(ctx context.Context) ([]domain.Member, error)

	SaveQueue(ctx context.Context, snapshot *QueueSnapshot) error
	LoadQueue(ctx context.Context) (*QueueSnapshot, error)
}
