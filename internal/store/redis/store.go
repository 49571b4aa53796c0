package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/store"
)

// Repo keeps the three world blobs in redis under a per-world prefix.
// Writes are plain SETs, so the store layer itself is last-write-wins.
type Repo struct {
	rc      *redis.Client
	worldId string
	expire  time.Duration
}

func NewRepo(rc *redis.Client, worldId string, expire time.Duration) *Repo {
	return &Repo{
		rc:      rc,
		worldId: worldId,
		expire:  expire,
	}
}

func (r *Repo) leaderKey() string {
	return "world:" + r.worldId + ":leader"
}

func (r *Repo) membersKey() string {
	return "world:" + r.worldId + ":members"
}

func (r *Repo) queueKey() string {
	return "world:" + r.worldId + ":queue"
}

func (r *Repo) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode blob: %w", err)
	}

	if err := r.rc.Set(ctx, key, raw, r.expire).Err(); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	return nil
}

func (r *Repo) getJSON(ctx context.Context, key string, dest any) error {
	raw, err := r.rc.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to read blob: %w", err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode blob: %w", err)
	}

	return nil
}

func (r *Repo) SaveLeader(ctx context.Context, leaderId *string) error {
	if leaderId == nil {
		if err := r.rc.Del(ctx, r.leaderKey()).Err(); err != nil {
			return fmt.Errorf("failed to clear leader: %w", err)
		}
		return nil
	}

	if err := r.rc.Set(ctx, r.leaderKey(), *leaderId, r.expire).Err(); err != nil {
		return fmt.Errorf("failed to write leader: %w", err)
	}

	return nil
}

func (r *Repo) LoadLeader(ctx context.Context) (*string, error) {
	leaderId, err := r.rc.Get(ctx, r.leaderKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read leader: %w", err)
	}

	return &leaderId, nil
}

func (r *Repo) SaveMembers(ctx context.Context, members []domain.Member) error {
	return r.setJSON(ctx, r.membersKey(), members)
}

func (r *Repo) LoadMembers(ctx context.Context) ([]domain.Member, error) {
	var members []domain.Member
	if err := r.getJSON(ctx, r.membersKey(), &members); err != nil {
		return nil, err
	}

	return members, nil
}

func (r *Repo) SaveQueue(ctx context.Context, snapshot *store.QueueSnapshot) error {
	return r.setJSON(ctx, r.queueKey(), snapshot)
}

func (r *Repo) LoadQueue(ctx context.Context) (*store.QueueSnapshot, error) {
	var snapshot store.QueueSnapshot
	if err := r.getJSON(ctx, r.queueKey(), &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}
