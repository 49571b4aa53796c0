package replicator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/message"
	"github.com/sessiondj/peer/internal/store"
	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
	"github.com/sessiondj/peer/pkg/validator"
)

type Config struct {
	HeartbeatInterval time.Duration
	GraceWindow       time.Duration
	MissedThreshold   int
}

func (cfg *Config) Validate() error {
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if cfg.GraceWindow < 0 {
		return fmt.Errorf("grace window must not be negative")
	}
	if cfg.MissedThreshold < 1 {
		return fmt.Errorf("missed threshold must be greater than 0")
	}
	return nil
}

type iDurableStore interface {
	SaveLeader(ctx context.Context, leaderId *string) error
	LoadLeader(ctx context.Context) (*string, error)
	SaveMembers(ctx context.Context, members []domain.Member) error
	LoadMembers(ctx context.Context) ([]domain.Member, error)
	SaveQueue(ctx context.Context, snapshot *store.QueueSnapshot) error
	LoadQueue(ctx context.Context) (*store.QueueSnapshot, error)
}

// broadcast sends one envelope. Local state has already been mutated
// by the time this is called; a send failure is surfaced but never
// rolled back, the next heartbeat or state request re-converges peers.
func broadcast(ctx context.Context, b transport.Broadcaster, logger *slog.Logger, messageType, userId string, payload any) error {
	msg, err := message.New(messageType, userId, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", messageType, err)
	}

	if err := b.Broadcast(ctx, msg); err != nil {
		logger.InfoContext(ctx, "failed to broadcast message", "type", messageType, "error", err)
		return fmt.Errorf("failed to broadcast %s: %w", messageType, err)
	}

	return nil
}

// decodePayload unmarshals and validates a message payload. A false
// return means the message must be dropped.
func decodePayload[T any](ctx context.Context, v *validator.Validator, logger *slog.Logger, msg *msgrouter.Message, dest *T) bool {
	if err := msg.DecodeData(dest); err != nil {
		logger.DebugContext(ctx, "dropping malformed payload", "type", msg.Type, "error", err)
		return false
	}

	if fieldErrors, ok := v.Validate(dest); !ok {
		logger.DebugContext(ctx, "dropping invalid payload", "type", msg.Type, "errors", fieldErrors)
		return false
	}

	return true
}
