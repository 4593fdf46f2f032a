// Package journal persists broker account records for the trading journal.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/config"
)

var ErrNotFound = errors.New("broker account not found")

// Store is keyed by the provider's remote account id. UpsertByRemoteID is
// idempotent: repeating a call with identical fields leaves the record
// untouched, and CreatedAt never changes after the first write.
type Store interface {
	UpsertByRemoteID(ctx context.Context, remoteID, userID string, f broker.AccountFields) (broker.Account, error)
	GetByRemoteID(ctx context.Context, remoteID string) (broker.Account, error)
	ListByUser(ctx context.Context, userID string, status *broker.Status) ([]broker.Account, error)
	SetStatus(ctx context.Context, remoteID string, st broker.Status) error
	MarkSynced(ctx context.Context, remoteID string, at time.Time) error
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLite(cfg.DBPath)
	case "redis":
		return OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}

func checkUpsert(remoteID, userID string, f broker.AccountFields) error {
	if remoteID == "" {
		return errors.New("remote id is required")
	}
	if userID == "" {
		return errors.New("user id is required")
	}
	if !f.Status.Valid() {
		return fmt.Errorf("invalid status %q", f.Status)
	}
	return nil
}
