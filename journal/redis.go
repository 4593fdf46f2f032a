package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/internal/observability"
	"github.com/rustyeddy/tradejournal/pkg/id"
)

// Redis stores each account as a hash and indexes accounts per user in a
// set. Writes that must compare-then-set run as Lua scripts.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// upsertScript returns 1 on create, 2 on update and 0 when nothing changed.
//
// KEYS[1] account hash, KEYS[2] user index set
// ARGV id, remote_id, user_id, broker_name, platform, server,
// account_number, status, now
var upsertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("HSET", KEYS[1],
		"id", ARGV[1], "remote_id", ARGV[2], "user_id", ARGV[3],
		"broker_name", ARGV[4], "platform", ARGV[5], "server", ARGV[6],
		"account_number", ARGV[7], "status", ARGV[8],
		"created_at", ARGV[9], "last_synced_at", ARGV[9])
	redis.call("SADD", KEYS[2], ARGV[2])
	return 1
end
local cur = redis.call("HMGET", KEYS[1], "broker_name", "platform", "server", "account_number", "status")
if cur[1] == ARGV[4] and cur[2] == ARGV[5] and cur[3] == ARGV[6] and cur[4] == ARGV[7] and cur[5] == ARGV[8] then
	return 0
end
redis.call("HSET", KEYS[1],
	"broker_name", ARGV[4], "platform", ARGV[5], "server", ARGV[6],
	"account_number", ARGV[7], "status", ARGV[8], "last_synced_at", ARGV[9])
return 2
`)

// setFieldsScript updates fields of an existing hash; returns 0 if missing.
var setFieldsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

func OpenRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(client, "tradejournal"), nil
}

// NewRedis wraps an existing client; keys are namespaced under prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) accountKey(remoteID string) string {
	return r.prefix + ":broker_account:" + remoteID
}

func (r *Redis) userKey(userID string) string {
	return r.prefix + ":user:" + userID + ":broker_accounts"
}

func (r *Redis) UpsertByRemoteID(ctx context.Context, remoteID, userID string, f broker.AccountFields) (broker.Account, error) {
	if err := checkUpsert(remoteID, userID, f); err != nil {
		return broker.Account{}, err
	}

	now := r.now().UTC().Format(time.RFC3339Nano)
	err := upsertScript.Run(ctx, r.client,
		[]string{r.accountKey(remoteID), r.userKey(userID)},
		id.New(), remoteID, userID, f.BrokerName, f.Platform, f.Server,
		f.AccountNumber, string(f.Status), now,
	).Err()
	if err != nil {
		observability.StoreUpserts.WithLabelValues("redis", "error").Inc()
		return broker.Account{}, fmt.Errorf("upsert broker account %s: %w", remoteID, err)
	}
	observability.StoreUpserts.WithLabelValues("redis", "ok").Inc()

	return r.GetByRemoteID(ctx, remoteID)
}

func (r *Redis) GetByRemoteID(ctx context.Context, remoteID string) (broker.Account, error) {
	m, err := r.client.HGetAll(ctx, r.accountKey(remoteID)).Result()
	if err != nil {
		return broker.Account{}, err
	}
	if len(m) == 0 {
		return broker.Account{}, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	return accountFromHash(m)
}

func (r *Redis) ListByUser(ctx context.Context, userID string, status *broker.Status) ([]broker.Account, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, rid := range ids {
			cmds[i] = p.HGetAll(ctx, r.accountKey(rid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []broker.Account
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		acct, err := accountFromHash(m)
		if err != nil {
			return nil, err
		}
		if status != nil && acct.Status != *status {
			continue
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Redis) SetStatus(ctx context.Context, remoteID string, st broker.Status) error {
	if !st.Valid() {
		return fmt.Errorf("invalid status %q", st)
	}
	return r.setFields(ctx, remoteID,
		"status", string(st),
		"last_synced_at", r.now().UTC().Format(time.RFC3339Nano))
}

func (r *Redis) MarkSynced(ctx context.Context, remoteID string, at time.Time) error {
	return r.setFields(ctx, remoteID, "last_synced_at", at.UTC().Format(time.RFC3339Nano))
}

func (r *Redis) setFields(ctx context.Context, remoteID string, kv ...any) error {
	n, err := setFieldsScript.Run(ctx, r.client, []string{r.accountKey(remoteID)}, kv...).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func accountFromHash(m map[string]string) (broker.Account, error) {
	created, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return broker.Account{}, fmt.Errorf("created_at: %w", err)
	}
	synced, err := time.Parse(time.RFC3339Nano, m["last_synced_at"])
	if err != nil {
		return broker.Account{}, fmt.Errorf("last_synced_at: %w", err)
	}
	if m["remote_id"] == "" {
		return broker.Account{}, errors.New("broker account hash without remote_id")
	}
	return broker.Account{
		ID:            m["id"],
		RemoteID:      m["remote_id"],
		UserID:        m["user_id"],
		BrokerName:    m["broker_name"],
		Platform:      m["platform"],
		Server:        m["server"],
		AccountNumber: m["account_number"],
		Status:        broker.Status(m["status"]),
		CreatedAt:     created,
		LastSyncedAt:  synced,
	}, nil
}
