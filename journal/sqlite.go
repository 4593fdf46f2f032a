package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/tradejournal/broker"
	"github.com/rustyeddy/tradejournal/internal/observability"
	"github.com/rustyeddy/tradejournal/pkg/id"
)

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// One writer at a time; concurrent provisioning sequences queue here
	// instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, now: time.Now}, nil
}

const accountColumns = `id, remote_id, user_id, broker_name, platform, server, account_number, status, created_at, last_synced_at`

// upsertSQL only rewrites the row when a mutable field differs, so an
// identical repeat keeps last_synced_at as it was.
const upsertSQL = `
	INSERT INTO broker_accounts (` + accountColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(remote_id) DO UPDATE SET
		broker_name = excluded.broker_name,
		platform = excluded.platform,
		server = excluded.server,
		account_number = excluded.account_number,
		status = excluded.status,
		last_synced_at = excluded.last_synced_at
	WHERE broker_accounts.broker_name IS NOT excluded.broker_name
		OR broker_accounts.platform IS NOT excluded.platform
		OR broker_accounts.server IS NOT excluded.server
		OR broker_accounts.account_number IS NOT excluded.account_number
		OR broker_accounts.status IS NOT excluded.status`

func (j *SQLite) UpsertByRemoteID(ctx context.Context, remoteID, userID string, f broker.AccountFields) (broker.Account, error) {
	if err := checkUpsert(remoteID, userID, f); err != nil {
		return broker.Account{}, err
	}

	now := j.now().UTC()
	_, err := j.db.ExecContext(ctx, upsertSQL,
		id.New(), remoteID, userID, f.BrokerName, f.Platform, f.Server,
		f.AccountNumber, string(f.Status), now, now,
	)
	if err != nil {
		observability.StoreUpserts.WithLabelValues("sqlite", "error").Inc()
		return broker.Account{}, fmt.Errorf("upsert broker account %s: %w", remoteID, err)
	}
	observability.StoreUpserts.WithLabelValues("sqlite", "ok").Inc()

	return j.GetByRemoteID(ctx, remoteID)
}

func (j *SQLite) GetByRemoteID(ctx context.Context, remoteID string) (broker.Account, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM broker_accounts WHERE remote_id = ?`, remoteID)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.Account{}, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	return acct, err
}

func (j *SQLite) ListByUser(ctx context.Context, userID string, status *broker.Status) ([]broker.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM broker_accounts WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		q += ` AND status = ?`
		args = append(args, string(*status))
	}
	q += ` ORDER BY created_at, id`

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (j *SQLite) SetStatus(ctx context.Context, remoteID string, st broker.Status) error {
	if !st.Valid() {
		return fmt.Errorf("invalid status %q", st)
	}
	return j.update(ctx, remoteID,
		`UPDATE broker_accounts SET status = ?, last_synced_at = ? WHERE remote_id = ?`,
		string(st), j.now().UTC(), remoteID)
}

func (j *SQLite) MarkSynced(ctx context.Context, remoteID string, at time.Time) error {
	return j.update(ctx, remoteID,
		`UPDATE broker_accounts SET last_synced_at = ? WHERE remote_id = ?`,
		at.UTC(), remoteID)
}

func (j *SQLite) update(ctx context.Context, remoteID, q string, args ...any) error {
	res, err := j.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (broker.Account, error) {
	var (
		a      broker.Account
		status string
	)
	err := s.Scan(&a.ID, &a.RemoteID, &a.UserID, &a.BrokerName, &a.Platform,
		&a.Server, &a.AccountNumber, &status, &a.CreatedAt, &a.LastSyncedAt)
	if err != nil {
		return broker.Account{}, err
	}
	a.Status = broker.Status(status)
	return a, nil
}
