package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/finlit-network/backend/internal/metrics"
	"github.com/sirupsen/logrus"
)

// SQLBackend stores values in the ledger_kv table. The queries use only
// numbered placeholders and ON CONFLICT upserts, so the same statements run
// on postgres (lib/pq) and sqlite (go-sqlite3).
type SQLBackend struct {
	db      *sql.DB
	name    string // backend label for logs and metrics
	timeout time.Duration
	lease   leaseTiming
	log     logrus.FieldLogger
}

func NewSQLBackend(db *sql.DB, name string, log logrus.FieldLogger) *SQLBackend {
	return &SQLBackend{
		db:      db,
		name:    name,
		timeout: DefaultTimeout,
		lease:   defaultLeaseTiming(),
		log:     log.WithField("component", "storage").WithField("backend", name),
	}
}

func (b *SQLBackend) Scope(namespace string) Store {
	return &sqlStore{backend: b, namespace: namespace}
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (b *SQLBackend) Close() error { return nil }

const (
	selectValueSQL = `SELECT item_value FROM ledger_kv WHERE namespace = $1 AND item_key = $2`
	upsertValueSQL = `INSERT INTO ledger_kv (namespace, item_key, item_value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, item_key)
		DO UPDATE SET item_value = excluded.item_value, updated_at = CURRENT_TIMESTAMP`

	// The single ledger_writer row is taken over only by its owner or once
	// it has expired. Expiry is unix milliseconds so both engines compare it
	// the same way.
	claimLeaseSQL = `INSERT INTO ledger_writer (id, owner, expires_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id)
		DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE ledger_writer.owner = excluded.owner OR ledger_writer.expires_at < $3`
	releaseLeaseSQL = `DELETE FROM ledger_writer WHERE id = 1 AND owner = $1`
)

func (b *SQLBackend) get(namespace, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var value string
	err := b.db.QueryRowContext(ctx, selectValueSQL, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		b.log.WithError(err).WithField("key", key).Warn("read failed")
		metrics.RecordStoreFailure(b.name, "get")
		return "", false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return value, true, nil
}

func (b *SQLBackend) set(namespace, key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(ctx, upsertValueSQL, namespace, key, value); err != nil {
		b.log.WithError(err).WithField("key", key).Warn("write dropped")
		metrics.RecordStoreFailure(b.name, "set")
	}
}

type sqlStore struct {
	backend   *SQLBackend
	namespace string
}

func (s *sqlStore) Get(key string) (string, bool, error) {
	return s.backend.get(s.namespace, key)
}

func (s *sqlStore) Set(key, value string) {
	s.backend.set(s.namespace, key, value)
}

// ── Writer lease ────────────────────────────────────────

func (b *SQLBackend) AcquireWriter(ctx context.Context, owner string) (<-chan struct{}, error) {
	held, err := b.claimLease(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire writer lease: %w", err)
	}
	if !held {
		return nil, ErrWriterActive
	}
	b.log.WithField("owner", owner).Info("writer lease acquired")

	renew := func(ctx context.Context) (bool, error) { return b.claimLease(ctx, owner) }
	release := func(ctx context.Context) {
		if _, err := b.db.ExecContext(ctx, releaseLeaseSQL, owner); err != nil {
			b.log.WithError(err).Warn("writer lease release failed")
		}
	}
	return holdLease(ctx, b.lease, renew, release, b.log), nil
}

func (b *SQLBackend) claimLease(ctx context.Context, owner string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := time.Now()
	res, err := b.db.ExecContext(ctx, claimLeaseSQL, owner, now.Add(b.lease.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
