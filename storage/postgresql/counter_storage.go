// Copyright 2026 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgresql provides a PostgreSQL based implementation of counter
// storage, using the pgx driver.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	counterTable = "Counters"
	nameColumn   = "CounterName"
)

var valueColumns = []string{"cnt_sec", "cnt_min", "cnt_hr", "cnt_day", "cnt_mnt", "last_update"}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// OpenDB opens a database connection pool for all PostgreSQL-based storage
// implementations.
func OpenDB(dbURL string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open PostgreSQL database, check config: %s", err)
		return nil, err
	}

	return db, nil
}

// CounterStorage stores counters in a PostgreSQL database. Locking reads use
// SELECT ... FOR UPDATE.
type CounterStorage struct {
	db *pgxpool.Pool
}

// NewCounterStorage returns a counter storage using db, which must hold the
// schema in schema/storage.sql.
func NewCounterStorage(db *pgxpool.Pool) *CounterStorage {
	return &CounterStorage{db: db}
}

// CheckDatabaseAccessible pings the database.
func (s *CounterStorage) CheckDatabaseAccessible(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Snapshot returns a read-only view backed by autocommit reads on the pool.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	return &snapshotTX{db: s.db}, nil
}

// ReadWriteTransaction runs f in a transaction, retrying it after
// serialization failures and deadlocks.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	return storage.RetryAborted(ctx, 0, "postgresql", func() error {
		var fErr error
		err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			fErr = f(ctx, &counterTX{tx: tx})
			return fErr
		})
		if err != nil && fErr != nil && errors.Is(err, fErr) {
			return fErr
		}
		return postgresqlToGRPC(err)
	})
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readCounter(ctx context.Context, q querier, name string, lock bool) (*quota.Counter, error) {
	b := psql.Select(valueColumns...).From(counterTable).Where(sq.Eq{nameColumn: name})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var c quota.Counter
	err = q.QueryRow(ctx, query, args...).Scan(&c.Second, &c.Minute, &c.Hour, &c.Day, &c.Month, &c.LastUpdate)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.CounterNotFound(name)
	case err != nil:
		return nil, postgresqlToGRPC(fmt.Errorf("reading counter %q: %w", name, err))
	}
	return &c, nil
}

type snapshotTX struct {
	db *pgxpool.Pool

	mu     sync.Mutex
	closed bool
}

func (t *snapshotTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, status.Error(codes.FailedPrecondition, "snapshot already closed")
	}
	return readCounter(ctx, t.db, name, false)
}

func (t *snapshotTX) Commit(context.Context) error {
	return t.Close()
}

func (t *snapshotTX) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type counterTX struct {
	tx pgx.Tx
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return readCounter(ctx, t.tx, name, false)
}

func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return readCounter(ctx, t.tx, name, true)
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	query, args, err := psql.
		Insert(counterTable).
		Columns(append([]string{nameColumn}, valueColumns...)...).
		Values(name, 0, 0, 0, 0, 0, 0).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		if isDuplicateErr(err) {
			return storage.ErrCounterExists
		}
		return postgresqlToGRPC(fmt.Errorf("creating counter %q: %w", name, err))
	}
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	query, args, err := psql.
		Update(counterTable).
		SetMap(map[string]interface{}{
			"cnt_sec":     c.Second,
			"cnt_min":     c.Minute,
			"cnt_hr":      c.Hour,
			"cnt_day":     c.Day,
			"cnt_mnt":     c.Month,
			"last_update": c.LastUpdate,
		}).
		Where(sq.Eq{nameColumn: name}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return postgresqlToGRPC(fmt.Errorf("writing counter %q: %w", name, err))
	}
	if tag.RowsAffected() == 0 {
		return storage.CounterNotFound(name)
	}
	return nil
}
