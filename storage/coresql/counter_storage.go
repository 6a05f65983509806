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

// Package coresql implements storage.CounterStorage on top of database/sql.
// Database specific behaviour is supplied by a Dialect, so the same code
// serves MySQL, CockroachDB and SQLite.
package coresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	// TableName is the table holding one row per counter.
	TableName = "Counters"
	// NameColumn is the primary key column of TableName.
	NameColumn = "CounterName"
)

// ValueColumns lists the persisted Counter fields, in scan order.
var ValueColumns = []string{"cnt_sec", "cnt_min", "cnt_hr", "cnt_day", "cnt_mnt", "last_update"}

// TxRunner runs fn in a transaction on db, committing if fn returns nil.
type TxRunner func(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) error

// Dialect captures the differences between SQL databases.
type Dialect struct {
	// Name is used in log messages.
	Name string
	// Placeholder is the bind parameter style of the database.
	Placeholder sq.PlaceholderFormat
	// LockSuffix is appended to locking reads, e.g. "FOR UPDATE". Empty for
	// databases whose write transactions already exclude each other.
	LockSuffix string
	// TxOptions are passed when starting read-write transactions.
	TxOptions *sql.TxOptions
	// IsDuplicateErr reports whether err is a unique key violation.
	IsDuplicateErr func(error) bool
	// ToGRPC converts database errors into status errors. Conflicts which
	// are safe to retry must map to codes.Aborted.
	ToGRPC func(error) error
	// RunTx overrides the default begin/commit/rollback cycle. Optional.
	RunTx TxRunner
	// MaxAttempts bounds retries of transactions failing with codes.Aborted.
	// Zero means storage.DefaultMaxAttempts.
	MaxAttempts int
}

func (d Dialect) toGRPC(err error) error {
	if err == nil || d.ToGRPC == nil {
		return err
	}
	return d.ToGRPC(err)
}

// CounterStorage is a storage.CounterStorage backed by a *sql.DB.
type CounterStorage struct {
	db *sql.DB
	d  Dialect
}

// NewCounterStorage returns a storage.CounterStorage using db.
func NewCounterStorage(db *sql.DB, d Dialect) *CounterStorage {
	if d.Placeholder == nil {
		d.Placeholder = sq.Question
	}
	return &CounterStorage{db: db, d: d}
}

// DB returns the underlying database handle.
func (s *CounterStorage) DB() *sql.DB {
	return s.db
}

func (s *CounterStorage) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.d.Placeholder)
}

// CheckDatabaseAccessible pings the database.
func (s *CounterStorage) CheckDatabaseAccessible(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Snapshot returns a read-only view. Reads are plain autocommit queries on
// the pool: they take no locks, so a snapshot never waits for a writer.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	return &snapshotTX{s: s}, nil
}

// ReadWriteTransaction runs f in a database transaction, retrying it when
// the database reports a conflict.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	return storage.RetryAborted(ctx, s.d.MaxAttempts, s.d.Name, func() error {
		return s.runOnce(ctx, f)
	})
}

func (s *CounterStorage) runOnce(ctx context.Context, f storage.CounterTXFunc) error {
	// The error returned by f is kept as is, so that callers can match
	// sentinel errors through the transaction.
	var fErr error
	body := func(tx *sql.Tx) error {
		fErr = f(ctx, &counterTX{tx: tx, s: s})
		return fErr
	}
	run := s.d.RunTx
	if run == nil {
		run = defaultRunTx
	}
	err := run(ctx, s.db, s.d.TxOptions, body)
	if err != nil && fErr != nil && errors.Is(err, fErr) {
		return fErr
	}
	return s.d.toGRPC(err)
}

func defaultRunTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			klog.Warningf("Rollback error on tx: %v", rerr)
		}
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *CounterStorage) readCounter(ctx context.Context, q queryer, name string, lock bool) (*quota.Counter, error) {
	b := s.builder().Select(ValueColumns...).From(TableName).Where(sq.Eq{NameColumn: name})
	if lock && s.d.LockSuffix != "" {
		b = b.Suffix(s.d.LockSuffix)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var c quota.Counter
	err = q.QueryRowContext(ctx, query, args...).Scan(&c.Second, &c.Minute, &c.Hour, &c.Day, &c.Month, &c.LastUpdate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, storage.CounterNotFound(name)
	case err != nil:
		return nil, s.d.toGRPC(fmt.Errorf("reading counter %q: %w", name, err))
	}
	return &c, nil
}

type snapshotTX struct {
	s *CounterStorage

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
	return t.s.readCounter(ctx, t.s.db, name, false)
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
	tx *sql.Tx
	s  *CounterStorage
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.s.readCounter(ctx, t.tx, name, false)
}

func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.s.readCounter(ctx, t.tx, name, true)
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	query, args, err := t.s.builder().
		Insert(TableName).
		Columns(append([]string{NameColumn}, ValueColumns...)...).
		Values(name, 0, 0, 0, 0, 0, 0).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if t.s.d.IsDuplicateErr != nil && t.s.d.IsDuplicateErr(err) {
			return storage.ErrCounterExists
		}
		return t.s.d.toGRPC(fmt.Errorf("creating counter %q: %w", name, err))
	}
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	query, args, err := t.s.builder().
		Update(TableName).
		SetMap(map[string]interface{}{
			"cnt_sec":     c.Second,
			"cnt_min":     c.Minute,
			"cnt_hr":      c.Hour,
			"cnt_day":     c.Day,
			"cnt_mnt":     c.Month,
			"last_update": c.LastUpdate,
		}).
		Where(sq.Eq{NameColumn: name}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return t.s.d.toGRPC(fmt.Errorf("writing counter %q: %w", name, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// MySQL reports zero affected rows when the new values equal the old
	// ones, so a miss is confirmed with a read.
	if n == 0 {
		if _, err := t.s.readCounter(ctx, t.tx, name, false); err != nil {
			return err
		}
	}
	return nil
}
