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

// Package cloudspanner stores counters in Cloud Spanner.
//
// Reads inside a read-write transaction take Spanner's row locks, and
// conflicting transactions are aborted and re-run by the client library, so
// LockCounter serializes read-modify-write cycles across every node sharing
// the database.
package cloudspanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	counterTable = "Counters"
	nameColumn   = "CounterName"
)

var (
	valueColumns = []string{"cnt_sec", "cnt_min", "cnt_hr", "cnt_day", "cnt_mnt", "last_update"}
	allColumns   = append([]string{nameColumn}, valueColumns...)
)

// CounterStorageOptions are tuning options for the Spanner backend.
type CounterStorageOptions struct {
	// ReadOnlyStaleness is how far in the past snapshot reads are served.
	// Zero means strong reads.
	ReadOnlyStaleness time.Duration
}

// CounterStorage is a storage.CounterStorage on a Spanner database holding
// the Counters table of schema/storage.sdl.
type CounterStorage struct {
	client *spanner.Client
	opts   CounterStorageOptions
}

// NewCounterStorage returns a CounterStorage using client.
func NewCounterStorage(client *spanner.Client, opts CounterStorageOptions) *CounterStorage {
	return &CounterStorage{client: client, opts: opts}
}

// CheckDatabaseAccessible runs a trivial query.
func (s *CounterStorage) CheckDatabaseAccessible(ctx context.Context) error {
	return s.client.Single().Query(ctx, spanner.NewStatement("SELECT 1")).Do(func(*spanner.Row) error {
		return nil
	})
}

// Snapshot starts a read-only transaction.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	tx := s.client.ReadOnlyTransaction()
	if s.opts.ReadOnlyStaleness > 0 {
		tx = tx.WithTimestampBound(spanner.ExactStaleness(s.opts.ReadOnlyStaleness))
	}
	return &snapshotTX{tx: tx}, nil
}

// ReadWriteTransaction runs f in a Spanner read-write transaction. Aborted
// transactions are re-run by the client library.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	var fErr error
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, stx *spanner.ReadWriteTransaction) error {
		fErr = f(ctx, &counterTX{stx: stx, written: make(map[string]*quota.Counter)})
		return fErr
	})
	if err == nil {
		return nil
	}
	if fErr != nil && errors.Is(err, fErr) {
		return fErr
	}
	return toStorageErr(err)
}

// toStorageErr maps commit failures. Inserts are buffered until commit, so a
// lost creation race surfaces here as AlreadyExists.
func toStorageErr(err error) error {
	switch status.Code(err) {
	case codes.AlreadyExists:
		return storage.ErrCounterExists
	case codes.Aborted:
		return status.Errorf(codes.Aborted, "Spanner: %v", err)
	}
	return err
}

type rowReader interface {
	ReadRow(ctx context.Context, table string, key spanner.Key, columns []string) (*spanner.Row, error)
}

func readCounter(ctx context.Context, r rowReader, name string) (*quota.Counter, error) {
	row, err := r.ReadRow(ctx, counterTable, spanner.Key{name}, valueColumns)
	switch {
	case spanner.ErrCode(err) == codes.NotFound:
		return nil, storage.CounterNotFound(name)
	case err != nil:
		return nil, fmt.Errorf("reading counter %q: %w", name, err)
	}
	var c quota.Counter
	if err := row.Columns(&c.Second, &c.Minute, &c.Hour, &c.Day, &c.Month, &c.LastUpdate); err != nil {
		return nil, fmt.Errorf("decoding counter %q: %w", name, err)
	}
	return &c, nil
}

type snapshotTX struct {
	tx *spanner.ReadOnlyTransaction
}

func (t *snapshotTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return readCounter(ctx, t.tx, name)
}

func (t *snapshotTX) Commit(context.Context) error {
	t.tx.Close()
	return nil
}

func (t *snapshotTX) Close() error {
	t.tx.Close()
	return nil
}

// counterTX buffers mutations, which Spanner does not show to later reads of
// the same transaction; written holds them so reads see this transaction's
// own writes.
type counterTX struct {
	stx     *spanner.ReadWriteTransaction
	written map[string]*quota.Counter
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	if c, ok := t.written[name]; ok {
		cp := *c
		return &cp, nil
	}
	return readCounter(ctx, t.stx, name)
}

func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.ReadCounter(ctx, name)
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	if _, err := t.ReadCounter(ctx, name); err == nil {
		return storage.ErrCounterExists
	} else if !storage.IsNotFound(err) {
		return err
	}
	m := spanner.Insert(counterTable, allColumns, []interface{}{name, 0, 0, 0, 0, 0, 0})
	if err := t.stx.BufferWrite([]*spanner.Mutation{m}); err != nil {
		return err
	}
	t.written[name] = &quota.Counter{}
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	if _, err := t.ReadCounter(ctx, name); err != nil {
		return err
	}
	m := spanner.Update(counterTable, allColumns, []interface{}{name, c.Second, c.Minute, c.Hour, c.Day, c.Month, c.LastUpdate})
	if err := t.stx.BufferWrite([]*spanner.Mutation{m}); err != nil {
		return err
	}
	cp := *c
	t.written[name] = &cp
	klog.V(3).Infof("Spanner: buffered write of %q", name)
	return nil
}
