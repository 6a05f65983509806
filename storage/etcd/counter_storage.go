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

// Package etcd provides an etcd based implementation of counter storage.
//
// Each counter is one key holding a storagepb Counter message. Read-write
// transactions are serializable STMs: a transaction whose reads were
// invalidated by a concurrent commit is re-run, which gives LockCounter the
// same effect as a row lock.
package etcd

import (
	"context"
	"fmt"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/storage/storagepb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultPrefix is the key prefix of counters.
const DefaultPrefix = "counters/"

// CounterStorage stores counters in etcd.
type CounterStorage struct {
	client *clientv3.Client
	prefix string
}

// NewCounterStorage returns a counter storage keeping counters under prefix.
func NewCounterStorage(client *clientv3.Client, prefix string) *CounterStorage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CounterStorage{client: client, prefix: prefix}
}

func (s *CounterStorage) key(name string) string {
	return s.prefix + name
}

// CheckDatabaseAccessible issues a count-only read of the counter prefix.
func (s *CounterStorage) CheckDatabaseAccessible(ctx context.Context) error {
	_, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	return err
}

// Snapshot returns a read-only view using serializable reads, which may be
// served by any member and can be stale.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	return &snapshotTX{s: s}, nil
}

// ReadWriteTransaction runs f in a serializable STM. f is re-run whenever a
// key it read was modified before the commit.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		return f(ctx, &counterTX{s: s, stm: stm, created: make(map[string]bool)})
	}, concurrency.WithIsolation(concurrency.Serializable), concurrency.WithAbortContext(ctx))
	return err
}

type snapshotTX struct {
	s      *CounterStorage
	closed bool
}

func (t *snapshotTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	if t.closed {
		return nil, status.Error(codes.FailedPrecondition, "snapshot already closed")
	}
	resp, err := t.s.client.Get(ctx, t.s.key(name), clientv3.WithSerializable())
	if err != nil {
		return nil, fmt.Errorf("reading counter %q: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, storage.CounterNotFound(name)
	}
	return storagepb.UnmarshalCounter(resp.Kvs[0].Value)
}

func (t *snapshotTX) Commit(context.Context) error {
	t.closed = true
	return nil
}

func (t *snapshotTX) Close() error {
	t.closed = true
	return nil
}

type counterTX struct {
	s   *CounterStorage
	stm concurrency.STM
	// created holds keys put by this attempt. A zero counter encodes to an
	// empty value, so existence is judged by revision rather than value.
	created map[string]bool
}

func (t *counterTX) exists(key string) bool {
	return t.created[key] || t.stm.Rev(key) > 0
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	key := t.s.key(name)
	v := t.stm.Get(key)
	if !t.exists(key) {
		return nil, storage.CounterNotFound(name)
	}
	return storagepb.UnmarshalCounter([]byte(v))
}

// LockCounter reads name. Serializable STMs validate every read at commit, so
// a concurrent writer forces this transaction to re-run.
func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.ReadCounter(ctx, name)
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	key := t.s.key(name)
	t.stm.Get(key)
	if t.exists(key) {
		return storage.ErrCounterExists
	}
	t.stm.Put(key, string(storagepb.MarshalCounter(&quota.Counter{})))
	t.created[key] = true
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	key := t.s.key(name)
	t.stm.Get(key)
	if !t.exists(key) {
		return storage.CounterNotFound(name)
	}
	t.stm.Put(key, string(storagepb.MarshalCounter(c)))
	return nil
}
