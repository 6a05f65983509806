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

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/google/btree"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const degree = 8

// row is a stored counter. data is guarded by CounterStorage.mu, lock is held
// by the owning read-write transaction.
type row struct {
	name string
	data quota.Counter
	// pending is set while the creating transaction has not committed yet.
	pending bool
	lock    *semaphore.Weighted
}

func rowLess(a, b *row) bool {
	return a.name < b.name
}

// CounterStorage is an in-memory storage.CounterStorage.
type CounterStorage struct {
	mu   sync.RWMutex
	rows *btree.BTreeG[*row]
}

// NewCounterStorage returns an empty CounterStorage.
func NewCounterStorage() *CounterStorage {
	return &CounterStorage{rows: btree.NewG(degree, rowLess)}
}

// get returns the committed row for name, or nil. Requires s.mu.
func (s *CounterStorage) getLocked(name string) *row {
	r, ok := s.rows.Get(&row{name: name})
	if !ok {
		return nil
	}
	return r
}

func (s *CounterStorage) read(name string) (*quota.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.getLocked(name)
	if r == nil || r.pending {
		return nil, storage.CounterNotFound(name)
	}
	c := r.data
	return &c, nil
}

// Names returns the names of all committed counters in order.
func (s *CounterStorage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	s.rows.Ascend(func(r *row) bool {
		if !r.pending {
			names = append(names, r.name)
		}
		return true
	})
	return names
}

// CheckDatabaseAccessible always succeeds.
func (s *CounterStorage) CheckDatabaseAccessible(context.Context) error {
	return nil
}

// Snapshot starts a read-only transaction. Reads observe the latest committed
// values.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	return &snapshotTX{s: s}, nil
}

// ReadWriteTransaction runs f holding the locks of every counter it touches
// until it returns.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	tx := &counterTX{
		s:      s,
		held:   make(map[string]*row),
		writes: make(map[string]quota.Counter),
	}
	defer tx.rollback()
	if err := f(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type snapshotTX struct {
	s      *CounterStorage
	mu     sync.Mutex
	closed bool
}

func (t *snapshotTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, status.Error(codes.FailedPrecondition, "transaction is closed")
	}
	return t.s.read(name)
}

func (t *snapshotTX) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return status.Error(codes.FailedPrecondition, "transaction is closed")
	}
	t.closed = true
	return nil
}

func (t *snapshotTX) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type counterTX struct {
	s *CounterStorage

	mu      sync.Mutex
	held    map[string]*row
	created []*row
	writes  map[string]quota.Counter
	done    bool
}

// acquire takes the lock of the named row, waiting for the current holder to
// finish. Rows created by other transactions that then roll back are
// reported as not found.
func (t *counterTX) acquire(ctx context.Context, name string) (*row, error) {
	if r, ok := t.held[name]; ok {
		return r, nil
	}
	t.s.mu.RLock()
	r := t.s.getLocked(name)
	t.s.mu.RUnlock()
	if r == nil {
		return nil, storage.CounterNotFound(name)
	}

	if err := r.lock.Acquire(ctx, 1); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	t.s.mu.RLock()
	current := t.s.getLocked(name)
	t.s.mu.RUnlock()
	if current != r {
		r.lock.Release(1)
		return nil, storage.CounterNotFound(name)
	}
	t.held[name] = r
	return r, nil
}

func (t *counterTX) checkOpen() error {
	if t.done {
		return status.Error(codes.FailedPrecondition, "transaction is finished")
	}
	return nil
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if c, ok := t.writes[name]; ok {
		return &c, nil
	}
	return t.s.read(name)
}

func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	r, err := t.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	if c, ok := t.writes[name]; ok {
		return &c, nil
	}
	t.s.mu.RLock()
	c := r.data
	t.s.mu.RUnlock()
	return &c, nil
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.getLocked(name) != nil {
		return fmt.Errorf("memory: %q: %w", name, storage.ErrCounterExists)
	}
	r := &row{name: name, pending: true, lock: semaphore.NewWeighted(1)}
	r.lock.TryAcquire(1)
	t.s.rows.ReplaceOrInsert(r)
	t.held[name] = r
	t.created = append(t.created, r)
	t.writes[name] = quota.Counter{}
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if _, err := t.acquire(ctx, name); err != nil {
		return err
	}
	t.writes[name] = *c
	return nil
}

func (t *counterTX) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.s.mu.Lock()
	for name, c := range t.writes {
		t.held[name].data = c
	}
	for _, r := range t.created {
		r.pending = false
	}
	t.s.mu.Unlock()

	t.releaseLocked()
	return nil
}

// rollback discards the transaction. No-op after commit.
func (t *counterTX) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if len(t.created) > 0 {
		t.s.mu.Lock()
		for _, r := range t.created {
			t.s.rows.Delete(r)
		}
		t.s.mu.Unlock()
		klog.V(2).Infof("memory: rolled back creation of %d counter(s)", len(t.created))
	}
	t.releaseLocked()
}

func (t *counterTX) releaseLocked() {
	for _, r := range t.held {
		r.lock.Release(1)
	}
	t.held = nil
	t.done = true
}
