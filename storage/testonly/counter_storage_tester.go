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

// Package testonly holds test-specific code for counter storage, including a
// conformance suite every backend runs.
package testonly

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

// CounterStorageTester runs a suite of tests against CounterStorage
// implementations.
type CounterStorageTester struct {
	// NewCounterStorage returns a CounterStorage pointing to a test
	// database. Tests use unique counter names, so the database may be
	// shared between tests.
	NewCounterStorage func() storage.CounterStorage

	// Writers is the number of concurrent transactions used by the locking
	// tests. Defaults to 10.
	Writers int
}

// RunAllTests runs all CounterStorage tests.
func (tester *CounterStorageTester) RunAllTests(t *testing.T) {
	t.Run("TestCreateCounter", tester.TestCreateCounter)
	t.Run("TestReadMissingCounter", tester.TestReadMissingCounter)
	t.Run("TestWriteCounter", tester.TestWriteCounter)
	t.Run("TestRollback", tester.TestRollback)
	t.Run("TestLockSerializesWriters", tester.TestLockSerializesWriters)
	t.Run("TestConcurrentCreate", tester.TestConcurrentCreate)
	t.Run("TestCheckDatabaseAccessible", tester.TestCheckDatabaseAccessible)
}

var nameSeq int64

// uniqueName returns a counter name no other test uses.
func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s/%d-%d", t.Name(), time.Now().UnixNano(), atomic.AddInt64(&nameSeq, 1))
}

func mustCreate(ctx context.Context, t *testing.T, s storage.CounterStorage, name string) {
	t.Helper()
	if err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		return tx.CreateCounter(ctx, name)
	}); err != nil {
		t.Fatalf("CreateCounter(%q): %v", name, err)
	}
}

// TestCreateCounter tests counter creation and duplicate detection.
func (tester *CounterStorageTester) TestCreateCounter(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name := uniqueName(t)

	mustCreate(ctx, t, s, name)

	got, err := storage.ReadCounter(ctx, s, name)
	if err != nil {
		t.Fatalf("ReadCounter() = %v, want nil", err)
	}
	if diff := cmp.Diff(&quota.Counter{}, got); diff != "" {
		t.Errorf("ReadCounter() of new counter diff (-want +got):\n%s", diff)
	}

	err = s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		return tx.CreateCounter(ctx, name)
	})
	if !errors.Is(err, storage.ErrCounterExists) {
		t.Errorf("CreateCounter() of existing counter = %v, want %v", err, storage.ErrCounterExists)
	}
}

// TestReadMissingCounter checks that unknown names are reported as NotFound
// by every read path.
func (tester *CounterStorageTester) TestReadMissingCounter(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name := uniqueName(t)

	if _, err := storage.ReadCounter(ctx, s, name); !storage.IsNotFound(err) {
		t.Errorf("ReadCounter() = %v, want NotFound", err)
	}
	err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		_, err := tx.LockCounter(ctx, name)
		return err
	})
	if !storage.IsNotFound(err) {
		t.Errorf("LockCounter() = %v, want NotFound", err)
	}
}

// TestWriteCounter checks that committed writes are read back exactly.
func (tester *CounterStorageTester) TestWriteCounter(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name := uniqueName(t)
	mustCreate(ctx, t, s, name)

	want := &quota.Counter{Second: 1, Minute: 2, Hour: 3, Day: 4, Month: -5, LastUpdate: 1710498030500}
	if err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		c, err := tx.LockCounter(ctx, name)
		if err != nil {
			return err
		}
		*c = *want
		if err := tx.WriteCounter(ctx, name, c); err != nil {
			return err
		}
		// Mutating the caller's copy must not leak into storage.
		c.Second = 1000
		return nil
	}); err != nil {
		t.Fatalf("ReadWriteTransaction() = %v", err)
	}

	got, err := storage.ReadCounter(ctx, s, name)
	if err != nil {
		t.Fatalf("ReadCounter() = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadCounter() diff (-want +got):\n%s", diff)
	}
}

// TestRollback checks that a failed transaction leaves no trace.
func (tester *CounterStorageTester) TestRollback(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name, created := uniqueName(t), uniqueName(t)
	mustCreate(ctx, t, s, name)

	errAbort := errors.New("abort")
	err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		c, err := tx.LockCounter(ctx, name)
		if err != nil {
			return err
		}
		c.Minute = 99
		if err := tx.WriteCounter(ctx, name, c); err != nil {
			return err
		}
		if err := tx.CreateCounter(ctx, created); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("ReadWriteTransaction() = %v, want %v", err, errAbort)
	}

	got, err := storage.ReadCounter(ctx, s, name)
	if err != nil {
		t.Fatalf("ReadCounter() = %v", err)
	}
	if got.Minute != 0 {
		t.Errorf("ReadCounter().Minute = %v after rollback, want 0", got.Minute)
	}
	if _, err := storage.ReadCounter(ctx, s, created); !storage.IsNotFound(err) {
		t.Errorf("ReadCounter() of counter created in rolled back tx = %v, want NotFound", err)
	}

	// The lock must have been released.
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.ReadWriteTransaction(cctx, func(ctx context.Context, tx storage.CounterTX) error {
		_, err := tx.LockCounter(ctx, name)
		return err
	}); err != nil {
		t.Errorf("LockCounter() after rollback = %v", err)
	}
}

// TestLockSerializesWriters runs concurrent read-modify-write transactions on
// one counter and checks that none of the updates is lost.
func (tester *CounterStorageTester) TestLockSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name := uniqueName(t)
	mustCreate(ctx, t, s, name)

	writers := tester.writers()
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			return retry(ctx, func() error {
				return s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
					c, err := tx.LockCounter(ctx, name)
					if err != nil {
						return err
					}
					c.Second++
					c.Month += 2
					return tx.WriteCounter(ctx, name, c)
				})
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ReadWriteTransaction() = %v", err)
	}

	got, err := storage.ReadCounter(ctx, s, name)
	if err != nil {
		t.Fatalf("ReadCounter() = %v", err)
	}
	if got.Second != int64(writers) || got.Month != int64(2*writers) {
		t.Errorf("ReadCounter() = %+v, want Second = %v, Month = %v", got, writers, 2*writers)
	}
}

// TestConcurrentCreate races creators of the same counter: all must succeed
// and exactly one must have inserted the row.
func (tester *CounterStorageTester) TestConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := tester.NewCounterStorage()
	name := uniqueName(t)

	writers := tester.writers()
	var inserted int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			return retry(ctx, func() error {
				created, err := storage.EnsureCounter(ctx, s, name)
				if created {
					atomic.AddInt32(&inserted, 1)
				}
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent EnsureCounter() = %v", err)
	}
	if inserted != 1 {
		t.Errorf("EnsureCounter() reported %d insertions, want 1", inserted)
	}
}

// TestCheckDatabaseAccessible checks the health probe.
func (tester *CounterStorageTester) TestCheckDatabaseAccessible(t *testing.T) {
	s := tester.NewCounterStorage()
	if err := s.CheckDatabaseAccessible(context.Background()); err != nil {
		t.Errorf("CheckDatabaseAccessible() = %v, want nil", err)
	}
}

func (tester *CounterStorageTester) writers() int {
	if tester.Writers > 0 {
		return tester.Writers
	}
	return 10
}

// retry re-runs f while it fails with a retryable error, as callers are
// expected to after deadlocks.
func retry(ctx context.Context, f func() error) error {
	for {
		err := f()
		if err == nil || !storage.IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
