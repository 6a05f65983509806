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

package crdb

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/storage/testonly"
	"github.com/google/go-cmp/cmp"
)

func TestCRDBCounterStorage(t *testing.T) {
	db := openTestDBOrDie(t).GetDB()
	tester := &testonly.CounterStorageTester{
		NewCounterStorage: func() storage.CounterStorage { return NewCounterStorage(db) },
	}
	tester.RunAllTests(t)
}

// Conflicting writers are retried until every increment lands.
func TestContendedIncrements(t *testing.T) {
	db := openTestDBOrDie(t).GetDB()
	ctx := context.Background()
	s := NewCounterStorage(db)
	const name = "contended"
	if _, err := storage.EnsureCounter(ctx, s, name); err != nil {
		t.Fatalf("EnsureCounter() returned err = %v", err)
	}

	const writers = 8
	var attempts int64
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			errs <- s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
				atomic.AddInt64(&attempts, 1)
				c, err := tx.LockCounter(ctx, name)
				if err != nil {
					return err
				}
				c.Add(quota.Month, 1)
				return tx.WriteCounter(ctx, name, c)
			})
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("ReadWriteTransaction() returned err = %v", err)
		}
	}

	got, err := storage.ReadCounter(ctx, s, name)
	if err != nil {
		t.Fatalf("ReadCounter() returned err = %v", err)
	}
	if diff := cmp.Diff(&quota.Counter{Month: writers}, got); diff != "" {
		t.Errorf("ReadCounter() diff (-want +got):\n%s", diff)
	}
	t.Logf("%d transaction attempts for %d writers", atomic.LoadInt64(&attempts), writers)
}
