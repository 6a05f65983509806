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

package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/storage/storagepb"
	"github.com/apigw/quotacounter/storage/testonly"
	"github.com/go-redis/redis"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// redisAddrEnv names the ENV variable with the address of the Redis server
// used by tests.
const redisAddrEnv = "TEST_REDIS_ADDR"

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv(redisAddrEnv)
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		t.Skipf("Skipping test as Redis not available at %q: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// randomPrefix keeps test runs apart on a shared server.
func randomPrefix(t *testing.T) string {
	t.Helper()
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read(): %v", err)
	}
	return "test:" + hex.EncodeToString(b) + ":"
}

func TestRedisCounterStorage(t *testing.T) {
	client := newTestClient(t)
	prefix := randomPrefix(t)
	tester := &testonly.CounterStorageTester{
		NewCounterStorage: func() storage.CounterStorage {
			return NewCounterStorage(client, Options{Prefix: prefix})
		},
	}
	tester.RunAllTests(t)
}

func TestStoredValueIsCounterMessage(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	prefix := randomPrefix(t)
	s := NewCounterStorage(client, Options{Prefix: prefix})
	want := &quota.Counter{Second: 1, Minute: 1, Hour: 1, Day: 7, Month: 9, LastUpdate: 1710498030500}

	if _, err := storage.EnsureCounter(ctx, s, "api"); err != nil {
		t.Fatalf("EnsureCounter() returned err = %v", err)
	}
	if err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		return tx.WriteCounter(ctx, "api", want)
	}); err != nil {
		t.Fatalf("WriteCounter() returned err = %v", err)
	}

	v, err := client.Get(prefix + "api").Bytes()
	if err != nil {
		t.Fatalf("GET returned err = %v", err)
	}
	got, err := storagepb.UnmarshalCounter(v)
	if err != nil {
		t.Fatalf("UnmarshalCounter() returned err = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored counter diff (-want +got):\n%s", diff)
	}
}

func TestCorruptValue(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	prefix := randomPrefix(t)
	s := NewCounterStorage(client, Options{Prefix: prefix})

	if err := client.Set(prefix+"bad", []byte{0x08}, 0).Err(); err != nil {
		t.Fatalf("SET returned err = %v", err)
	}
	_, err := storage.ReadCounter(ctx, s, "bad")
	if got, want := status.Code(err), codes.DataLoss; got != want {
		t.Errorf("ReadCounter(bad) returned err = %v, want code %v", err, want)
	}
}

// A watched key changed by another client forces the transaction to run
// again.
func TestWatchConflictRetries(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	prefix := randomPrefix(t)
	s := NewCounterStorage(client, Options{Prefix: prefix})
	if _, err := storage.EnsureCounter(ctx, s, "api"); err != nil {
		t.Fatalf("EnsureCounter() returned err = %v", err)
	}

	runs := 0
	err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		runs++
		c, err := tx.LockCounter(ctx, "api")
		if err != nil {
			return err
		}
		if runs == 1 {
			// Interfering write from outside the transaction.
			if err := client.Set(prefix+"api", storagepb.MarshalCounter(&quota.Counter{Month: 100}), 0).Err(); err != nil {
				return err
			}
		}
		c.Month++
		return tx.WriteCounter(ctx, "api", c)
	})
	if err != nil {
		t.Fatalf("ReadWriteTransaction() returned err = %v", err)
	}
	if runs != 2 {
		t.Errorf("transaction ran %d times, want 2", runs)
	}
	got, err := storage.ReadCounter(ctx, s, "api")
	if err != nil {
		t.Fatalf("ReadCounter() returned err = %v", err)
	}
	if got.Month != 101 {
		t.Errorf("Month = %d, want 101", got.Month)
	}
}
