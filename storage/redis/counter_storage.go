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

// Package redis provides a Redis based implementation of counter storage.
//
// Each counter is one string key holding a storagepb Counter message.
// Read-write transactions use optimistic locking: locked keys are WATCHed
// and writes are sent in a MULTI/EXEC block, which Redis discards if a
// watched key changed. Discarded transactions are re-run.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/storage/storagepb"
	"github.com/apigw/quotacounter/util/clock"
	"github.com/go-redis/redis"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	// DefaultPrefix is prepended to counter names to form keys.
	DefaultPrefix = "counter:"

	// DefaultMaxAttempts bounds how many times a transaction is run when
	// watched keys keep changing.
	DefaultMaxAttempts = 50

	retryBackoff = time.Millisecond
)

// RedisClient is an interface that encompasses the various methods used by
// CounterStorage. Watch must accept an empty key list, which rules out
// cluster clients.
type RedisClient interface {
	Get(key string) *redis.StringCmd
	Ping() *redis.StatusCmd
	Watch(fn func(*redis.Tx) error, keys ...string) error
}

// Options configures a CounterStorage.
type Options struct {
	// Prefix is a static prefix to apply to all Redis keys; this is useful
	// if running on a multi-tenant Redis cluster.
	Prefix string
	// MaxAttempts bounds transaction retries. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// CounterStorage stores counters in Redis.
type CounterStorage struct {
	c    RedisClient
	opts Options
}

// NewCounterStorage returns a counter storage using client.
func NewCounterStorage(client RedisClient, opts Options) *CounterStorage {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &CounterStorage{c: client, opts: opts}
}

func (s *CounterStorage) key(name string) string {
	return s.opts.Prefix + name
}

// CheckDatabaseAccessible pings Redis.
func (s *CounterStorage) CheckDatabaseAccessible(ctx context.Context) error {
	return withClientContext(ctx, s.c).Ping().Err()
}

// Snapshot returns a read-only view. Reads are plain GETs.
func (s *CounterStorage) Snapshot(ctx context.Context) (storage.ReadOnlyCounterTX, error) {
	return &snapshotTX{s: s}, nil
}

// ReadWriteTransaction runs f under WATCH and commits its writes with
// MULTI/EXEC, re-running f when a watched key changed in between.
func (s *CounterStorage) ReadWriteTransaction(ctx context.Context, f storage.CounterTXFunc) error {
	client := withClientContext(ctx, s.c)
	for attempt := 1; ; attempt++ {
		var fErr error
		err := client.Watch(func(tx *redis.Tx) error {
			t := &counterTX{s: s, tx: tx, known: make(map[string]bool), writes: make(map[string][]byte)}
			if fErr = f(ctx, t); fErr != nil {
				return fErr
			}
			return t.commit()
		})
		switch {
		case err == nil:
			return nil
		case fErr != nil:
			return fErr
		case !errors.Is(err, redis.TxFailedErr):
			return err
		}
		if attempt >= s.opts.MaxAttempts {
			return status.Errorf(codes.Aborted, "redis: transaction failed after %d attempts: %v", attempt, err)
		}
		klog.V(2).Infof("redis: watched key changed, retrying transaction (attempt %d)", attempt)
		if err := clock.SleepContext(ctx, time.Duration(attempt)*retryBackoff); err != nil {
			return status.FromContextError(err).Err()
		}
	}
}

func decode(name string, v []byte) (*quota.Counter, error) {
	c, err := storagepb.UnmarshalCounter(v)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "counter %q: %v", name, err)
	}
	return c, nil
}

type getter interface {
	Get(key string) *redis.StringCmd
}

func readCounter(g getter, key, name string) (*quota.Counter, error) {
	v, err := g.Get(key).Bytes()
	switch {
	case err == redis.Nil:
		return nil, storage.CounterNotFound(name)
	case err != nil:
		return nil, fmt.Errorf("reading counter %q: %w", name, err)
	}
	return decode(name, v)
}

type snapshotTX struct {
	s      *CounterStorage
	closed bool
}

func (t *snapshotTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	if t.closed {
		return nil, status.Error(codes.FailedPrecondition, "snapshot already closed")
	}
	return readCounter(withClientContext(ctx, t.s.c), t.s.key(name), name)
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
	s  *CounterStorage
	tx *redis.Tx
	// known holds watched keys which exist, in storage or in writes.
	known  map[string]bool
	writes map[string][]byte
}

func (t *counterTX) read(name string, watch bool) (*quota.Counter, error) {
	key := t.s.key(name)
	if v, ok := t.writes[key]; ok {
		return decode(name, v)
	}
	if watch {
		if err := t.tx.Watch(key).Err(); err != nil {
			return nil, err
		}
	}
	c, err := readCounter(t.tx, key, name)
	if err == nil && watch {
		t.known[key] = true
	}
	return c, err
}

func (t *counterTX) ReadCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.read(name, false)
}

func (t *counterTX) LockCounter(ctx context.Context, name string) (*quota.Counter, error) {
	return t.read(name, true)
}

func (t *counterTX) CreateCounter(ctx context.Context, name string) error {
	_, err := t.read(name, true)
	switch {
	case err == nil:
		return storage.ErrCounterExists
	case !storage.IsNotFound(err):
		return err
	}
	key := t.s.key(name)
	t.writes[key] = storagepb.MarshalCounter(&quota.Counter{})
	t.known[key] = true
	return nil
}

func (t *counterTX) WriteCounter(ctx context.Context, name string, c *quota.Counter) error {
	key := t.s.key(name)
	if !t.known[key] {
		if _, err := t.read(name, true); err != nil {
			return err
		}
	}
	t.writes[key] = storagepb.MarshalCounter(c)
	return nil
}

// commit sends the buffered writes in a MULTI/EXEC block. It returns
// redis.TxFailedErr if a watched key was modified.
func (t *counterTX) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	_, err := t.tx.Pipelined(func(pipe redis.Pipeliner) error {
		for k, v := range t.writes {
			pipe.Set(k, v, 0)
		}
		return nil
	})
	return err
}

// Because each Redis client type in the Go package has a `WithContext` method
// that returns a concrete type, we can't simply put that method in the
// RedisClient interface. This method performs type assertions to try and call
// the `WithContext` method on the appropriate concrete type.
func withClientContext(ctx context.Context, client RedisClient) RedisClient {
	type withContextable interface {
		WithContext(context.Context) RedisClient
	}

	switch c := client.(type) {
	case *redis.Client:
		return c.WithContext(ctx)
	case withContextable:
		return c.WithContext(ctx)
	}
	return client
}
