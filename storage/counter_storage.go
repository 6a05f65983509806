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

// Package storage defines the persistence collaborator of the counter engine:
// transactional access to the Counters table, with row locks for
// read-modify-write cycles.
package storage

import (
	"context"

	"github.com/apigw/quotacounter/quota"
)

// ReadOnlyCounterTX provides a read-only view of counters. Reads take no
// locks and may observe a stale value.
type ReadOnlyCounterTX interface {
	// ReadCounter returns the stored counter, or a NotFound error.
	ReadCounter(ctx context.Context, name string) (*quota.Counter, error)

	// Commit ends the transaction. Any error means the reads may not have
	// been consistent.
	Commit(ctx context.Context) error
	// Close rolls back the transaction if it was not committed. Safe to call
	// after Commit.
	Close() error
}

// CounterTX is a read-write transaction over counters.
//
// A counter returned by LockCounter stays locked against every other
// LockCounter call, in this or any other process sharing the database, until
// the transaction ends. Writes become visible on commit.
type CounterTX interface {
	// ReadCounter returns the counter without locking it.
	ReadCounter(ctx context.Context, name string) (*quota.Counter, error)
	// LockCounter reads the counter and holds an exclusive lock on it for the
	// rest of the transaction.
	LockCounter(ctx context.Context, name string) (*quota.Counter, error)
	// CreateCounter inserts a zeroed counter. Returns ErrCounterExists if a
	// counter with that name is already stored.
	CreateCounter(ctx context.Context, name string) error
	// WriteCounter overwrites all fields of an existing counter.
	WriteCounter(ctx context.Context, name string, c *quota.Counter) error
}

// CounterTXFunc is the func signature for passing into ReadWriteTransaction.
type CounterTXFunc func(context.Context, CounterTX) error

// CounterStorage is the interface to the shared counter database.
type CounterStorage interface {
	// Snapshot starts a read-only transaction.
	Snapshot(ctx context.Context) (ReadOnlyCounterTX, error)

	// ReadWriteTransaction runs f in a read-write transaction. The
	// transaction commits if f returns nil and rolls back otherwise, in which
	// case f's error is returned. Implementations may run f more than once
	// when the underlying database asks for a retry, so f must not have side
	// effects outside tx.
	ReadWriteTransaction(ctx context.Context, f CounterTXFunc) error

	// CheckDatabaseAccessible returns nil if the database is reachable.
	CheckDatabaseAccessible(ctx context.Context) error
}
