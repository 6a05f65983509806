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

package storage

import (
	"context"
	"errors"

	"github.com/apigw/quotacounter/quota"
	"k8s.io/klog/v2"
)

// ReadCounter reads a counter using a snapshot transaction.
// It's a convenience wrapper around RunInSnapshot and ReadOnlyCounterTX's
// ReadCounter.
func ReadCounter(ctx context.Context, cs CounterStorage, name string) (*quota.Counter, error) {
	var c *quota.Counter
	err := RunInSnapshot(ctx, cs, func(tx ReadOnlyCounterTX) error {
		var err error
		c, err = tx.ReadCounter(ctx, name)
		return err
	})
	return c, err
}

// EnsureCounter creates the named counter unless it already exists. It
// returns true if this call created it.
//
// Racing creators, on any number of nodes, all succeed and exactly one row
// is stored: a duplicate insert is confirmed with a fresh read and then
// ignored.
func EnsureCounter(ctx context.Context, cs CounterStorage, name string) (bool, error) {
	if _, err := ReadCounter(ctx, cs, name); err == nil {
		return false, nil
	} else if !IsNotFound(err) {
		return false, err
	}

	err := cs.ReadWriteTransaction(ctx, func(ctx context.Context, tx CounterTX) error {
		return tx.CreateCounter(ctx, name)
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrCounterExists) {
		return false, err
	}
	klog.V(2).Infof("EnsureCounter(%q): lost creation race, re-reading", name)
	if _, rerr := ReadCounter(ctx, cs, name); rerr != nil {
		return false, rerr
	}
	return false, nil
}

// RunInSnapshot runs fn in a read-only transaction, committing it if fn
// succeeds.
func RunInSnapshot(ctx context.Context, cs CounterStorage, fn func(tx ReadOnlyCounterTX) error) error {
	tx, err := cs.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Close(); err != nil {
			klog.Errorf("tx.Close(): %v", err)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
