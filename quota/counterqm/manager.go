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

// Package counterqm implements quota.Manager on top of a storage.CounterStorage.
//
// Synchronous calls run one row-locked transaction each. Asynchronous calls
// are admitted against an unlocked snapshot and then queued; every counter
// has a bounded FIFO queue and one goroutine draining it in batches, one
// transaction per batch. A weighted semaphore shared by all counters bounds
// how many drain transactions run at once.
package counterqm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/util/clock"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	// DefaultQueueCapacity is the default number of steps a counter queue
	// holds before asynchronous callers block.
	DefaultQueueCapacity = 1000

	// DefaultBatchLimit is the default maximum number of steps applied by a
	// single drain transaction.
	DefaultBatchLimit = 100

	// DefaultMaxConcurrentDrains is the default size of the drain pool.
	DefaultMaxConcurrentDrains = 16

	// DefaultDrainTimeout is the default deadline of a drain transaction.
	DefaultDrainTimeout = 30 * time.Second

	// MaxNameLength is the longest counter name accepted, in bytes. It
	// matches the key column of the SQL schemas.
	MaxNameLength = 255
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	QueueCapacity       int
	BatchLimit          int
	MaxConcurrentDrains int64
	DrainTimeout        time.Duration

	// Location defines calendar boundaries. Defaults to time.Local.
	Location *time.Location
	// TimeSource provides the time stamped by Reset. Defaults to
	// clock.System.
	TimeSource    clock.TimeSource
	MetricFactory monitoring.MetricFactory
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = DefaultBatchLimit
	}
	if o.MaxConcurrentDrains <= 0 {
		o.MaxConcurrentDrains = DefaultMaxConcurrentDrains
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.TimeSource == nil {
		o.TimeSource = clock.System
	}
	if o.MetricFactory == nil {
		o.MetricFactory = monitoring.InertMetricFactory{}
	}
	return o
}

var (
	// errClosed is returned by asynchronous calls after Close.
	errClosed = status.Error(codes.Unavailable, "counter manager is closed")

	// errRejected aborts a synchronous increment transaction.
	errRejected = errors.New("increment rejected")
)

// Manager is the counter engine. It owns the per-counter queues and their
// drainers; create one with New and release it with Close.
type Manager struct {
	cs      storage.CounterStorage
	opts    Options
	pool    *semaphore.Weighted
	metrics *metrics

	// mu is held for reading while registering queues and sending to them,
	// and for writing by Close, so no step is queued after the drainers have
	// been told to finish.
	mu     sync.RWMutex
	closed bool

	qmu    sync.Mutex
	queues map[string]*counterQueue

	// stop releases callers blocked on a full queue once Close starts.
	stop     chan struct{}
	stopOnce sync.Once
	// quit tells drainers to empty their queues and exit.
	quit chan struct{}
	wg   sync.WaitGroup
}

var _ quota.Manager = (*Manager)(nil)

// New returns a Manager storing counters in cs.
func New(cs storage.CounterStorage, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		cs:      cs,
		opts:    opts,
		pool:    semaphore.NewWeighted(opts.MaxConcurrentDrains),
		metrics: newMetrics(opts.MetricFactory, opts.BatchLimit),
		queues:  make(map[string]*counterQueue),
		stop:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

func validateName(name string) error {
	switch {
	case name == "":
		return status.Error(codes.InvalidArgument, "counter name is required")
	case len(name) > MaxNameLength:
		return status.Errorf(codes.InvalidArgument, "counter name too long (%d > %d bytes)", len(name), MaxNameLength)
	}
	return nil
}

func validateIncrement(name string, window quota.Window, incrementBy int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !window.Valid() {
		return status.Errorf(codes.InvalidArgument, "invalid window %v", window)
	}
	if incrementBy < 1 {
		return status.Errorf(codes.InvalidArgument, "increment must be >= 1, got %d", incrementBy)
	}
	return nil
}

// EnsureCounterExists implements quota.Manager.EnsureCounterExists.
func (m *Manager) EnsureCounterExists(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	created, err := storage.EnsureCounter(ctx, m.cs, name)
	if err != nil {
		return fmt.Errorf("ensuring counter %q: %w", name, err)
	}
	if created {
		klog.V(1).Infof("Created counter %q", name)
	}
	// A closed manager still declares rows, like the other synchronous
	// calls; only the queue is skipped.
	if _, err := m.register(name); err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

// IncrementAndReturnValue implements quota.Manager.IncrementAndReturnValue.
func (m *Manager) IncrementAndReturnValue(ctx context.Context, mode quota.Mode, name string, ts time.Time, window quota.Window) (int64, error) {
	res, err := m.IncrementOnlyWithinLimit(ctx, mode, name, ts, window, quota.NoLimit, 1)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// IncrementOnlyWithinLimit implements quota.Manager.IncrementOnlyWithinLimit.
func (m *Manager) IncrementOnlyWithinLimit(ctx context.Context, mode quota.Mode, name string, ts time.Time, window quota.Window, limit, incrementBy int64) (quota.Result, error) {
	if err := validateIncrement(name, window, incrementBy); err != nil {
		return quota.Result{}, err
	}

	var res quota.Result
	var err error
	switch mode {
	case quota.Sync:
		res, err = m.incrementSync(ctx, name, ts, window, limit, incrementBy)
	case quota.Async:
		res, err = m.incrementAsync(ctx, name, ts, window, limit, incrementBy)
	default:
		return quota.Result{}, status.Errorf(codes.InvalidArgument, "invalid mode %v", mode)
	}
	if err != nil {
		return quota.Result{}, err
	}
	m.metrics.increments.Inc(mode.String(), res.Outcome.String())
	return res, nil
}

func (m *Manager) incrementSync(ctx context.Context, name string, ts time.Time, window quota.Window, limit, by int64) (quota.Result, error) {
	start := m.opts.TimeSource.Now()
	defer func() {
		m.metrics.txLatency.Observe(clock.SecondsSince(m.opts.TimeSource, start), opSyncIncrement)
	}()

	var res quota.Result
	err := m.cs.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		c, err := tx.LockCounter(ctx, name)
		if err != nil {
			return err
		}
		v := c.Increment(ts, m.opts.Location, window, by)
		if c.OverLimit(window, limit) {
			res = quota.Reject("%s: %v limit %d reached", name, window, limit)
			return errRejected
		}
		res = quota.Admit(v)
		return tx.WriteCounter(ctx, name, c)
	})
	switch {
	case errors.Is(err, errRejected):
		return res, nil
	case err != nil:
		return quota.Result{}, err
	}
	return res, nil
}

func (m *Manager) incrementAsync(ctx context.Context, name string, ts time.Time, window quota.Window, limit, by int64) (quota.Result, error) {
	c, err := storage.ReadCounter(ctx, m.cs, name)
	if err != nil {
		return quota.Result{}, err
	}
	v := c.Increment(ts, m.opts.Location, window, by)
	if c.OverLimit(window, limit) {
		return quota.Reject("%s: %v limit %d reached", name, window, limit), nil
	}
	q, err := m.register(name)
	if err != nil {
		return quota.Result{}, err
	}
	if err := m.enqueue(ctx, q, step{kind: incrementStep, ts: ts, window: window, limit: limit, by: by}); err != nil {
		return quota.Result{}, err
	}
	return quota.Admit(v), nil
}

// GetCounterValue implements quota.Manager.GetCounterValue.
func (m *Manager) GetCounterValue(ctx context.Context, name string, window quota.Window) (int64, error) {
	if !window.Valid() {
		return 0, status.Errorf(codes.InvalidArgument, "invalid window %v", window)
	}
	c, err := storage.ReadCounter(ctx, m.cs, name)
	if err != nil {
		return 0, err
	}
	return c.Value(window), nil
}

// GetCounterInfo implements quota.Manager.GetCounterInfo.
func (m *Manager) GetCounterInfo(ctx context.Context, name string) (*quota.CounterInfo, error) {
	c, err := storage.ReadCounter(ctx, m.cs, name)
	if err != nil {
		return nil, err
	}
	return c.Info(name, m.opts.Location), nil
}

// Decrement implements quota.Manager.Decrement.
func (m *Manager) Decrement(ctx context.Context, mode quota.Mode, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	switch mode {
	case quota.Sync:
		if err := m.update(ctx, name, opDecrement, (*quota.Counter).Decrement); err != nil {
			return err
		}
	case quota.Async:
		q, err := m.lookup(ctx, name)
		if err != nil {
			return err
		}
		if err := m.enqueue(ctx, q, step{kind: decrementStep}); err != nil {
			return err
		}
	default:
		return status.Errorf(codes.InvalidArgument, "invalid mode %v", mode)
	}
	m.metrics.decrements.Inc(mode.String())
	return nil
}

// Reset implements quota.Manager.Reset. Steps still queued for the counter
// are applied after the reset.
func (m *Manager) Reset(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	now := m.opts.TimeSource.Now()
	if err := m.update(ctx, name, opReset, func(c *quota.Counter) { c.Reset(now) }); err != nil {
		return err
	}
	m.metrics.resets.Inc()
	return nil
}

// update runs a locked read-modify-write of one counter.
func (m *Manager) update(ctx context.Context, name, op string, f func(*quota.Counter)) error {
	start := m.opts.TimeSource.Now()
	defer func() {
		m.metrics.txLatency.Observe(clock.SecondsSince(m.opts.TimeSource, start), op)
	}()
	return m.cs.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		c, err := tx.LockCounter(ctx, name)
		if err != nil {
			return err
		}
		f(c)
		return tx.WriteCounter(ctx, name, c)
	})
}

// Flush waits until every step queued for name before the call has been
// applied or discarded by its drainer. Returns immediately for counters with
// no queue.
func (m *Manager) Flush(ctx context.Context, name string) error {
	m.qmu.Lock()
	q := m.queues[name]
	m.qmu.Unlock()
	if q == nil {
		return nil
	}

	done := make(chan struct{})
	if err := m.enqueue(ctx, q, step{kind: barrierStep, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

// Close stops accepting asynchronous work, waits for the drainers to apply
// what is already queued and stops them. Calls blocked on a full queue fail
// with codes.Unavailable. Close returns ctx's error if it expires first; the
// drainers keep going in the background.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.quit)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		klog.Infof("Counter manager closed, all queues drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
