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

package counterqm

import (
	"context"
	"time"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/util/clock"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

type stepKind int

const (
	incrementStep stepKind = iota
	decrementStep
	// barrierStep applies nothing; its done channel is closed once every
	// step ahead of it has been handled.
	barrierStep
)

func (k stepKind) String() string {
	switch k {
	case incrementStep:
		return "increment"
	case decrementStep:
		return "decrement"
	}
	return "barrier"
}

// step is a queued unit of work for one counter.
type step struct {
	kind stepKind

	ts     time.Time
	window quota.Window
	limit  int64
	by     int64

	done chan struct{}
}

type counterQueue struct {
	name  string
	steps chan step
}

// register returns the queue of name, creating it and starting its drainer
// if needed.
func (m *Manager) register(name string) (*counterQueue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}

	m.qmu.Lock()
	defer m.qmu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q, nil
	}
	q := &counterQueue{name: name, steps: make(chan step, m.opts.QueueCapacity)}
	m.queues[name] = q
	m.metrics.activeCounters.Inc()
	m.wg.Add(1)
	go m.consume(q)
	return q, nil
}

// lookup returns the queue of name. Counters declared by another process get
// a queue here once their row is confirmed to exist.
func (m *Manager) lookup(ctx context.Context, name string) (*counterQueue, error) {
	m.qmu.Lock()
	q, ok := m.queues[name]
	m.qmu.Unlock()
	if ok {
		return q, nil
	}
	if _, err := storage.ReadCounter(ctx, m.cs, name); err != nil {
		return nil, err
	}
	return m.register(name)
}

// enqueue appends s to q, waiting for space if the queue is full.
func (m *Manager) enqueue(ctx context.Context, q *counterQueue, s step) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}

	select {
	case q.steps <- s:
		m.queued(s)
		return nil
	default:
	}

	m.metrics.queueFull.Inc()
	klog.V(1).Infof("%s: queue full (%d steps), waiting", q.name, cap(q.steps))
	select {
	case q.steps <- s:
		m.queued(s)
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	case <-m.stop:
		return errClosed
	}
}

func (m *Manager) queued(s step) {
	if s.kind != barrierStep {
		m.metrics.queueDepth.Inc()
	}
}

// consume is the drainer of q. It runs until Close, then empties the queue
// before returning.
func (m *Manager) consume(q *counterQueue) {
	defer m.wg.Done()
	defer m.metrics.activeCounters.Dec()
	for {
		select {
		case s := <-q.steps:
			m.drain(q, s)
		case <-m.quit:
			for {
				select {
				case s := <-q.steps:
					m.drain(q, s)
				default:
					return
				}
			}
		}
	}
}

// drain applies first plus whatever else is queued, up to the batch limit, in
// one transaction.
func (m *Manager) drain(q *counterQueue, first step) {
	var batch []step
	var barriers []chan struct{}
	add := func(s step) {
		if s.kind == barrierStep {
			barriers = append(barriers, s.done)
			return
		}
		batch = append(batch, s)
	}
	add(first)
collect:
	for len(batch) < m.opts.BatchLimit {
		select {
		case s := <-q.steps:
			add(s)
		default:
			break collect
		}
	}
	defer func() {
		for _, done := range barriers {
			close(done)
		}
	}()
	if len(batch) == 0 {
		return
	}
	m.metrics.queueDepth.Add(-float64(len(batch)))

	if err := m.pool.Acquire(context.Background(), 1); err != nil {
		klog.Errorf("%s: acquiring drain slot: %v", q.name, err)
		return
	}
	defer m.pool.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DrainTimeout)
	defer cancel()
	start := m.opts.TimeSource.Now()

	var applied, dropped []step
	err := m.cs.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		// The transaction may be retried by the storage layer.
		applied, dropped = applied[:0], dropped[:0]

		c, err := tx.LockCounter(ctx, q.name)
		if err != nil {
			return err
		}
		for _, s := range batch {
			switch s.kind {
			case decrementStep:
				c.Decrement()
				applied = append(applied, s)
			case incrementStep:
				snapshot := *c
				c.Increment(s.ts, m.opts.Location, s.window, s.by)
				if c.OverLimit(s.window, s.limit) {
					*c = snapshot
					dropped = append(dropped, s)
					continue
				}
				applied = append(applied, s)
			}
		}
		if len(applied) == 0 {
			return nil
		}
		return tx.WriteCounter(ctx, q.name, c)
	})
	m.metrics.txLatency.Observe(clock.SecondsSince(m.opts.TimeSource, start), opDrain)
	if err != nil {
		m.metrics.failedDrains.Inc()
		m.metrics.lostSteps.Add(float64(len(batch)))
		klog.Errorf("%s: drain of %d step(s) failed, steps discarded: %v", q.name, len(batch), err)
		return
	}

	m.metrics.drainBatches.Inc()
	m.metrics.batchSize.Observe(float64(len(applied)))
	for _, s := range applied {
		m.metrics.drainedSteps.Inc(s.kind.String())
	}
	for _, s := range dropped {
		m.metrics.droppedSteps.Inc()
		klog.V(1).Infof("%s: dropped queued increment by %d at %v: %v limit %d exceeded", q.name, s.by, s.ts, s.window, s.limit)
	}
	klog.V(2).Infof("%s: drained %d step(s), dropped %d", q.name, len(applied), len(dropped))
}
