// Copyright 2017 Google Inc. All Rights Reserved.
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

// Package hammer is a stress/load test for a quota.Manager. Workers issue a
// random mix of operations against a set of counters and check the
// invariants every implementation must keep under concurrency.
package hammer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/util/clock"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// EntrypointName identifies a quota.Manager operation, as exposed in
// statistics and logging.
type EntrypointName string

// Constants for entrypoint names.
const (
	SyncIncrementName  = EntrypointName("SyncIncrement")
	AsyncIncrementName = EntrypointName("AsyncIncrement")
	DecrementName      = EntrypointName("Decrement")
	GetValueName       = EntrypointName("GetValue")
	GetInfoName        = EntrypointName("GetInfo")
)

var entrypoints = []EntrypointName{SyncIncrementName, AsyncIncrementName, DecrementName, GetValueName, GetInfoName}

// ErrInvariant is wrapped by every invariant violation found.
var ErrInvariant = errors.New("invariant violated")

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Bias indicates the bias for selecting different operations.
type Bias struct {
	Bias  map[EntrypointName]int
	total int
	// InvalidChance gives the odds of targeting an undeclared counter, as
	// the N in 1-in-N. Zero means never.
	InvalidChance int
}

// DefaultBias favours limit-checked increments and issues no decrements.
func DefaultBias() Bias {
	return Bias{
		Bias: map[EntrypointName]int{
			SyncIncrementName:  10,
			AsyncIncrementName: 10,
			GetValueName:       2,
			GetInfoName:        1,
		},
		InvalidChance: 20,
	}
}

// choose randomly picks an operation to perform according to the biases.
func (b *Bias) choose(r *rand.Rand) EntrypointName {
	which := r.Intn(b.total)
	for _, ep := range entrypoints {
		which -= b.Bias[ep]
		if which < 0 {
			return ep
		}
	}
	panic("random choice out of range")
}

// invalid randomly chooses whether an operation should be invalid.
func (b *Bias) invalid(r *rand.Rand) bool {
	return b.InvalidChance > 0 && r.Intn(b.InvalidChance) == 0
}

// Config provides configuration for a stress/load test.
type Config struct {
	Manager quota.Manager
	// Counters are declared and reset before the run.
	Counters []string
	Window   quota.Window
	// Limit passed to every increment. Negative means none.
	Limit int64
	// MaxIncrement is the largest weight of a single increment.
	MaxIncrement int64
	// Timestamp of every increment. All increments fall in one calendar
	// bucket so limits apply across the whole run. Zero means the start of
	// the run.
	Timestamp time.Time

	Workers    int
	Operations uint64
	EPBias     Bias
	Seed       int64

	MetricFactory monitoring.MetricFactory
	EmitInterval  time.Duration
	// IgnoreErrors keeps the run going after operations fail with errors
	// other than invariant violations.
	IgnoreErrors bool
}

func (c Config) String() string {
	return fmt.Sprintf("counters:%d window:%v limit:%d workers:%d #operations:%d biases:%v", len(c.Counters), c.Window, c.Limit, c.Workers, c.Operations, c.EPBias.Bias)
}

// Flusher is implemented by managers able to wait for queued steps.
type Flusher interface {
	Flush(ctx context.Context, name string) error
}

// tally accumulates what was done to one counter.
type tally struct {
	syncUnits  int64
	asyncUnits int64
	decrements int64
}

type hammerState struct {
	cfg *Config

	remaining atomic.Int64

	mu      sync.Mutex
	calls   map[EntrypointName]uint64
	errs    map[EntrypointName]uint64
	rejects map[EntrypointName]uint64
	tallies map[string]*tally

	reqs       monitoring.Counter
	errCount   monitoring.Counter
	rsps       monitoring.Counter
	rspLatency monitoring.Histogram
}

func newHammerState(cfg *Config) *hammerState {
	s := &hammerState{
		cfg:     cfg,
		calls:   make(map[EntrypointName]uint64),
		errs:    make(map[EntrypointName]uint64),
		rejects: make(map[EntrypointName]uint64),
		tallies: make(map[string]*tally),

		reqs:       cfg.MetricFactory.NewCounter("hammer_reqs", "Number of requests sent", "ep"),
		errCount:   cfg.MetricFactory.NewCounter("hammer_errs", "Number of error responses received", "ep"),
		rsps:       cfg.MetricFactory.NewCounter("hammer_rsps", "Number of successful responses received", "ep"),
		rspLatency: cfg.MetricFactory.NewHistogramWithBuckets("hammer_rsp_latency_seconds", "Latency of responses in seconds", monitoring.LatencyBuckets(), "ep"),
	}
	for _, n := range cfg.Counters {
		s.tallies[n] = &tally{}
	}
	s.remaining.Store(int64(cfg.Operations))
	return s
}

func (s *hammerState) record(ep EntrypointName, rejected bool, err error, f func(*tally), name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[ep]++
	switch {
	case err != nil:
		s.errs[ep]++
	case rejected:
		s.rejects[ep]++
	case f != nil:
		f(s.tallies[name])
	}
}

// String summarises the calls made so far.
func (s *hammerState) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []string
	for _, ep := range entrypoints {
		if s.calls[ep] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d(rej:%d,err:%d)", ep, s.calls[ep], s.rejects[ep], s.errs[ep]))
	}
	return fmt.Sprintf("%d ops left: %s", max(s.remaining.Load(), 0), strings.Join(parts, " "))
}

// Report summarises a hammer run.
type Report struct {
	Calls    map[EntrypointName]uint64
	Rejected map[EntrypointName]uint64
	Errors   map[EntrypointName]uint64
	// Values holds the final value of the configured window per counter.
	Values map[string]int64
}

// Run performs load/stress operations according to cfg. It returns an
// error wrapping ErrInvariant if any invariant failed.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Manager == nil || len(cfg.Counters) == 0 {
		return nil, errors.New("hammer: Manager and Counters are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxIncrement <= 0 {
		cfg.MaxIncrement = 1
	}
	if cfg.EPBias.Bias == nil {
		cfg.EPBias = DefaultBias()
	}
	cfg.EPBias.total = 0
	for _, ep := range entrypoints {
		cfg.EPBias.total += cfg.EPBias.Bias[ep]
	}
	if cfg.EPBias.total <= 0 {
		return nil, errors.New("hammer: no operation has a positive bias")
	}
	if cfg.MetricFactory == nil {
		cfg.MetricFactory = monitoring.InertMetricFactory{}
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = clock.System.Now()
	}

	for _, n := range cfg.Counters {
		if err := cfg.Manager.EnsureCounterExists(ctx, n); err != nil {
			return nil, fmt.Errorf("hammer: declaring %q: %w", n, err)
		}
		if err := cfg.Manager.Reset(ctx, n); err != nil {
			return nil, fmt.Errorf("hammer: resetting %q: %w", n, err)
		}
	}
	klog.Infof("Hammer starting: %v", cfg)

	s := newHammerState(&cfg)
	if cfg.EmitInterval > 0 {
		ticker := time.NewTicker(cfg.EmitInterval)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				klog.Info(s.String())
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		w := &worker{s: s, id: i, prng: rand.New(rand.NewSource(cfg.Seed + int64(i)))}
		g.Go(func() error { return w.run(gctx) })
	}
	runErr := g.Wait()
	klog.Info(s.String())
	if runErr != nil {
		return nil, runErr
	}

	values, err := s.checkFinal(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Report{Calls: s.calls, Rejected: s.rejects, Errors: s.errs, Values: values}, nil
}

// checkFinal waits for queued steps where possible and checks every
// counter against what was admitted.
func (s *hammerState) checkFinal(ctx context.Context) (map[string]int64, error) {
	cfg := s.cfg
	names := append([]string(nil), cfg.Counters...)
	sort.Strings(names)
	values := make(map[string]int64)
	flusher, canFlush := cfg.Manager.(Flusher)
	for _, n := range names {
		if canFlush {
			if err := flusher.Flush(ctx, n); err != nil {
				return nil, fmt.Errorf("hammer: flushing %q: %w", n, err)
			}
		}
		v, err := cfg.Manager.GetCounterValue(ctx, n, cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("hammer: reading %q: %w", n, err)
		}
		values[n] = v

		s.mu.Lock()
		t := *s.tallies[n]
		s.mu.Unlock()
		// Sync units and decrements are durable once acknowledged. Queued
		// async units may still be dropped, so they only bound from above.
		if low := t.syncUnits - t.decrements; v < low {
			return nil, invariantf("%s: %v value %d below acknowledged %d", n, cfg.Window, v, low)
		}
		if high := t.syncUnits + t.asyncUnits; v > high {
			return nil, invariantf("%s: %v value %d above admitted %d", n, cfg.Window, v, high)
		}
		if cfg.Limit >= 0 && v > cfg.Limit {
			return nil, invariantf("%s: %v value %d above limit %d", n, cfg.Window, v, cfg.Limit)
		}
	}
	return values, nil
}

// worker issues operations with its own PRNG, so the sequence it performs
// is deterministic for a given seed.
type worker struct {
	s    *hammerState
	id   int
	prng *rand.Rand
}

func (w *worker) run(ctx context.Context) error {
	for w.s.remaining.Add(-1) >= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep := w.s.cfg.EPBias.choose(w.prng)
		if w.s.cfg.EPBias.invalid(w.prng) {
			if err := w.invalidOp(ctx, ep); err != nil {
				return err
			}
			continue
		}
		err := w.op(ctx, ep)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvariant):
			return err
		case w.s.cfg.IgnoreErrors:
			klog.Warningf("worker %d: %v failed: %v", w.id, ep, err)
		default:
			return fmt.Errorf("worker %d: %v: %w", w.id, ep, err)
		}
	}
	return nil
}

func (w *worker) op(ctx context.Context, ep EntrypointName) error {
	cfg := w.s.cfg
	qm := cfg.Manager
	name := cfg.Counters[w.prng.Intn(len(cfg.Counters))]
	label := string(ep)
	w.s.reqs.Inc(label)
	start := time.Now()
	defer func() { w.s.rspLatency.Observe(time.Since(start).Seconds(), label) }()

	var err error
	switch ep {
	case SyncIncrementName, AsyncIncrementName:
		mode := quota.Sync
		if ep == AsyncIncrementName {
			mode = quota.Async
		}
		by := 1 + w.prng.Int63n(cfg.MaxIncrement)
		var res quota.Result
		res, err = qm.IncrementOnlyWithinLimit(ctx, mode, name, cfg.Timestamp, cfg.Window, cfg.Limit, by)
		if err == nil {
			err = checkResult(name, res, cfg.Limit)
		}
		w.s.record(ep, err == nil && !res.Admitted(), err, func(t *tally) {
			if mode == quota.Sync {
				t.syncUnits += by
			} else {
				t.asyncUnits += by
			}
		}, name)
	case DecrementName:
		// Either mode must keep the invariants.
		mode := quota.Sync
		if w.prng.Intn(2) == 0 {
			mode = quota.Async
		}
		err = qm.Decrement(ctx, mode, name)
		w.s.record(ep, false, err, func(t *tally) { t.decrements++ }, name)
	case GetValueName:
		var v int64
		v, err = qm.GetCounterValue(ctx, name, cfg.Window)
		if err == nil && cfg.Limit >= 0 && v > cfg.Limit {
			err = invariantf("%s: read %v value %d above limit %d", name, cfg.Window, v, cfg.Limit)
		}
		w.s.record(ep, false, err, nil, name)
	case GetInfoName:
		var ci *quota.CounterInfo
		ci, err = qm.GetCounterInfo(ctx, name)
		if err == nil {
			switch {
			case ci.Name != name:
				err = invariantf("GetCounterInfo(%q) returned counter %q", name, ci.Name)
			case cfg.Limit >= 0 && ci.Value(cfg.Window) > cfg.Limit:
				err = invariantf("%s: info %v value %d above limit %d", name, cfg.Window, ci.Value(cfg.Window), cfg.Limit)
			}
		}
		w.s.record(ep, false, err, nil, name)
	}

	if err != nil {
		w.s.errCount.Inc(label)
		return err
	}
	w.s.rsps.Inc(label)
	return nil
}

func checkResult(name string, res quota.Result, limit int64) error {
	if !res.Admitted() {
		if res.Reason == "" {
			return invariantf("%s: rejection without reason", name)
		}
		if limit < 0 {
			return invariantf("%s: rejected with no limit", name)
		}
		return nil
	}
	if limit >= 0 && res.Value > limit {
		return invariantf("%s: admitted value %d above limit %d", name, res.Value, limit)
	}
	return nil
}

// invalidOp targets a counter that was never declared. Every entrypoint
// must answer NotFound.
func (w *worker) invalidOp(ctx context.Context, ep EntrypointName) error {
	cfg := w.s.cfg
	name := fmt.Sprintf("hammer-undeclared-%d-%d", w.id, w.prng.Int63())
	var err error
	switch ep {
	case SyncIncrementName:
		_, err = cfg.Manager.IncrementOnlyWithinLimit(ctx, quota.Sync, name, cfg.Timestamp, cfg.Window, cfg.Limit, 1)
	case AsyncIncrementName:
		_, err = cfg.Manager.IncrementOnlyWithinLimit(ctx, quota.Async, name, cfg.Timestamp, cfg.Window, cfg.Limit, 1)
	case DecrementName:
		err = cfg.Manager.Decrement(ctx, quota.Sync, name)
	case GetValueName:
		_, err = cfg.Manager.GetCounterValue(ctx, name, cfg.Window)
	case GetInfoName:
		_, err = cfg.Manager.GetCounterInfo(ctx, name)
	}
	if status.Code(err) != codes.NotFound {
		return invariantf("%v on undeclared counter %q: got %v, want NotFound", ep, name, err)
	}
	return nil
}
