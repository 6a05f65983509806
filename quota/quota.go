// Copyright 2017 Google LLC. All Rights Reserved.
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

package quota

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NoLimit disables the limit check of an increment. Any negative limit is
// treated the same way.
const NoLimit int64 = -1

// Window identifies one of the five calendar windows tracked by a counter.
type Window int

const (
	// Second is the calendar second window.
	Second Window = iota
	// Minute is the calendar minute window.
	Minute
	// Hour is the calendar hour window.
	Hour
	// Day is the calendar day window.
	Day
	// Month is the calendar month window.
	Month
)

// Windows lists all windows, finest first.
var Windows = []Window{Second, Minute, Hour, Day, Month}

var windowNames = map[Window]string{
	Second: "second",
	Minute: "minute",
	Hour:   "hour",
	Day:    "day",
	Month:  "month",
}

func (w Window) String() string {
	if n, ok := windowNames[w]; ok {
		return n
	}
	return fmt.Sprintf("Window(%d)", int(w))
}

// Valid reports whether w is one of the five known windows.
func (w Window) Valid() bool {
	_, ok := windowNames[w]
	return ok
}

// ParseWindow returns the Window named by s. Matching is case-insensitive.
func ParseWindow(s string) (Window, error) {
	for w, n := range windowNames {
		if strings.EqualFold(n, s) {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown window %q", s)
}

// Mode selects the concurrency regime of a mutating call.
type Mode int

const (
	// Sync performs the update inside a row-locked transaction and returns
	// the durable result.
	Sync Mode = iota

	// Async admits against a possibly stale snapshot and queues the durable
	// update for the counter's drainer.
	Async
)

func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode returns the Mode named by s. An empty string means Sync.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "sync":
		return Sync, nil
	case "async":
		return Async, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// CounterInfo is an immutable snapshot of a counter.
type CounterInfo struct {
	Name       string
	Second     int64
	Minute     int64
	Hour       int64
	Day        int64
	Month      int64
	LastUpdate time.Time
}

// Value returns the tally recorded for w.
func (ci *CounterInfo) Value(w Window) int64 {
	switch w {
	case Second:
		return ci.Second
	case Minute:
		return ci.Minute
	case Hour:
		return ci.Hour
	case Day:
		return ci.Day
	case Month:
		return ci.Month
	}
	return 0
}

// Outcome is the verdict of a limit-checked increment.
type Outcome int

const (
	// Admitted means the increment was accepted.
	Admitted Outcome = iota
	// Rejected means the increment would have exceeded the limit.
	Rejected
)

func (o Outcome) String() string {
	if o == Admitted {
		return "admitted"
	}
	return "rejected"
}

// Result is returned by limit-checked increments. A rejection is a Result,
// never an error; errors are reserved for persistence failures.
type Result struct {
	Outcome Outcome
	// Value is the window tally after the increment. For Async calls it is
	// a projection which may not match the value eventually persisted.
	// Zero when rejected.
	Value int64
	// Reason describes a rejection.
	Reason string
}

// Admit returns an admitted Result carrying v.
func Admit(v int64) Result {
	return Result{Outcome: Admitted, Value: v}
}

// Reject returns a rejected Result.
func Reject(format string, args ...interface{}) Result {
	return Result{Outcome: Rejected, Reason: fmt.Sprintf(format, args...)}
}

// Admitted reports whether the increment was accepted.
func (r Result) Admitted() bool {
	return r.Outcome == Admitted
}

// Manager is the throughput-quota counter engine.
//
// Counter names are opaque. Every counter must be declared with
// EnsureCounterExists before it is used; operations on undeclared counters
// fail with a NotFound error.
type Manager interface {
	// EnsureCounterExists creates the counter if it doesn't exist yet and
	// prepares its asynchronous queue. Safe to call concurrently from any
	// number of nodes.
	EnsureCounterExists(ctx context.Context, name string) error

	// IncrementAndReturnValue increments the counter with no limit and
	// returns the value of window after the increment.
	IncrementAndReturnValue(ctx context.Context, mode Mode, name string, ts time.Time, window Window) (int64, error)

	// IncrementOnlyWithinLimit increments the counter by incrementBy unless
	// the resulting window value would exceed limit. A negative limit
	// disables the check.
	IncrementOnlyWithinLimit(ctx context.Context, mode Mode, name string, ts time.Time, window Window, limit, incrementBy int64) (Result, error)

	// GetCounterValue returns the persisted value of window. Queued steps
	// are not reflected.
	GetCounterValue(ctx context.Context, name string, window Window) (int64, error)

	// GetCounterInfo returns a snapshot of all windows of the counter.
	GetCounterInfo(ctx context.Context, name string) (*CounterInfo, error)

	// Decrement subtracts one from every window, with no rollover.
	Decrement(ctx context.Context, mode Mode, name string) error

	// Reset zeroes every window and stamps the counter with the current time.
	Reset(ctx context.Context, name string) error
}
