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

package quota

import (
	"math"
	"time"
)

// Counter is the persisted state of a named counter: one tally per calendar
// window, all relative to the buckets containing LastUpdate.
type Counter struct {
	Second int64
	Minute int64
	Hour   int64
	Day    int64
	Month  int64

	// LastUpdate is the timestamp of the last applied increment or reset,
	// in milliseconds since the Unix epoch.
	LastUpdate int64
}

// Value returns the tally of w.
func (c *Counter) Value(w Window) int64 {
	return *c.field(w)
}

// Add adds n to the tally of w only. The tally saturates at the int64
// bounds instead of wrapping, so an oversized weight stays over any limit.
func (c *Counter) Add(w Window, n int64) {
	f := c.field(w)
	*f = addSat(*f, n)
}

func addSat(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

func (c *Counter) field(w Window) *int64 {
	switch w {
	case Second:
		return &c.Second
	case Minute:
		return &c.Minute
	case Hour:
		return &c.Hour
	case Day:
		return &c.Day
	case Month:
		return &c.Month
	}
	panic("quota: invalid window")
}

// LastUpdateTime returns LastUpdate as a time.Time in loc.
func (c *Counter) LastUpdateTime(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(c.LastUpdate).In(loc)
}

// Apply records one event at ts. Every window whose calendar bucket (in loc)
// differs from the bucket of LastUpdate restarts at 1, every other window is
// incremented, and LastUpdate becomes ts.
//
// Windows are nested, so once a coarse window changes bucket all finer ones
// change too; only the coarsest changed window needs to be found.
func (c *Counter) Apply(ts time.Time, loc *time.Location) {
	last := c.LastUpdateTime(loc)
	changed := -1
	for i := len(Windows) - 1; i >= 0; i-- {
		if !SameBucket(last, ts, Windows[i], loc) {
			changed = i
			break
		}
	}
	for i, w := range Windows {
		if i <= changed {
			*c.field(w) = 1
		} else {
			c.Add(w, 1)
		}
	}
	c.LastUpdate = ts.UnixMilli()
}

// Increment applies ts and then adds the extra weight by-1 to window.
func (c *Counter) Increment(ts time.Time, loc *time.Location, window Window, by int64) int64 {
	c.Apply(ts, loc)
	if by != 1 {
		c.Add(window, by-1)
	}
	return c.Value(window)
}

// Decrement subtracts one from every window. LastUpdate is not touched and
// no rollover happens, so tallies may go negative.
func (c *Counter) Decrement() {
	for _, w := range Windows {
		c.Add(w, -1)
	}
}

// Reset zeroes every window and sets LastUpdate to now.
func (c *Counter) Reset(now time.Time) {
	*c = Counter{LastUpdate: now.UnixMilli()}
}

// Info returns an immutable snapshot of c labelled with name.
func (c *Counter) Info(name string, loc *time.Location) *CounterInfo {
	return &CounterInfo{
		Name:       name,
		Second:     c.Second,
		Minute:     c.Minute,
		Hour:       c.Hour,
		Day:        c.Day,
		Month:      c.Month,
		LastUpdate: c.LastUpdateTime(loc),
	}
}

// OverLimit reports whether the tally of w is above limit. Negative limits
// never trip.
func (c *Counter) OverLimit(w Window, limit int64) bool {
	return limit >= 0 && c.Value(w) > limit
}

// BucketOf returns the start of the calendar bucket of w containing t, as
// observed in loc. Month and day boundaries follow loc's calendar, including
// daylight saving transitions.
func BucketOf(t time.Time, w Window, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	switch w {
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case Hour:
		return time.Date(y, mo, d, h, 0, 0, 0, loc)
	case Minute:
		return time.Date(y, mo, d, h, mi, 0, 0, loc)
	default:
		return time.Date(y, mo, d, h, mi, s, 0, loc)
	}
}

// SameBucket reports whether a and b fall in the same calendar bucket of w.
//
// Both times are mapped through BucketOf, which rebuilds the bucket start from
// calendar fields. The two occurrences of a repeated wall-clock hour therefore
// share one bucket.
func SameBucket(a, b time.Time, w Window, loc *time.Location) bool {
	return BucketOf(a, w, loc).Equal(BucketOf(b, w, loc))
}
