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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	_ "time/tzdata" // Embedded zone database for the location tests.
)

var base = time.Date(2024, time.March, 15, 10, 20, 30, 500*int(time.Millisecond), time.UTC)

func counterAt(ts time.Time, s, mi, h, d, mo int64) Counter {
	return Counter{Second: s, Minute: mi, Hour: h, Day: d, Month: mo, LastUpdate: ts.UnixMilli()}
}

func TestCounter_Apply(t *testing.T) {
	tests := []struct {
		desc string
		ts   time.Time
		want Counter
	}{
		{
			desc: "sameSecond",
			ts:   base.Add(100 * time.Millisecond),
			want: counterAt(base.Add(100*time.Millisecond), 4, 5, 6, 7, 8),
		},
		{
			desc: "newSecond",
			ts:   time.Date(2024, time.March, 15, 10, 20, 31, 0, time.UTC),
			want: counterAt(time.Date(2024, time.March, 15, 10, 20, 31, 0, time.UTC), 1, 5, 6, 7, 8),
		},
		{
			desc: "newMinute",
			ts:   time.Date(2024, time.March, 15, 10, 21, 0, 0, time.UTC),
			want: counterAt(time.Date(2024, time.March, 15, 10, 21, 0, 0, time.UTC), 1, 1, 6, 7, 8),
		},
		{
			desc: "newHour",
			ts:   time.Date(2024, time.March, 15, 11, 20, 30, 0, time.UTC),
			want: counterAt(time.Date(2024, time.March, 15, 11, 20, 30, 0, time.UTC), 1, 1, 1, 7, 8),
		},
		{
			desc: "newDay",
			ts:   time.Date(2024, time.March, 16, 10, 20, 30, 0, time.UTC),
			want: counterAt(time.Date(2024, time.March, 16, 10, 20, 30, 0, time.UTC), 1, 1, 1, 1, 8),
		},
		{
			desc: "newMonth",
			ts:   time.Date(2024, time.April, 15, 10, 20, 30, 0, time.UTC),
			want: counterAt(time.Date(2024, time.April, 15, 10, 20, 30, 0, time.UTC), 1, 1, 1, 1, 1),
		},
		{
			desc: "sameMonthNextYear",
			ts:   time.Date(2025, time.March, 15, 10, 20, 30, 0, time.UTC),
			want: counterAt(time.Date(2025, time.March, 15, 10, 20, 30, 0, time.UTC), 1, 1, 1, 1, 1),
		},
		{
			desc: "sameClockOtherDay",
			ts:   time.Date(2024, time.March, 14, 10, 20, 30, 700*int(time.Millisecond), time.UTC),
			want: counterAt(time.Date(2024, time.March, 14, 10, 20, 30, 700*int(time.Millisecond), time.UTC), 1, 1, 1, 1, 8),
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			c := counterAt(base, 3, 4, 5, 6, 7)
			c.Apply(test.ts, time.UTC)
			if diff := cmp.Diff(test.want, c); diff != "" {
				t.Errorf("Apply(%v) diff (-want +got):\n%s", test.ts, diff)
			}
		})
	}
}

func TestCounter_ApplyFromZero(t *testing.T) {
	var c Counter
	c.Apply(base, time.UTC)
	if want := counterAt(base, 1, 1, 1, 1, 1); c != want {
		t.Errorf("Apply() on a new counter = %+v, want %+v", c, want)
	}
}

func TestCounter_ApplyMonthEnd(t *testing.T) {
	last := time.Date(2024, time.February, 29, 23, 59, 59, 999*int(time.Millisecond), time.UTC)
	c := counterAt(last, 10, 20, 30, 40, 50)
	next := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	c.Apply(next, time.UTC)
	if want := counterAt(next, 1, 1, 1, 1, 1); c != want {
		t.Errorf("Apply() across month end = %+v, want %+v", c, want)
	}
}

func TestCounter_ApplyLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation(): %v", err)
	}
	// 23:30 and 00:10 local time on consecutive days in Tokyo, but the same
	// UTC day.
	last := time.Date(2024, time.March, 15, 14, 30, 0, 0, time.UTC)
	next := time.Date(2024, time.March, 15, 15, 10, 0, 0, time.UTC)

	tests := []struct {
		loc  *time.Location
		want Counter
	}{
		{loc: time.UTC, want: counterAt(next, 1, 1, 1, 3, 3)},
		{loc: tokyo, want: counterAt(next, 1, 1, 1, 1, 3)},
	}
	for _, test := range tests {
		c := counterAt(last, 2, 2, 2, 2, 2)
		c.Apply(next, test.loc)
		if c != test.want {
			t.Errorf("Apply(%v) in %v = %+v, want %+v", next, test.loc, c, test.want)
		}
	}
}

func TestCounter_ApplyRepeatedHour(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation(): %v", err)
	}
	// 01:10 EDT and 01:50 EST on the day clocks go back.
	last := time.Date(2024, time.November, 3, 5, 10, 0, 0, time.UTC)
	next := time.Date(2024, time.November, 3, 6, 50, 0, 0, time.UTC)
	c := counterAt(last, 4, 4, 4, 4, 4)
	c.Apply(next, ny)
	if want := counterAt(next, 1, 1, 5, 5, 5); c != want {
		t.Errorf("Apply() in repeated hour = %+v, want %+v", c, want)
	}
}

func TestCounter_Increment(t *testing.T) {
	for _, test := range []struct {
		window Window
		by     int64
		want   Counter
	}{
		{window: Minute, by: 1, want: counterAt(base, 1, 1, 1, 1, 1)},
		{window: Minute, by: 5, want: counterAt(base, 1, 5, 1, 1, 1)},
		{window: Month, by: 3, want: counterAt(base, 1, 1, 1, 1, 3)},
	} {
		var c Counter
		got := c.Increment(base, time.UTC, test.window, test.by)
		if got != test.want.Value(test.window) {
			t.Errorf("Increment(%v, %v) = %v, want %v", test.window, test.by, got, test.want.Value(test.window))
		}
		if c != test.want {
			t.Errorf("Increment(%v, %v) left counter = %+v, want %+v", test.window, test.by, c, test.want)
		}
	}
}

func TestCounter_IncrementSaturates(t *testing.T) {
	c := counterAt(base, 3, 3, 3, 3, 3)
	if got := c.Increment(base, time.UTC, Minute, math.MaxInt64); got != math.MaxInt64 {
		t.Errorf("Increment(by MaxInt64) = %v, want %v", got, int64(math.MaxInt64))
	}
	if !c.OverLimit(Minute, 10) {
		t.Errorf("OverLimit(10) = false after oversized increment, counter %+v", c)
	}
	// Further events keep the tally pinned.
	c.Apply(base, time.UTC)
	if want := counterAt(base, 5, math.MaxInt64, 5, 5, 5); c != want {
		t.Errorf("Apply() on saturated counter = %+v, want %+v", c, want)
	}

	low := Counter{Second: math.MinInt64}
	low.Decrement()
	if low.Second != math.MinInt64 {
		t.Errorf("Decrement() at MinInt64 = %v, want %v", low.Second, int64(math.MinInt64))
	}
}

func TestCounter_DecrementRoundTrip(t *testing.T) {
	c := counterAt(base, 2, 3, 4, 5, 6)
	want := c
	c.Apply(base, time.UTC)
	c.Decrement()
	if c != want {
		t.Errorf("Apply() then Decrement() = %+v, want %+v", c, want)
	}

	var z Counter
	z.Decrement()
	if want := (Counter{Second: -1, Minute: -1, Hour: -1, Day: -1, Month: -1}); z != want {
		t.Errorf("Decrement() on zero counter = %+v, want %+v", z, want)
	}
}

func TestCounter_Reset(t *testing.T) {
	c := counterAt(base, 2, 3, 4, 5, 6)
	now := base.Add(time.Hour)
	c.Reset(now)
	if want := counterAt(now, 0, 0, 0, 0, 0); c != want {
		t.Errorf("Reset() = %+v, want %+v", c, want)
	}
}

func TestCounter_OverLimit(t *testing.T) {
	c := counterAt(base, 3, 3, 3, 3, 3)
	for _, test := range []struct {
		limit int64
		want  bool
	}{
		{limit: NoLimit, want: false},
		{limit: -42, want: false},
		{limit: 0, want: true},
		{limit: 2, want: true},
		{limit: 3, want: false},
		{limit: 4, want: false},
	} {
		if got := c.OverLimit(Second, test.limit); got != test.want {
			t.Errorf("OverLimit(%v) = %v, want %v", test.limit, got, test.want)
		}
	}
}

func TestBucketOf(t *testing.T) {
	tests := []struct {
		window Window
		want   time.Time
	}{
		{window: Second, want: time.Date(2024, time.March, 15, 10, 20, 30, 0, time.UTC)},
		{window: Minute, want: time.Date(2024, time.March, 15, 10, 20, 0, 0, time.UTC)},
		{window: Hour, want: time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)},
		{window: Day, want: time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)},
		{window: Month, want: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		if got := BucketOf(base, test.window, time.UTC); !got.Equal(test.want) {
			t.Errorf("BucketOf(%v, %v) = %v, want %v", base, test.window, got, test.want)
		}
	}
}

func TestBucketOf_Location(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation(): %v", err)
	}
	// 2024-03-31 20:00 UTC is already April 1st in Tokyo.
	ts := time.Date(2024, time.March, 31, 20, 0, 0, 0, time.UTC)
	want := time.Date(2024, time.April, 1, 0, 0, 0, 0, tokyo)
	if got := BucketOf(ts, Month, tokyo); !got.Equal(want) {
		t.Errorf("BucketOf(%v, month, Tokyo) = %v, want %v", ts, got, want)
	}
	if got, want := BucketOf(ts, Month, time.UTC), time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("BucketOf(%v, month, UTC) = %v, want %v", ts, got, want)
	}
}

func TestSameBucket(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation(): %v", err)
	}
	// 01:30 EDT and 01:30 EST on 2024-11-03 are the same calendar minute.
	first := time.Date(2024, time.November, 3, 5, 30, 0, 0, time.UTC)
	second := time.Date(2024, time.November, 3, 6, 30, 0, 0, time.UTC)
	for _, test := range []struct {
		desc string
		a, b time.Time
		w    Window
		loc  *time.Location
		want bool
	}{
		{desc: "same second", a: base, b: base.Add(400 * time.Millisecond), w: Second, loc: time.UTC, want: true},
		{desc: "next second", a: base, b: base.Add(time.Second), w: Second, loc: time.UTC, want: false},
		{desc: "same minute", a: base, b: base.Add(20 * time.Second), w: Minute, loc: time.UTC, want: true},
		{desc: "next month", a: base, b: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), w: Month, loc: time.UTC, want: false},
		{desc: "repeated hour", a: first, b: second, w: Minute, loc: ny, want: true},
		{desc: "repeated hour utc", a: first, b: second, w: Hour, loc: time.UTC, want: false},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := SameBucket(test.a, test.b, test.w, test.loc); got != test.want {
				t.Errorf("SameBucket(%v, %v, %v) = %v, want %v", test.a, test.b, test.w, got, test.want)
			}
		})
	}
}
