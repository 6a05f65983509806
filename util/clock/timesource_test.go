// Copyright 2016 Google LLC. All Rights Reserved.
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

package clock

import (
	"context"
	"testing"
	"time"
)

var (
	resetTime = time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC)
	drainTime = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func TestFakeTimeSource(t *testing.T) {
	fake := NewFake(resetTime)

	var ts TimeSource = fake
	if got, want := ts.Now(), resetTime; !got.Equal(want) {
		t.Errorf("ts.Now=%v; want %v", got, want)
	}

	fake.Set(drainTime)
	if got, want := ts.Now(), drainTime; !got.Equal(want) {
		t.Errorf("ts.Now=%v; want %v", got, want)
	}

	if got, want := fake.Add(time.Second), drainTime.Add(time.Second); !got.Equal(want) {
		t.Errorf("Add()=%v; want %v", got, want)
	}
}

func TestSecondsSince(t *testing.T) {
	delta := 8 * time.Second
	var ts TimeSource = NewFake(resetTime.Add(delta))
	if got, want := SecondsSince(ts, resetTime), delta.Seconds(); got != want {
		t.Errorf("SecondsSince=%v; want %v", got, want)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); err != context.Canceled {
		t.Errorf("SleepContext(canceled) = %v, want %v", err, context.Canceled)
	}
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("SleepContext() = %v, want nil", err)
	}
}
