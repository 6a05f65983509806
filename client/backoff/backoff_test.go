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

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBackoff(t *testing.T) {
	b := Backoff{
		Min:    time.Duration(1),
		Max:    time.Duration(100),
		Factor: 2,
	}
	for _, test := range []struct {
		times int
		want  time.Duration
	}{
		{1, time.Duration(1)},
		{2, time.Duration(2)},
		{3, time.Duration(4)},
		{4, time.Duration(8)},
		{8, time.Duration(100)},
	} {
		b.Reset()
		var got time.Duration
		for i := 0; i < test.times; i++ {
			got = b.Duration()
		}
		if got != test.want {
			t.Errorf("Duration() %v times: %v, want %v", test.times, got, test.want)
		}
	}
}

func TestJitter(t *testing.T) {
	b := Backoff{
		Min:    time.Second,
		Max:    100 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for _, test := range []struct {
		times    int
		min, max time.Duration
	}{
		{1, 1 * time.Second, 2 * time.Second},
		{2, 2 * time.Second, 4 * time.Second},
		{3, 4 * time.Second, 8 * time.Second},
		{8, 100 * time.Second, 200 * time.Second},
	} {
		b.Reset()
		var got time.Duration
		for i := 0; i < test.times; i++ {
			got = b.Duration()
		}
		if got < test.min || got >= test.max {
			t.Errorf("Duration() %v times = %v, want in [%v, %v)", test.times, got, test.min, test.max)
		}
	}
}

func TestRetry(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	permanent := status.Error(codes.NotFound, "no such counter")

	for _, test := range []struct {
		desc      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{desc: "success", errs: []error{nil}, wantCalls: 1},
		{desc: "transient then success", errs: []error{unavailable, unavailable, nil}, wantCalls: 3},
		{desc: "permanent", errs: []error{permanent}, wantCalls: 1, wantErr: permanent},
		{desc: "attempts exhausted", errs: []error{unavailable, unavailable, unavailable, unavailable}, wantCalls: 3, wantErr: unavailable},
	} {
		t.Run(test.desc, func(t *testing.T) {
			b := Backoff{Min: time.Millisecond, Max: time.Millisecond, Factor: 1, MaxAttempts: 3}
			calls := 0
			err := b.Retry(context.Background(), func() error {
				err := test.errs[calls]
				calls++
				return err
			}, nil)
			if !errors.Is(err, test.wantErr) {
				t.Errorf("Retry() = %v, want %v", err, test.wantErr)
			}
			if calls != test.wantCalls {
				t.Errorf("Retry() made %d calls, want %d", calls, test.wantCalls)
			}
		})
	}
}

func TestRetryContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Default()
	if err := b.Retry(ctx, func() error {
		t.Error("f called with a done context")
		return nil
	}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want %v", err, context.Canceled)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b = &Backoff{Min: time.Hour, Max: time.Hour, Factor: 1}
	errBusy := status.Error(codes.Aborted, "conflict")
	if err := b.Retry(ctx, func() error { return errBusy }, nil); !errors.Is(err, errBusy) {
		t.Errorf("Retry() = %v, want %v", err, errBusy)
	}
}
