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

// Package backoff retries remote calls failing with transient errors.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/apigw/quotacounter/util/clock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Backoff specifies the parameters of the backoff algorithm. Works correctly
// if 0 < Min <= Max <= 2^62 (nanosec), and Factor >= 1.
type Backoff struct {
	Min    time.Duration // Duration of the first pause.
	Max    time.Duration // Max duration of a pause.
	Factor float64       // The factor of duration increase between iterations.
	Jitter bool          // Add random noise to pauses.

	// MaxAttempts bounds the calls made by Retry. Zero means no bound.
	MaxAttempts int

	delta time.Duration // Current pause duration relative to Min, no jitter.
}

// Default is a Backoff suited to calls against a single counter server.
func Default() *Backoff {
	return &Backoff{Min: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true, MaxAttempts: 5}
}

// Duration returns the time to wait on current retry iteration. Each call
// multiplies the pause by Factor, up to Max. With Jitter, a random value in
// [0, pause) is added.
func (b *Backoff) Duration() time.Duration {
	pause := b.Min + b.delta

	next := time.Duration(float64(pause) * b.Factor)
	if next > b.Max || next < b.Min { // Multiplication could overflow.
		next = b.Max
	}
	b.delta = next - b.Min

	if b.Jitter && pause > 0 {
		pause += time.Duration(rand.Int63n(int64(pause)))
	}
	return pause
}

// Reset sets the internal state back to first iteration.
func (b *Backoff) Reset() {
	b.delta = 0
}

// IsTransient reports whether err carries a code after which the same call
// may succeed: the server was unavailable or lost a transaction conflict,
// and in both cases nothing was applied.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	}
	return false
}

// Retry calls f until it succeeds, returns an error rejected by retryable,
// runs out of attempts or ctx is done. The most recent error of f is
// returned. A nil retryable means IsTransient. Retry resets b first.
func (b *Backoff) Retry(ctx context.Context, f func() error, retryable func(error) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if retryable == nil {
		retryable = IsTransient
	}
	b.Reset()
	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil || !retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return err
		}
		if clock.SleepContext(ctx, b.Duration()) != nil {
			return err
		}
	}
}
