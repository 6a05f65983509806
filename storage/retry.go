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

	"k8s.io/klog/v2"
)

// DefaultMaxAttempts is the number of times backends run a read-write
// transaction which keeps failing with a retryable error.
const DefaultMaxAttempts = 5

// RetryAborted calls f until it returns an error IsRetryable rejects, ctx is
// done, or maxAttempts calls were made. It returns the last error.
func RetryAborted(ctx context.Context, maxAttempts int, desc string, f func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil || !IsRetryable(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return err
		}
		klog.V(1).Infof("%s: retrying transaction (attempt %d): %v", desc, attempt, err)
	}
}
