// Copyright 2018 Google Inc. All Rights Reserved.
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

package testonly

import (
	"context"

	"github.com/apigw/quotacounter/storage"
)

// RunOnCounterTX is a helper for mocking out the
// CounterStorage.ReadWriteTransaction method: f runs against tx, and its
// error is returned as the transaction's.
func RunOnCounterTX(tx storage.CounterTX) func(ctx context.Context, f storage.CounterTXFunc) error {
	return func(ctx context.Context, f storage.CounterTXFunc) error {
		return f(ctx, tx)
	}
}
