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
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCounterExists is returned by CounterTX.CreateCounter when the name is
// already taken.
var ErrCounterExists = errors.New("counter already exists")

// CounterNotFound returns the error reported for a name with no stored row.
func CounterNotFound(name string) error {
	return status.Errorf(codes.NotFound, "counter %q not found", name)
}

// IsNotFound reports whether err, or any error it wraps, carries
// codes.NotFound.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsRetryable reports whether err signals a transaction conflict, such as a
// deadlock or serialization failure, after which the caller may try again.
func IsRetryable(err error) bool {
	return status.Code(err) == codes.Aborted
}
