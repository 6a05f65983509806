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

// Package memory provides an in-process implementation of the counter
// storage interfaces.
//
// It is intended for tests and single-node deployments. Counters live in a
// BTree keyed by name. Each counter carries its own lock, held by a
// read-write transaction from LockCounter (or CreateCounter) until commit or
// rollback, which gives the same serialization a row-locking database gives
// to concurrent transactions. Writes are buffered in the transaction and
// become visible on commit.
package memory
