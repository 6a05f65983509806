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

// Package quota defines the throughput-quota counter model.
//
// A counter keeps five tallies, one per calendar window (second, minute,
// hour, day and month), all relative to the buckets that contain the
// counter's last update. Incrementing at a timestamp in a new bucket restarts
// that window (and every finer one) at 1, while coarser windows keep counting.
// Windows are fixed calendar periods, never sliding ones.
//
// Gateways consult a Manager to enforce limits such as "N calls per minute
// per client". Increments are either synchronous, serialized through a
// row lock in the shared database, or asynchronous, admitted against a
// snapshot and applied later by a per-counter drainer.
package quota
