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

package monitoring

// LatencyBuckets returns histogram upper limits suited to database
// transaction latencies in seconds: from half a millisecond to roughly
// sixteen seconds.
func LatencyBuckets() []float64 {
	return ExpBuckets(0.0005, 2, 16)
}

// ExpBuckets returns the specified number of histogram buckets with
// exponentially increasing thresholds. The thresholds vary between base and
// base * mult^(buckets-1).
func ExpBuckets(base, mult float64, buckets uint) []float64 {
	r := make([]float64, buckets)
	for i, exp := uint(0), base; i < buckets; i, exp = i+1, exp*mult {
		r[i] = exp
	}
	return r
}

// SizeBuckets returns power-of-two buckets covering 1 to max, used for
// batch sizes. max is always the last bucket. Returns nil if max < 1.
func SizeBuckets(max int) []float64 {
	if max < 1 {
		return nil
	}
	var r []float64
	for v := 1; v < max; v *= 2 {
		r = append(r, float64(v))
	}
	return append(r, float64(max))
}
