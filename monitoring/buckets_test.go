// Copyright 2019 Google Inc. All Rights Reserved.
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

import (
	"fmt"
	"math"
	"testing"
)

func TestLatencyBuckets(t *testing.T) {
	buckets := LatencyBuckets()
	if math.Abs(buckets[0]-0.0005) > 1e-9 {
		t.Errorf("LatencyBuckets(): got first bucket: %v, want: 0.0005", buckets[0])
	}
	if got, want := buckets[len(buckets)-1], 16.384; math.Abs(got-want) > 1e-6 {
		t.Errorf("LatencyBuckets(): got last bucket: %v, want: %v", got, want)
	}
	for i := 0; i < len(buckets)-1; i++ {
		if buckets[i] > buckets[i+1] {
			t.Errorf("LatencyBuckets(): buckets out of order at index: %d", i)
		}
	}
}

func TestSizeBuckets(t *testing.T) {
	tests := []struct {
		max  int
		want []float64
	}{
		{max: 0, want: nil},
		{max: 1, want: []float64{1}},
		{max: 8, want: []float64{1, 2, 4, 8}},
		{max: 100, want: []float64{1, 2, 4, 8, 16, 32, 64, 100}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("max %d", test.max), func(t *testing.T) {
			got := SizeBuckets(test.max)
			if fmt.Sprint(got) != fmt.Sprint(test.want) {
				t.Errorf("SizeBuckets(%d) = %v, want %v", test.max, got, test.want)
			}
		})
	}
}
