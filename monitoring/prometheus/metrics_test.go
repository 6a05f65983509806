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

package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newFactory() MetricFactory {
	return MetricFactory{Prefix: "test_", Registerer: prometheus.NewRegistry()}
}

func TestCounter(t *testing.T) {
	mf := newFactory()
	c := mf.NewCounter("increments", "help", "mode", "outcome")
	c.Inc("sync", "admitted")
	c.Add(4, "sync", "admitted")
	c.Inc("async", "rejected")
	// Wrong label count must not panic.
	c.Inc("sync")

	if got, want := c.Value("sync", "admitted"), 5.0; got != want {
		t.Errorf("Value(sync, admitted) = %v, want %v", got, want)
	}
	if got, want := c.Value("async", "rejected"), 1.0; got != want {
		t.Errorf("Value(async, rejected) = %v, want %v", got, want)
	}

	single := mf.NewCounter("resets", "help")
	single.Inc()
	if got, want := single.Value(), 1.0; got != want {
		t.Errorf("Value() = %v, want %v", got, want)
	}
}

func TestGauge(t *testing.T) {
	g := newFactory().NewGauge("queue_depth", "help")
	g.Set(7)
	g.Inc()
	g.Dec()
	g.Add(-2)
	if got, want := g.Value(), 5.0; got != want {
		t.Errorf("Value() = %v, want %v", got, want)
	}
}

func TestHistogram(t *testing.T) {
	h := newFactory().NewHistogramWithBuckets("batch_size", "help", []float64{1, 10, 100}, "backend")
	h.Observe(3, "memory")
	h.Observe(40, "memory")
	count, sum := h.Info("memory")
	if count != 2 || sum != 43 {
		t.Errorf("Info() = (%v, %v), want (2, 43)", count, sum)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	mf := newFactory()
	mf.NewGauge("dup", "help")
	defer func() {
		if recover() == nil {
			t.Error("registering a metric twice did not panic")
		}
	}()
	mf.NewGauge("dup", "help")
}
