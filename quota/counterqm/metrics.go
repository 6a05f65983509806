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

package counterqm

import (
	"github.com/apigw/quotacounter/monitoring"
)

const (
	opSyncIncrement = "sync_increment"
	opDecrement     = "decrement"
	opReset         = "reset"
	opDrain         = "drain"
)

type metrics struct {
	increments     monitoring.Counter
	decrements     monitoring.Counter
	resets         monitoring.Counter
	drainBatches   monitoring.Counter
	drainedSteps   monitoring.Counter
	droppedSteps   monitoring.Counter
	failedDrains   monitoring.Counter
	lostSteps      monitoring.Counter
	queueFull      monitoring.Counter
	queueDepth     monitoring.Gauge
	activeCounters monitoring.Gauge
	batchSize      monitoring.Histogram
	txLatency      monitoring.Histogram
}

func newMetrics(mf monitoring.MetricFactory, batchLimit int) *metrics {
	return &metrics{
		increments:     mf.NewCounter("quota_counter_increments", "Number of increment requests by mode and outcome", "mode", "outcome"),
		decrements:     mf.NewCounter("quota_counter_decrements", "Number of decrement requests by mode", "mode"),
		resets:         mf.NewCounter("quota_counter_resets", "Number of counter resets"),
		drainBatches:   mf.NewCounter("quota_counter_drain_batches", "Number of committed drain transactions"),
		drainedSteps:   mf.NewCounter("quota_counter_drained_steps", "Number of queued steps applied by drains", "kind"),
		droppedSteps:   mf.NewCounter("quota_counter_dropped_steps", "Number of queued increments dropped for exceeding their limit"),
		failedDrains:   mf.NewCounter("quota_counter_failed_drains", "Number of drain transactions that failed"),
		lostSteps:      mf.NewCounter("quota_counter_lost_steps", "Number of queued steps discarded by failed drains"),
		queueFull:      mf.NewCounter("quota_counter_queue_full", "Number of asynchronous calls that waited for queue space"),
		queueDepth:     mf.NewGauge("quota_counter_queue_depth", "Number of steps waiting in all counter queues"),
		activeCounters: mf.NewGauge("quota_counter_queues", "Number of counters with a queue and drainer"),
		batchSize:      mf.NewHistogramWithBuckets("quota_counter_drain_batch_size", "Number of steps applied per drain transaction", monitoring.SizeBuckets(batchLimit)),
		txLatency:      mf.NewHistogramWithBuckets("quota_counter_tx_latency_seconds", "Latency of counter transactions by operation", monitoring.LatencyBuckets(), "op"),
	}
}
