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

// counterhammer is a stress/load test for a quotacounterd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apigw/quotacounter/client"
	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/monitoring/prometheus"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/testonly/hammer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	serverURL       = flag.String("server", "http://localhost:8091", "Base URL of the quotacounterd server")
	counters        = flag.String("counters", "hammer-0,hammer-1", "Comma-separated list of counters to hammer; they are reset first")
	window          = flag.String("window", "minute", "Window checked against --limit")
	limit           = flag.Int64("limit", 1000, "Limit of every increment; negative for none")
	maxIncrement    = flag.Int64("max_increment", 1, "Largest weight of a single increment")
	metricsEndpoint = flag.String("metrics_endpoint", "", "Endpoint for serving metrics; if left empty, metrics will not be exposed")
	seed            = flag.Int64("seed", -1, "Seed for random number generation")
	operations      = flag.Uint64("operations", 10000, "Number of operations to perform")
	workers         = flag.Int("workers", 8, "Number of concurrent workers")
	emitInterval    = flag.Duration("emit_interval", 10*time.Second, "How often to output the hammer state")
	ignoreErrors    = flag.Bool("ignore_errors", false, "Keep going after failed operations")
)

var (
	syncIncrBias  = flag.Int("sync_increment", 10, "Bias for synchronous increments")
	asyncIncrBias = flag.Int("async_increment", 10, "Bias for asynchronous increments")
	decrementBias = flag.Int("decrement", 1, "Bias for decrements")
	getValueBias  = flag.Int("get_value", 2, "Bias for value reads")
	getInfoBias   = flag.Int("get_info", 1, "Bias for info reads")
	invalidChance = flag.Int("invalid_chance", 20, "Chance of targeting an undeclared counter, as the N in 1-in-N (0 for never)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *seed == -1 {
		*seed = time.Now().UTC().UnixNano() & 0xFFFFFFFF
	}
	fmt.Printf("Today's test has been brought to you by the number %#x\n", *seed)

	w, err := quota.ParseWindow(*window)
	if err != nil {
		klog.Exitf("Bad --window: %v", err)
	}

	var mf monitoring.MetricFactory = monitoring.InertMetricFactory{}
	if *metricsEndpoint != "" {
		mf = prometheus.MetricFactory{}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsEndpoint, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		klog.Infof("Serving metrics at %v", *metricsEndpoint)
		go func() {
			err := srv.ListenAndServe()
			klog.Warningf("Metrics server exited: %v", err)
		}()
	}

	c, err := client.New(*serverURL)
	if err != nil {
		klog.Exitf("Failed to create client: %v", err)
	}

	cfg := hammer.Config{
		Manager:      c,
		Counters:     strings.Split(*counters, ","),
		Window:       w,
		Limit:        *limit,
		MaxIncrement: *maxIncrement,
		Workers:      *workers,
		Operations:   *operations,
		EPBias: hammer.Bias{
			Bias: map[hammer.EntrypointName]int{
				hammer.SyncIncrementName:  *syncIncrBias,
				hammer.AsyncIncrementName: *asyncIncrBias,
				hammer.DecrementName:      *decrementBias,
				hammer.GetValueName:       *getValueBias,
				hammer.GetInfoName:        *getInfoBias,
			},
			InvalidChance: *invalidChance,
		},
		Seed:          *seed,
		MetricFactory: mf,
		EmitInterval:  *emitInterval,
		IgnoreErrors:  *ignoreErrors,
	}
	fmt.Printf("%v\n\n", cfg)

	report, err := hammer.Run(context.Background(), cfg)
	if err != nil {
		klog.Exitf("Hammer failed: %v", err)
	}
	for _, n := range cfg.Counters {
		klog.Infof("%s: final %v value %d", n, w, report.Values[n])
	}
	klog.Infof("Completed %d operations", *operations)
}
