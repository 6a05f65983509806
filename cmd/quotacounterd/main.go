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

// The quotacounterd binary serves a quota counter engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/apigw/quotacounter/cmd"
	"github.com/apigw/quotacounter/cmd/internal/provider"
	"github.com/apigw/quotacounter/cmd/internal/serverutil"
	"github.com/apigw/quotacounter/monitoring/prometheus"
	"github.com/apigw/quotacounter/quota/counterqm"
	"github.com/apigw/quotacounter/server"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/util/clock"
	"k8s.io/klog/v2"
)

var (
	httpEndpoint    = flag.String("http_endpoint", "localhost:8091", "Endpoint for the counter API, /metrics and /healthz (host:port)")
	healthzTimeout  = flag.Duration("healthz_timeout", time.Second*5, "Timeout used during healthz checks")
	shutdownTimeout = flag.Duration("shutdown_timeout", serverutil.DefaultShutdownTimeout, "Time allowed for draining queues on shutdown")
	tlsCertFile     = flag.String("tls_cert_file", "", "Path to the TLS server certificate. If unset, the server will use unsecured connections.")
	tlsKeyFile      = flag.String("tls_key_file", "", "Path to the TLS server key. If unset, the server will use unsecured connections.")

	flagFile   = flag.String("flag_file", "", "File containing flags, file contents can be overridden by command line flags")
	configFile = flag.String("config", "", "YAML file with engine settings, overridden by command line flags")

	engine = registerEngineFlags(flag.CommandLine, provider.DefaultStorageSystem)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagFile != "" {
		if err := cmd.ParseFlagFile(*flagFile); err != nil {
			klog.Exitf("Failed to load flags from flag file %q: %s", *flagFile, err)
		}
	}
	if *configFile != "" {
		if err := loadEngineConfig(*configFile, flag.CommandLine, engine); err != nil {
			klog.Exitf("Failed to load config file %q: %v", *configFile, err)
		}
	}

	mf := prometheus.MetricFactory{}
	opts, err := engine.options(clock.System, mf)
	if err != nil {
		klog.Exitf("Invalid engine configuration: %v", err)
	}

	sp, err := storage.NewProvider(engine.StorageSystem, mf)
	if err != nil {
		klog.Exitf("Failed to get storage provider: %v", err)
	}
	cs := sp.CounterStorage()
	klog.Infof("Using storage system %q", engine.StorageSystem)

	qm := counterqm.New(cs, opts)
	ctx := context.Background()
	if err := declareCounters(ctx, qm, engine.Counters); err != nil {
		klog.Exitf("%v", err)
	}

	m := serverutil.Main{
		HTTPEndpoint:    *httpEndpoint,
		TLSCertFile:     *tlsCertFile,
		TLSKeyFile:      *tlsKeyFile,
		Handler:         server.New(qm, clock.System, mf).Handler(),
		IsHealthy:       cs.CheckDatabaseAccessible,
		HealthyDeadline: *healthzTimeout,
		ShutdownTimeout: *shutdownTimeout,
		Shutdown: func(ctx context.Context) error {
			// Queued steps are applied before the storage goes away.
			return errors.Join(qm.Close(ctx), sp.Close())
		},
	}
	if err := m.Run(ctx); err != nil {
		klog.Exitf("Server exited with error: %v", err)
	}
}
