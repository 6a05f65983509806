// Copyright 2018 Google LLC. All Rights Reserved.
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

package cloudspanner

import (
	"context"
	"flag"
	"sync"

	"cloud.google.com/go/spanner"
	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/storage"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

// StorageProviderName is the name of the storage provider.
const StorageProviderName = "cloud_spanner"

var (
	csURI                 = flag.String("cloudspanner_uri", "", "Connection URI for CloudSpanner database")
	csNumChannels         = flag.Int("cloudspanner_num_channels", 0, "Number of gRPC channels to use to talk to CloudSpanner.")
	csSessionMaxOpened    = flag.Uint64("cloudspanner_max_open_sessions", 0, "Max open sessions.")
	csSessionMinOpened    = flag.Uint64("cloudspanner_min_open_sessions", 0, "Min open sessions.")
	csSessionHCInterval   = flag.Duration("cloudspanner_healthcheck_interval", 0, "Interval between pinging sessions.")
	csSessionTrackHandles = flag.Bool("cloudspanner_track_session_handles", false, "Whether the session pool keeps the stack traces of goroutines taking sessions.")
	csReadOnlyStaleness   = flag.Duration("cloudspanner_readonly_staleness", 0, "How far in the past to serve snapshot reads. Zero for strong reads.")

	csMu              sync.Mutex
	csStorageInstance *cloudSpannerProvider
)

func init() {
	if err := storage.RegisterProvider(StorageProviderName, newCloudSpannerStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider %s: %v", StorageProviderName, err)
	}
}

type cloudSpannerProvider struct {
	client *spanner.Client
	cs     *CounterStorage
}

func configFromFlags() spanner.ClientConfig {
	r := spanner.ClientConfig{}
	setUint64IfNotDefault(&r.SessionPoolConfig.MaxOpened, *csSessionMaxOpened)
	setUint64IfNotDefault(&r.SessionPoolConfig.MinOpened, *csSessionMinOpened)
	r.SessionPoolConfig.TrackSessionHandles = *csSessionTrackHandles
	r.SessionPoolConfig.HealthCheckInterval = *csSessionHCInterval
	return r
}

func optionsFromFlags() []option.ClientOption {
	opts := []option.ClientOption{}
	if numConns := *csNumChannels; numConns != 0 {
		opts = append(opts, option.WithGRPCConnectionPool(numConns))
	}
	return opts
}

func newCloudSpannerStorageProvider(_ monitoring.MetricFactory) (storage.Provider, error) {
	csMu.Lock()
	defer csMu.Unlock()

	if csStorageInstance != nil {
		return csStorageInstance, nil
	}

	client, err := spanner.NewClientWithConfig(context.Background(), *csURI, configFromFlags(), optionsFromFlags()...)
	if err != nil {
		return nil, err
	}
	csStorageInstance = &cloudSpannerProvider{
		client: client,
		cs:     NewCounterStorage(client, CounterStorageOptions{ReadOnlyStaleness: *csReadOnlyStaleness}),
	}
	return csStorageInstance, nil
}

func (s *cloudSpannerProvider) CounterStorage() storage.CounterStorage {
	return s.cs
}

// Close shuts down this provider. Calls to the other methods will fail
// after this.
func (s *cloudSpannerProvider) Close() error {
	csMu.Lock()
	defer csMu.Unlock()
	s.client.Close()
	csStorageInstance = nil
	return nil
}

func setUint64IfNotDefault(t *uint64, v uint64) {
	if v != 0 {
		*t = v
	}
}
