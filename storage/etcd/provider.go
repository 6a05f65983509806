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

package etcd

import (
	"errors"
	"flag"
	"fmt"
	"sync"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/util/etcd"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/klog/v2"
)

// StorageProviderName identifies the etcd counter storage.
const StorageProviderName = "etcd"

var (
	// Servers is a flag containing the address(es) of etcd servers.
	Servers = flag.String("etcd_servers", "", "A comma-separated list of etcd servers")
	prefix  = flag.String("etcd_counter_prefix", DefaultPrefix, "Key prefix of counters stored in etcd")

	etcdMu       sync.Mutex
	etcdInstance *etcdProvider
)

func init() {
	if err := storage.RegisterProvider(StorageProviderName, newEtcdStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider %v: %v", StorageProviderName, err)
	}
}

type etcdProvider struct {
	client *clientv3.Client
	cs     *CounterStorage
}

func newEtcdStorageProvider(_ monitoring.MetricFactory) (storage.Provider, error) {
	etcdMu.Lock()
	defer etcdMu.Unlock()
	if etcdInstance != nil {
		return etcdInstance, nil
	}
	if *Servers == "" {
		return nil, errors.New("can't create etcd storage - etcd_servers flag is unset")
	}
	client, err := etcd.NewClient(*Servers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd at %v: %v", *Servers, err)
	}
	klog.Info("Using etcd counter storage")
	etcdInstance = &etcdProvider{client: client, cs: NewCounterStorage(client, *prefix)}
	return etcdInstance, nil
}

func (p *etcdProvider) CounterStorage() storage.CounterStorage {
	return p.cs
}

func (p *etcdProvider) Close() error {
	return p.client.Close()
}
