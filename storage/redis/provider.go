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

package redis

import (
	"flag"
	"sync"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/storage"
	"github.com/go-redis/redis"
	"k8s.io/klog/v2"
)

// StorageProviderName identifies the Redis counter storage.
const StorageProviderName = "redis"

var (
	redisAddr     = flag.String("redis_addr", "localhost:6379", "Address of the Redis server")
	redisPassword = flag.String("redis_password", "", "Password of the Redis server")
	redisDB       = flag.Int("redis_db", 0, "Redis database number")
	redisPrefix   = flag.String("redis_key_prefix", DefaultPrefix, "Prefix of Redis keys holding counters")

	redisMu       sync.Mutex
	redisInstance *redisProvider
)

func init() {
	if err := storage.RegisterProvider(StorageProviderName, newRedisStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider %v: %v", StorageProviderName, err)
	}
}

type redisProvider struct {
	client *redis.Client
	cs     *CounterStorage
}

func newRedisStorageProvider(_ monitoring.MetricFactory) (storage.Provider, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisInstance == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: *redisPassword,
			DB:       *redisDB,
		})
		redisInstance = &redisProvider{
			client: client,
			cs:     NewCounterStorage(client, Options{Prefix: *redisPrefix}),
		}
	}
	return redisInstance, nil
}

func (p *redisProvider) CounterStorage() storage.CounterStorage {
	return p.cs
}

func (p *redisProvider) Close() error {
	return p.client.Close()
}
