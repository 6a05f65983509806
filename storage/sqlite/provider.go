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

package sqlite

import (
	"context"
	"database/sql"
	"flag"
	"sync"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/storage"
	"k8s.io/klog/v2"
)

var (
	sqlitePath        = flag.String("sqlite_path", "counters.db", "Path of the SQLite database file")
	sqliteBusyTimeout = flag.Int("sqlite_busy_timeout_ms", 10000, "Milliseconds to wait for the SQLite write lock")

	sqliteMu       sync.Mutex
	sqliteInstance *sqliteProvider
)

func init() {
	if err := storage.RegisterProvider("sqlite", newSQLiteStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider sqlite: %v", err)
	}
}

type sqliteProvider struct {
	db *sql.DB
	cs *CounterStorage
}

func newSQLiteStorageProvider(_ monitoring.MetricFactory) (storage.Provider, error) {
	sqliteMu.Lock()
	defer sqliteMu.Unlock()
	if sqliteInstance == nil {
		db, err := OpenDB(context.Background(), DSN(*sqlitePath, *sqliteBusyTimeout))
		if err != nil {
			return nil, err
		}
		sqliteInstance = &sqliteProvider{db: db, cs: NewCounterStorage(db)}
	}
	return sqliteInstance, nil
}

func (s *sqliteProvider) CounterStorage() storage.CounterStorage {
	return s.cs
}

func (s *sqliteProvider) Close() error {
	return s.db.Close()
}
