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

// Package sqlite provides a counter storage in a local SQLite file, for
// single host deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // schema
	"fmt"
	"net/url"

	"github.com/apigw/quotacounter/storage/coresql"
	"k8s.io/klog/v2"

	_ "github.com/mattn/go-sqlite3" // Register the sqlite3 driver.
)

//go:embed schema/storage.sql
var schema string

// CounterStorage stores counters in a SQLite database.
//
// Write transactions start with BEGIN IMMEDIATE, which takes the database
// write lock up front, so locking reads need no extra clause.
type CounterStorage = coresql.CounterStorage

// DSN returns the data source name used to open the file at path.
func DSN(path string, busyTimeoutMillis int) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMillis))
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens the SQLite database at dsn and creates the schema if needed.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		klog.Warningf("Could not open SQLite database, check config: %s", err)
		return nil, err
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}

// NewCounterStorage returns a counter storage using db.
func NewCounterStorage(db *sql.DB) *CounterStorage {
	return coresql.NewCounterStorage(db, coresql.Dialect{
		Name:           "sqlite",
		IsDuplicateErr: isDuplicateErr,
		ToGRPC:         sqliteToGRPC,
	})
}
