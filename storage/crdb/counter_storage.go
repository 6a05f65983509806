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

// Package crdb provides a CockroachDB based implementation of counter
// storage.
package crdb

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/apigw/quotacounter/storage/coresql"
	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"k8s.io/klog/v2"
)

// CounterStorage stores counters in a CockroachDB database. Transactions
// run through crdb.ExecuteTx, which retries on serialization conflicts.
type CounterStorage = coresql.CounterStorage

// OpenDB opens a database connection for all CockroachDB-based storage
// implementations.
func OpenDB(dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open CockroachDB database, check config: %s", err)
		return nil, err
	}
	return db, nil
}

// NewCounterStorage returns a counter storage using db, which must hold the
// schema in schema/storage.sql.
func NewCounterStorage(db *sql.DB) *CounterStorage {
	return coresql.NewCounterStorage(db, coresql.Dialect{
		Name:           StorageProviderName,
		Placeholder:    sq.Dollar,
		LockSuffix:     "FOR UPDATE",
		IsDuplicateErr: isDuplicateErr,
		ToGRPC:         crdbToGRPC,
		RunTx:          crdb.ExecuteTx,
	})
}
