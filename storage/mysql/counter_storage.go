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

// Package mysql provides a MySQL based implementation of counter storage.
package mysql

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/apigw/quotacounter/storage/coresql"
	"k8s.io/klog/v2"
)

// CounterStorage stores counters in the Counters table of a MySQL database.
// Locking reads use SELECT ... FOR UPDATE.
type CounterStorage = coresql.CounterStorage

// OpenDB opens a database connection for all MySQL-based storage implementations.
func OpenDB(dbURL string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dbURL)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open MySQL database, check config: %s", err)
		return nil, err
	}

	if _, err := db.ExecContext(context.TODO(), "SET sql_mode = 'STRICT_ALL_TABLES'"); err != nil {
		klog.Warningf("Failed to set strict mode on mysql db: %s", err)
		return nil, err
	}

	return db, nil
}

// NewCounterStorage returns a counter storage using db, which must hold the
// schema in schema/storage.sql.
func NewCounterStorage(db *sql.DB) *CounterStorage {
	return coresql.NewCounterStorage(db, coresql.Dialect{
		Name:           "mysql",
		Placeholder:    sq.Question,
		LockSuffix:     "FOR UPDATE",
		IsDuplicateErr: isDuplicateErr,
		ToGRPC:         mysqlToGRPC,
	})
}
