// Copyright 2022 <TBD>
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

package crdb

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"sync"
	"testing"

	"github.com/apigw/quotacounter/storage/testdb"
	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"k8s.io/klog/v2"
)

// testDBs holds a set of test databases, one per test.
var testDBs sync.Map

// crdbAvailable is set by TestMain.
var crdbAvailable bool

type testDBHandle struct {
	db   *sql.DB
	done func(context.Context)
}

func (db *testDBHandle) GetDB() *sql.DB {
	return db.db
}

func TestMain(m *testing.M) {
	flag.Parse()

	if os.Getenv(testdb.CockroachDBURIEnv) == "" {
		ts, err := testserver.NewTestServer()
		if err != nil {
			klog.Errorf("Failed to start test server: %v", err)
		} else {
			defer ts.Stop()

			// reset the test server URL path. By default cockroach sets it
			// to point to a default database, we don't want that.
			dburl := ts.PGURL()
			dburl.Path = "/"
			os.Setenv(testdb.CockroachDBURIEnv, dburl.String())
		}
	}

	crdbAvailable = testdb.CockroachDBAvailable()
	if !crdbAvailable {
		klog.Errorf("CockroachDB not available, skipping all CockroachDB storage tests")
	}

	code := m.Run()

	// Clean up databases
	testDBs.Range(func(key, value interface{}) bool {
		klog.Infof("Cleaning up database for test %s", key.(string))
		value.(*testDBHandle).done(context.Background())
		return true
	})

	// os.Exit skips deferred calls.
	if code != 0 {
		os.Exit(code)
	}
}

// This is used to identify a database from the map
func getDBID(t *testing.T) string {
	t.Helper()
	return t.Name()
}

func openTestDBOrDie(t *testing.T) *testDBHandle {
	t.Helper()
	if !crdbAvailable {
		t.Skip("Skipping test as CockroachDB not available")
	}

	db, done, err := testdb.NewCounterDB(context.TODO(), testdb.DriverCockroachDB)
	if err != nil {
		panic(err)
	}

	handle := &testDBHandle{
		db:   db,
		done: done,
	}

	testDBs.Store(getDBID(t), handle)

	return handle
}
