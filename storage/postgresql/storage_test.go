// Copyright 2024 Trillian Authors. All Rights Reserved.
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

package postgresql

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/storage"
	"github.com/apigw/quotacounter/storage/postgresql/testdbpgx"
	"github.com/apigw/quotacounter/storage/testonly"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// DB is the database used for tests. It's initialized and closed by TestMain().
var DB *pgxpool.Pool

func TestPostgreSQLCounterStorage(t *testing.T) {
	skipIfNoDB(t)
	tester := &testonly.CounterStorageTester{
		NewCounterStorage: func() storage.CounterStorage { return NewCounterStorage(DB) },
	}
	tester.RunAllTests(t)
}

func TestWriteMissingCounter(t *testing.T) {
	skipIfNoDB(t)
	ctx := context.Background()
	s := NewCounterStorage(DB)
	err := s.ReadWriteTransaction(ctx, func(ctx context.Context, tx storage.CounterTX) error {
		return tx.WriteCounter(ctx, "missing", &quota.Counter{Second: 1})
	})
	if got, want := status.Code(err), codes.NotFound; got != want {
		t.Errorf("WriteCounter(missing) returned err = %v, want code %v", err, want)
	}
}

func skipIfNoDB(t *testing.T) {
	t.Helper()
	if DB == nil {
		t.Skip("Skipping test as PostgreSQL not available")
	}
}

func openTestDBOrDie() (*pgxpool.Pool, func(context.Context)) {
	db, done, err := testdbpgx.NewCounterDB(context.TODO())
	if err != nil {
		panic(err)
	}
	return db, done
}

func TestMain(m *testing.M) {
	flag.Parse()
	done := func(context.Context) {}
	if testdbpgx.PostgreSQLAvailable() {
		DB, done = openTestDBOrDie()
	} else {
		klog.Errorf("PostgreSQL not available, skipping all PostgreSQL storage tests")
	}

	code := m.Run()
	done(context.Background())
	os.Exit(code)
}
