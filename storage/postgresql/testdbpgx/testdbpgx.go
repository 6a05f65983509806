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

// Package testdbpgx creates new PostgreSQL databases for tests.
package testdbpgx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/klog/v2"
)

const (
	// PostgreSQLURIEnv is the name of the ENV variable checked for the test PostgreSQL
	// instance URI to use.
	PostgreSQLURIEnv = "TEST_POSTGRESQL_URI"

	defaultTestPostgreSQLURI = "postgresql:///defaultdb?host=localhost&user=postgres&password=postgres"
)

var counterSchema = func() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot get caller information")
	}
	return filepath.Join(filepath.Dir(file), "..", "schema", "storage.sql")
}()

// postgresqlURI returns the PostgreSQL connection URI to use for tests. It returns the
// value in the ENV variable defined by PostgreSQLURIEnv. If the value is empty,
// returns defaultTestPostgreSQLURI.
//
// A dbRef containing "=" is appended as a query parameter, any other dbRef
// replaces the database name.
func postgresqlURI(dbRef ...string) string {
	var stringurl string
	if e := os.Getenv(PostgreSQLURIEnv); len(e) > 0 {
		stringurl = e
	} else {
		stringurl = defaultTestPostgreSQLURI
	}

	for _, ref := range dbRef {
		if strings.Contains(ref, "=") {
			separator := "&"
			if strings.HasSuffix(stringurl, "&") {
				separator = ""
			}
			stringurl = strings.Join([]string{stringurl, ref}, separator)
		} else {
			// No equals character, so use this string as the database name.
			if s1 := strings.SplitN(stringurl, "//", 2); len(s1) == 2 {
				if s2 := strings.SplitN(stringurl, "?", 2); len(s2) == 2 {
					stringurl = s1[0] + "///" + ref + "?" + s2[1]
				}
			}
		}
	}

	return stringurl
}

// PostgreSQLAvailable indicates whether the configured PostgreSQL database is available.
func PostgreSQLAvailable() bool {
	db, err := pgxpool.New(context.TODO(), postgresqlURI())
	if err != nil {
		klog.Infof("pgxpool.New(): %v", err)
		return false
	}
	defer db.Close()
	if err := db.Ping(context.TODO()); err != nil {
		klog.Infof("db.Ping(): %v", err)
		return false
	}
	return true
}

// newEmptyDB creates a new, empty database.
// It returns the database handle and a clean-up function, or an error.
func newEmptyDB(ctx context.Context) (*pgxpool.Pool, func(context.Context), error) {
	db, err := pgxpool.New(ctx, postgresqlURI())
	if err != nil {
		return nil, nil, err
	}

	// Create a randomly-named database and then connect using the new name.
	name := fmt.Sprintf("qc_%v", time.Now().UnixNano())

	stmt := fmt.Sprintf("CREATE DATABASE %v", name)
	if _, err := db.Exec(ctx, stmt); err != nil {
		return nil, nil, fmt.Errorf("error running statement %q: %v", stmt, err)
	}

	db.Close()
	db, err = pgxpool.New(ctx, postgresqlURI(name))
	if err != nil {
		return nil, nil, err
	}

	done := func(ctx context.Context) {
		db.Close()
		admin, err := pgxpool.New(ctx, postgresqlURI())
		if err != nil {
			klog.Warningf("Failed to reconnect: %v", err)
			return
		}
		defer admin.Close()
		if _, err := admin.Exec(ctx, fmt.Sprintf("DROP DATABASE %v", name)); err != nil {
			klog.Warningf("Failed to drop test database %q: %v", name, err)
		}
	}

	return db, done, db.Ping(ctx)
}

// NewCounterDB creates an empty database with the counter schema. The
// database name is randomly generated.
func NewCounterDB(ctx context.Context) (*pgxpool.Pool, func(context.Context), error) {
	db, done, err := newEmptyDB(ctx)
	if err != nil {
		return nil, nil, err
	}

	sqlBytes, err := os.ReadFile(counterSchema)
	if err != nil {
		return nil, nil, err
	}

	// Each statement must end with a semicolon followed by a blank line.
	for _, stmt := range strings.Split(sanitize(string(sqlBytes)), ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, nil, fmt.Errorf("error running statement %q: %v", stmt, err)
		}
	}
	return db, done, nil
}

// sanitize drops comments but keeps blank lines, which separate statements.
func sanitize(script string) string {
	buf := &bytes.Buffer{}
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	return buf.String()
}

// SkipIfNoPostgreSQL is a test helper that skips tests that require a local PostgreSQL.
func SkipIfNoPostgreSQL(t *testing.T) {
	t.Helper()
	if !PostgreSQLAvailable() {
		t.Skip("Skipping test as PostgreSQL not available")
	}
	t.Logf("Test PostgreSQL available at %q", postgresqlURI())
}
