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

package testdbpgx

import (
	"testing"
)

func TestPostgreSQLURI(t *testing.T) {
	t.Setenv(PostgreSQLURIEnv, "postgresql:///defaultdb?host=localhost&user=postgres")
	for _, tc := range []struct {
		refs []string
		want string
	}{
		{want: "postgresql:///defaultdb?host=localhost&user=postgres"},
		{refs: []string{"qc_1"}, want: "postgresql:///qc_1?host=localhost&user=postgres"},
		{refs: []string{"sslmode=disable"}, want: "postgresql:///defaultdb?host=localhost&user=postgres&sslmode=disable"},
	} {
		if got := postgresqlURI(tc.refs...); got != tc.want {
			t.Errorf("postgresqlURI(%v) = %q, want %q", tc.refs, got, tc.want)
		}
	}
}
