// Copyright 2017 Google Inc. All Rights Reserved.
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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apigw/quotacounter/client/backoff"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/quota/counterqm"
	"github.com/apigw/quotacounter/server"
	"github.com/apigw/quotacounter/storage/memory"
	"github.com/apigw/quotacounter/util/clock"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ts0 = time.Date(2024, time.March, 15, 10, 20, 30, 0, time.UTC)

func newServer(t *testing.T, wrap func(http.Handler) http.Handler) (*httptest.Server, *counterqm.Manager) {
	t.Helper()
	ts := clock.NewFake(ts0)
	m := counterqm.New(memory.NewCounterStorage(), counterqm.Options{Location: time.UTC, TimeSource: ts})
	h := server.New(m, ts, nil).Handler()
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		m.Close(context.Background())
	})
	return srv, m
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, WithHTTPClient(srv.Client()), WithLocation(time.UTC),
		WithBackoff(backoff.Backoff{Min: time.Millisecond, Max: time.Millisecond, Factor: 1, MaxAttempts: 3}))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return c
}

func TestClientManager(t *testing.T) {
	ctx := context.Background()
	srv, m := newServer(t, nil)
	c := newClient(t, srv)
	const name = "tenant/route:1"

	if err := c.EnsureCounterExists(ctx, name); err != nil {
		t.Fatalf("EnsureCounterExists() = %v", err)
	}
	v, err := c.IncrementAndReturnValue(ctx, quota.Sync, name, ts0, quota.Minute)
	if err != nil || v != 1 {
		t.Fatalf("IncrementAndReturnValue() = %d, %v, want 1", v, err)
	}
	res, err := c.IncrementOnlyWithinLimit(ctx, quota.Sync, name, ts0, quota.Minute, 3, 2)
	if err != nil || !res.Admitted() || res.Value != 3 {
		t.Fatalf("IncrementOnlyWithinLimit() = %+v, %v, want admitted 3", res, err)
	}
	res, err = c.IncrementOnlyWithinLimit(ctx, quota.Sync, name, ts0, quota.Minute, 3, 1)
	if err != nil || res.Admitted() || res.Reason == "" {
		t.Fatalf("IncrementOnlyWithinLimit() over limit = %+v, %v, want rejection", res, err)
	}

	if _, err := c.IncrementOnlyWithinLimit(ctx, quota.Async, name, ts0, quota.Day, quota.NoLimit, 1); err != nil {
		t.Fatalf("async IncrementOnlyWithinLimit() = %v", err)
	}
	if err := m.Flush(ctx, name); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	if got, err := c.GetCounterValue(ctx, name, quota.Day); err != nil || got != 3 {
		t.Errorf("GetCounterValue(day) = %d, %v, want 3", got, err)
	}

	if err := c.Decrement(ctx, quota.Sync, name); err != nil {
		t.Fatalf("Decrement() = %v", err)
	}
	got, err := c.GetCounterInfo(ctx, name)
	if err != nil {
		t.Fatalf("GetCounterInfo() = %v", err)
	}
	want := &quota.CounterInfo{Name: name, Second: 2, Minute: 3, Hour: 2, Day: 2, Month: 2, LastUpdate: ts0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetCounterInfo() diff (-want +got):\n%s", diff)
	}

	if err := c.Reset(ctx, name); err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	if got, err := c.GetCounterValue(ctx, name, quota.Month); err != nil || got != 0 {
		t.Errorf("GetCounterValue(month) after reset = %d, %v, want 0", got, err)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t, nil)
	c := newClient(t, srv)

	if _, err := c.GetCounterInfo(ctx, "nobody"); status.Code(err) != codes.NotFound {
		t.Errorf("GetCounterInfo(unknown) = %v, want NotFound", err)
	}
	if err := c.Decrement(ctx, quota.Sync, "nobody"); status.Code(err) != codes.NotFound {
		t.Errorf("Decrement(unknown) = %v, want NotFound", err)
	}
	if err := c.EnsureCounterExists(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Errorf("EnsureCounterExists(\"\") = %v, want InvalidArgument", err)
	}
	if _, err := c.IncrementOnlyWithinLimit(ctx, quota.Sync, "x", ts0, quota.Second, 1, 0); status.Code(err) != codes.InvalidArgument {
		t.Errorf("IncrementOnlyWithinLimit(by 0) = %v, want InvalidArgument", err)
	}
	if _, err := c.GetCounterValue(ctx, "x", quota.Window(9)); status.Code(err) != codes.InvalidArgument {
		t.Errorf("GetCounterValue(bad window) = %v, want InvalidArgument", err)
	}
}

func TestClientRetriesUnavailable(t *testing.T) {
	var calls int32
	flaky := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(server.ErrorResponse{Code: codes.Unavailable.String(), Message: "draining"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv, _ := newServer(t, flaky)
	c := newClient(t, srv)

	if err := c.EnsureCounterExists(context.Background(), "client-1"); err != nil {
		t.Fatalf("EnsureCounterExists() = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newClient(t, srv)

	if err := c.Reset(context.Background(), "client-1"); status.Code(err) != codes.Unavailable {
		t.Errorf("Reset() = %v, want Unavailable", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestNew(t *testing.T) {
	for _, u := range []string{"localhost:8091", "ftp://host", "http://[::1"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) returned nil error", u)
		}
	}
	c, err := New("http://localhost:8091/")
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if c.base != "http://localhost:8091" {
		t.Errorf("base = %q, want trailing slash trimmed", c.base)
	}
}
