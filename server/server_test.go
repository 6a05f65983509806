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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/apigw/quotacounter/quota/counterqm"
	"github.com/apigw/quotacounter/storage/memory"
	"github.com/apigw/quotacounter/util/clock"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
)

var now = time.Date(2024, time.March, 15, 10, 20, 30, 0, time.UTC)

type testEnv struct {
	srv *httptest.Server
	m   *counterqm.Manager
	ts  *clock.FakeTimeSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ts := clock.NewFake(now)
	m := counterqm.New(memory.NewCounterStorage(), counterqm.Options{Location: time.UTC, TimeSource: ts})
	srv := httptest.NewServer(New(m, ts, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := m.Close(context.Background()); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})
	return &testEnv{srv: srv, m: m, ts: ts}
}

// do sends a request with an optional JSON body and decodes a JSON reply
// into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, in, out interface{}) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("json.Marshal(%v) = %v", in, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest(%s %s) = %v", method, path, err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) ensure(t *testing.T, name string) {
	t.Helper()
	if got := e.do(t, http.MethodPut, "/v1/counters/"+url.PathEscape(name), nil, nil); got != http.StatusNoContent {
		t.Fatalf("PUT %q = %d, want 204", name, got)
	}
}

func (e *testEnv) increment(t *testing.T, name string, req IncrementRequest) (int, IncrementResponse) {
	t.Helper()
	var resp IncrementResponse
	code := e.do(t, http.MethodPost, "/v1/counters/"+url.PathEscape(name)+":increment", req, &resp)
	return code, resp
}

func int64p(v int64) *int64 { return &v }

func TestEnsureAndInfo(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")
	// A second declaration is a no-op.
	e.ensure(t, "client-1")

	var got CounterInfo
	if code := e.do(t, http.MethodGet, "/v1/counters/client-1", nil, &got); code != http.StatusOK {
		t.Fatalf("GET = %d, want 200", code)
	}
	if diff := cmp.Diff(CounterInfo{Name: "client-1"}, got); diff != "" {
		t.Errorf("info diff (-want +got):\n%s", diff)
	}
}

func TestIncrement(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")

	for i, tc := range []struct {
		req      IncrementRequest
		wantCode int
		want     IncrementResponse
	}{
		{req: IncrementRequest{Window: "minute"}, wantCode: http.StatusOK, want: IncrementResponse{Admitted: true, Value: 1}},
		{req: IncrementRequest{Window: "minute"}, wantCode: http.StatusOK, want: IncrementResponse{Admitted: true, Value: 2}},
		{req: IncrementRequest{Window: "MINUTE", Limit: int64p(3)}, wantCode: http.StatusOK, want: IncrementResponse{Admitted: true, Value: 3}},
		{req: IncrementRequest{Window: "minute", Limit: int64p(3)}, wantCode: http.StatusTooManyRequests, want: IncrementResponse{}},
		{req: IncrementRequest{Window: "hour", Limit: int64p(-1), By: 5}, wantCode: http.StatusOK, want: IncrementResponse{Admitted: true, Value: 8}},
	} {
		code, got := e.increment(t, "client-1", tc.req)
		if code != tc.wantCode {
			t.Errorf("%d: increment(%+v) = %d, want %d", i, tc.req, code, tc.wantCode)
		}
		if !got.Admitted && got.Reason == "" {
			t.Errorf("%d: rejection without reason", i)
		}
		if diff := cmp.Diff(tc.want, got, cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".Reason" }, cmp.Ignore())); diff != "" {
			t.Errorf("%d: increment(%+v) diff (-want +got):\n%s", i, tc.req, diff)
		}
	}

	var v ValueResponse
	if code := e.do(t, http.MethodGet, "/v1/counters/client-1/month", nil, &v); code != http.StatusOK {
		t.Fatalf("GET value = %d, want 200", code)
	}
	if diff := cmp.Diff(ValueResponse{Name: "client-1", Window: "month", Value: 4}, v); diff != "" {
		t.Errorf("value diff (-want +got):\n%s", diff)
	}
}

func TestIncrementTimestamp(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")

	e.increment(t, "client-1", IncrementRequest{Window: "second"})
	// One minute later in the same hour: second and minute restart.
	later := now.Add(time.Minute)
	_, got := e.increment(t, "client-1", IncrementRequest{Window: "hour", TimestampMillis: later.UnixMilli()})
	if got.Value != 2 {
		t.Errorf("hour value = %d, want 2", got.Value)
	}

	var info CounterInfo
	e.do(t, http.MethodGet, "/v1/counters/client-1", nil, &info)
	want := CounterInfo{Name: "client-1", Second: 1, Minute: 1, Hour: 2, Day: 2, Month: 2, LastUpdateMillis: later.UnixMilli()}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("info diff (-want +got):\n%s", diff)
	}
}

func TestAsyncIncrement(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")

	for i := int64(1); i <= 3; i++ {
		code, got := e.increment(t, "client-1", IncrementRequest{Window: "day", Mode: "async", Limit: int64p(10)})
		if code != http.StatusOK || !got.Admitted {
			t.Fatalf("async increment %d = %d %+v", i, code, got)
		}
	}
	if err := e.m.Flush(context.Background(), "client-1"); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	var v ValueResponse
	e.do(t, http.MethodGet, "/v1/counters/client-1/day", nil, &v)
	if v.Value != 3 {
		t.Errorf("day value after flush = %d, want 3", v.Value)
	}
}

func TestDecrementAndReset(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")
	e.increment(t, "client-1", IncrementRequest{Window: "second", By: 4, Limit: int64p(10)})

	if code := e.do(t, http.MethodPost, "/v1/counters/client-1:decrement", DecrementRequest{}, nil); code != http.StatusNoContent {
		t.Fatalf("decrement = %d, want 204", code)
	}
	var info CounterInfo
	e.do(t, http.MethodGet, "/v1/counters/client-1", nil, &info)
	want := CounterInfo{Name: "client-1", Second: 3, Minute: 0, Hour: 0, Day: 0, Month: 0, LastUpdateMillis: now.UnixMilli()}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("info after decrement diff (-want +got):\n%s", diff)
	}

	resetAt := e.ts.Add(time.Hour)
	if code := e.do(t, http.MethodPost, "/v1/counters/client-1:reset", nil, nil); code != http.StatusNoContent {
		t.Fatalf("reset = %d, want 204", code)
	}
	e.do(t, http.MethodGet, "/v1/counters/client-1", nil, &info)
	want = CounterInfo{Name: "client-1", LastUpdateMillis: resetAt.UnixMilli()}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("info after reset diff (-want +got):\n%s", diff)
	}
}

func TestEscapedNames(t *testing.T) {
	e := newTestEnv(t)
	name := "tenant/a:route 1"
	e.ensure(t, name)

	code, got := e.increment(t, name, IncrementRequest{Window: "minute"})
	if code != http.StatusOK || got.Value != 1 {
		t.Fatalf("increment = %d %+v, want 200 value 1", code, got)
	}
	var info CounterInfo
	if code := e.do(t, http.MethodGet, "/v1/counters/"+url.PathEscape(name), nil, &info); code != http.StatusOK {
		t.Fatalf("GET = %d, want 200", code)
	}
	if info.Name != name || info.Minute != 1 {
		t.Errorf("info = %+v, want name %q minute 1", info, name)
	}
}

func TestErrors(t *testing.T) {
	e := newTestEnv(t)
	e.ensure(t, "client-1")

	for _, tc := range []struct {
		desc     string
		method   string
		path     string
		body     interface{}
		wantCode int
		want     codes.Code
	}{
		{desc: "unknown counter", method: http.MethodGet, path: "/v1/counters/nobody", wantCode: http.StatusNotFound, want: codes.NotFound},
		{desc: "unknown counter increment", method: http.MethodPost, path: "/v1/counters/nobody:increment", body: IncrementRequest{Window: "second"}, wantCode: http.StatusNotFound, want: codes.NotFound},
		{desc: "bad window", method: http.MethodGet, path: "/v1/counters/client-1/week", wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "bad increment window", method: http.MethodPost, path: "/v1/counters/client-1:increment", body: IncrementRequest{Window: "year"}, wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "bad mode", method: http.MethodPost, path: "/v1/counters/client-1:increment", body: IncrementRequest{Window: "second", Mode: "eventually"}, wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "negative weight", method: http.MethodPost, path: "/v1/counters/client-1:increment", body: IncrementRequest{Window: "second", By: -2}, wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "unknown field", method: http.MethodPost, path: "/v1/counters/client-1:increment", body: map[string]string{"windw": "second"}, wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "missing action", method: http.MethodPost, path: "/v1/counters/client-1", wantCode: http.StatusBadRequest, want: codes.InvalidArgument},
		{desc: "unknown action", method: http.MethodPost, path: "/v1/counters/client-1:explode", wantCode: http.StatusNotFound, want: codes.NotFound},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var got ErrorResponse
			if code := e.do(t, tc.method, tc.path, tc.body, &got); code != tc.wantCode {
				t.Errorf("%s %s = %d, want %d", tc.method, tc.path, code, tc.wantCode)
			}
			if got.Code != tc.want.String() || got.Message == "" {
				t.Errorf("error body = %+v, want code %v", got, tc.want)
			}
		})
	}
}

func TestHTTPStatusFromCode(t *testing.T) {
	for c, want := range map[codes.Code]int{
		codes.OK:                 http.StatusOK,
		codes.InvalidArgument:    http.StatusBadRequest,
		codes.NotFound:           http.StatusNotFound,
		codes.Aborted:            http.StatusConflict,
		codes.ResourceExhausted:  http.StatusTooManyRequests,
		codes.Unavailable:        http.StatusServiceUnavailable,
		codes.DeadlineExceeded:   http.StatusGatewayTimeout,
		codes.DataLoss:           http.StatusInternalServerError,
		codes.FailedPrecondition: http.StatusBadRequest,
	} {
		if got := HTTPStatusFromCode(c); got != want {
			t.Errorf("HTTPStatusFromCode(%v) = %d, want %d", c, got, want)
		}
	}
}
