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

// Package server exposes a quota.Manager over HTTP with JSON bodies.
//
// Routes, relative to the handler root:
//
//	PUT  /v1/counters/{name}             EnsureCounterExists
//	GET  /v1/counters/{name}             GetCounterInfo
//	GET  /v1/counters/{name}/{window}    GetCounterValue
//	POST /v1/counters/{name}:increment   IncrementOnlyWithinLimit
//	POST /v1/counters/{name}:decrement   Decrement
//	POST /v1/counters/{name}:reset       Reset
//
// Counter names are path escaped by clients. A rejected increment is
// answered with 429 and an IncrementResponse body.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/util/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Actions accepted by POST /v1/counters/{name}:{action}.
const (
	ActionIncrement = "increment"
	ActionDecrement = "decrement"
	ActionReset     = "reset"
)

// maxBodyBytes caps request bodies; every request type is a handful of
// small fields.
const maxBodyBytes = 64 << 10

// Server serves the counter API.
type Server struct {
	qm quota.Manager
	ts clock.TimeSource

	requests monitoring.Counter
	latency  monitoring.Histogram
}

// New returns a Server for qm. Increments without a timestamp are stamped
// with ts.Now(). A nil mf disables metrics.
func New(qm quota.Manager, ts clock.TimeSource, mf monitoring.MetricFactory) *Server {
	if ts == nil {
		ts = clock.System
	}
	if mf == nil {
		mf = monitoring.InertMetricFactory{}
	}
	return &Server{
		qm:       qm,
		ts:       ts,
		requests: mf.NewCounter("http_requests", "Number of API requests by route and status code", "route", "code"),
		latency:  mf.NewHistogramWithBuckets("http_request_latency_seconds", "Latency of API requests by route", monitoring.LatencyBuckets(), "route"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Route("/v1/counters", func(r chi.Router) {
		r.Put("/{name}", s.ensure)
		r.Get("/{name}", s.info)
		r.Post("/{name}", s.action)
		r.Get("/{name}/{window}", s.value)
	})
	return r
}

// instrument logs and counts every request once routing is done.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.ts.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.Method + " " + chi.RouteContext(r.Context()).RoutePattern()
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.requests.Inc(route, fmt.Sprint(code))
		s.latency.Observe(clock.SecondsSince(s.ts, start), route)
		klog.V(2).Infof("%s %s -> %d (%v)", r.Method, r.URL.Path, code, s.ts.Now().Sub(start))
	})
}

// nameParam returns the unescaped {name} path parameter. Routing works on
// the escaped path only when it differs from the decoded one.
func nameParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	name, err := url.PathUnescape(name)
	if err != nil {
		return "", status.Errorf(codes.InvalidArgument, "bad counter name: %v", err)
	}
	return name, nil
}

func (s *Server) ensure(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.qm.EnsureCounterExists(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ci, err := s.qm.GetCounterInfo(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCounterInfo(ci))
}

func (s *Server) value(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	window, err := quota.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	v, err := s.qm.GetCounterValue(r.Context(), name, window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Name: name, Window: window.String(), Value: v})
}

// action dispatches POST /v1/counters/{name}:{action}. The name is split at
// its last colon, so names may themselves contain colons.
func (s *Server) action(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		writeError(w, status.Errorf(codes.InvalidArgument, "missing action in %q, want {name}:{action}", name))
		return
	}
	name, act := name[:i], name[i+1:]
	switch act {
	case ActionIncrement:
		s.increment(w, r, name)
	case ActionDecrement:
		s.decrement(w, r, name)
	case ActionReset:
		if err := s.qm.Reset(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, status.Errorf(codes.NotFound, "unknown action %q", act))
	}
}

func (s *Server) increment(w http.ResponseWriter, r *http.Request, name string) {
	var req IncrementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	window, err := quota.ParseWindow(req.Window)
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	mode, err := quota.ParseMode(req.Mode)
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	ts := s.ts.Now()
	if req.TimestampMillis != 0 {
		ts = time.UnixMilli(req.TimestampMillis)
	}

	var res quota.Result
	if req.Limit == nil && req.By == 0 {
		var v int64
		v, err = s.qm.IncrementAndReturnValue(r.Context(), mode, name, ts, window)
		res = quota.Admit(v)
	} else {
		limit, by := quota.NoLimit, req.By
		if req.Limit != nil {
			limit = *req.Limit
		}
		if by == 0 {
			by = 1
		}
		res, err = s.qm.IncrementOnlyWithinLimit(r.Context(), mode, name, ts, window, limit, by)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusOK
	if !res.Admitted() {
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, IncrementResponse{Admitted: res.Admitted(), Value: res.Value, Reason: res.Reason})
}

func (s *Server) decrement(w http.ResponseWriter, r *http.Request, name string) {
	var req DecrementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, err := quota.ParseMode(req.Mode)
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	if err := s.qm.Decrement(r.Context(), mode, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return status.Errorf(codes.InvalidArgument, "bad request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Warningf("Writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	code := HTTPStatusFromCode(st.Code())
	if code >= http.StatusInternalServerError {
		klog.Errorf("Request failed: %v", err)
	}
	writeJSON(w, code, ErrorResponse{Code: st.Code().String(), Message: st.Message()})
}
