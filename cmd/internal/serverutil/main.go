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

// Package serverutil holds code for running quota counter servers.
package serverutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/apigw/quotacounter/util"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

const (
	// DefaultHealthyDeadline bounds a single /healthz probe.
	DefaultHealthyDeadline = 5 * time.Second

	// DefaultShutdownTimeout bounds the graceful shutdown of the HTTP server
	// and of everything registered in Main.Shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// Main encapsulates the data and logic to start a quota counter server.
type Main struct {
	// HTTPEndpoint is the address the API, /metrics and /healthz are
	// served on.
	HTTPEndpoint string

	// TLS Certificate and Key files for the server.
	TLSCertFile, TLSKeyFile string

	// Handler serves every path not handled by Main itself.
	Handler http.Handler

	// IsHealthy will be called whenever "/healthz" is called on the mux.
	// A nil return value from this function will result in a 200-OK response
	// on the /healthz endpoint.
	IsHealthy func(context.Context) error
	// HealthyDeadline is the maximum duration to wait for a successful
	// IsHealthy() call.
	HealthyDeadline time.Duration

	// Shutdown is called once the HTTP server has stopped accepting
	// requests, e.g. to drain queues and close the database.
	Shutdown        func(context.Context) error
	ShutdownTimeout time.Duration

	// Listening, if set, receives the bound address once the listener is
	// open.
	Listening func(net.Addr)
}

func (m *Main) healthz(rw http.ResponseWriter, req *http.Request) {
	if m.IsHealthy != nil {
		ctx, cancel := context.WithTimeout(req.Context(), m.HealthyDeadline)
		defer cancel()
		if err := m.IsHealthy(ctx); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte(err.Error()))
			return
		}
	}
	rw.Write([]byte("ok"))
}

// router returns the mux served by Run. It never falls back to
// http.DefaultServeMux.
func (m *Main) router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", m.healthz)
	if m.Handler != nil {
		r.Mount("/", m.Handler)
	}
	return r
}

// Run starts the configured server. Blocks until ctx is done or a
// termination signal arrives, then shuts down gracefully.
func (m *Main) Run(ctx context.Context) error {
	if m.HealthyDeadline == 0 {
		m.HealthyDeadline = DefaultHealthyDeadline
	}
	if m.ShutdownTimeout == 0 {
		m.ShutdownTimeout = DefaultShutdownTimeout
	}

	lis, err := net.Listen("tcp", m.HTTPEndpoint)
	if err != nil {
		return err
	}
	if m.Listening != nil {
		m.Listening(lis.Addr())
	}

	srv := &http.Server{
		Handler:           m.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go util.AwaitSignal(ctx, cancel)

	errCh := make(chan error, 1)
	go func() {
		klog.Infof("HTTP server starting on %v", lis.Addr())
		// Let ServeTLS handle the error case when only one of the flags is set.
		if m.TLSCertFile != "" || m.TLSKeyFile != "" {
			errCh <- srv.ServeTLS(lis, m.TLSCertFile, m.TLSKeyFile)
		} else {
			errCh <- srv.Serve(lis)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if serveErr != nil {
			klog.Errorf("HTTP server stopped: %v", serveErr)
		}
	}

	klog.Infof("Stopping server")
	sctx, scancel := context.WithTimeout(context.Background(), m.ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		klog.Warningf("HTTP server shutdown: %v", err)
	}
	if m.Shutdown != nil {
		if err := m.Shutdown(sctx); err != nil {
			klog.Errorf("Shutdown: %v", err)
			if serveErr == nil {
				serveErr = err
			}
		}
	}
	klog.Flush()
	return serveErr
}
