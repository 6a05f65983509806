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

// Package client is a quota.Manager talking to a quotacounterd server over
// its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apigw/quotacounter/client/backoff"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/server"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxResponseBytes caps the responses read from the server.
const maxResponseBytes = 1 << 20

var codesByName = func() map[string]codes.Code {
	m := make(map[string]codes.Code)
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		m[c.String()] = c
	}
	return m
}()

// Client implements quota.Manager by calling a remote server. Calls
// failing with codes.Unavailable or codes.Aborted are retried with backoff.
type Client struct {
	base string
	hc   *http.Client
	bo   backoff.Backoff
	loc  *time.Location
}

var _ quota.Manager = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithBackoff sets the retry policy. A zero MaxAttempts retries until the
// call's context is done.
func WithBackoff(b backoff.Backoff) Option {
	return func(c *Client) { c.bo = b }
}

// WithLocation sets the location of the times returned by GetCounterInfo.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// New returns a Client for the server at baseURL, e.g.
// "http://localhost:8091".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("bad server URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: strings.TrimSuffix(u.String(), "/"),
		hc:   http.DefaultClient,
		bo:   *backoff.Default(),
		loc:  time.Local,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func counterPath(name string, suffix string) (string, error) {
	if name == "" {
		return "", status.Error(codes.InvalidArgument, "counter name is required")
	}
	return "/v1/counters/" + url.PathEscape(name) + suffix, nil
}

// EnsureCounterExists implements quota.Manager.EnsureCounterExists.
func (c *Client) EnsureCounterExists(ctx context.Context, name string) error {
	p, err := counterPath(name, "")
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPut, p, nil, nil)
}

// IncrementAndReturnValue implements quota.Manager.IncrementAndReturnValue.
func (c *Client) IncrementAndReturnValue(ctx context.Context, mode quota.Mode, name string, ts time.Time, window quota.Window) (int64, error) {
	res, err := c.increment(ctx, name, server.IncrementRequest{
		Window:          window.String(),
		Mode:            mode.String(),
		TimestampMillis: millis(ts),
	})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// IncrementOnlyWithinLimit implements quota.Manager.IncrementOnlyWithinLimit.
func (c *Client) IncrementOnlyWithinLimit(ctx context.Context, mode quota.Mode, name string, ts time.Time, window quota.Window, limit, incrementBy int64) (quota.Result, error) {
	if incrementBy < 1 {
		return quota.Result{}, status.Errorf(codes.InvalidArgument, "increment must be >= 1, got %d", incrementBy)
	}
	return c.increment(ctx, name, server.IncrementRequest{
		Window:          window.String(),
		Limit:           &limit,
		By:              incrementBy,
		Mode:            mode.String(),
		TimestampMillis: millis(ts),
	})
}

func (c *Client) increment(ctx context.Context, name string, req server.IncrementRequest) (quota.Result, error) {
	p, err := counterPath(name, ":"+server.ActionIncrement)
	if err != nil {
		return quota.Result{}, err
	}
	var resp server.IncrementResponse
	if err := c.call(ctx, http.MethodPost, p, req, &resp); err != nil {
		return quota.Result{}, err
	}
	if !resp.Admitted {
		return quota.Reject("%s", resp.Reason), nil
	}
	return quota.Admit(resp.Value), nil
}

// GetCounterValue implements quota.Manager.GetCounterValue.
func (c *Client) GetCounterValue(ctx context.Context, name string, window quota.Window) (int64, error) {
	if !window.Valid() {
		return 0, status.Errorf(codes.InvalidArgument, "invalid window %v", window)
	}
	p, err := counterPath(name, "/"+window.String())
	if err != nil {
		return 0, err
	}
	var resp server.ValueResponse
	if err := c.call(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// GetCounterInfo implements quota.Manager.GetCounterInfo.
func (c *Client) GetCounterInfo(ctx context.Context, name string) (*quota.CounterInfo, error) {
	p, err := counterPath(name, "")
	if err != nil {
		return nil, err
	}
	var resp server.CounterInfo
	if err := c.call(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &quota.CounterInfo{
		Name:       resp.Name,
		Second:     resp.Second,
		Minute:     resp.Minute,
		Hour:       resp.Hour,
		Day:        resp.Day,
		Month:      resp.Month,
		LastUpdate: time.UnixMilli(resp.LastUpdateMillis).In(c.loc),
	}, nil
}

// Decrement implements quota.Manager.Decrement.
func (c *Client) Decrement(ctx context.Context, mode quota.Mode, name string) error {
	p, err := counterPath(name, ":"+server.ActionDecrement)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, p, server.DecrementRequest{Mode: mode.String()}, nil)
}

// Reset implements quota.Manager.Reset.
func (c *Client) Reset(ctx context.Context, name string) error {
	p, err := counterPath(name, ":"+server.ActionReset)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, p, nil, nil)
}

func millis(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}

// call sends in as JSON and decodes the reply into out, retrying transient
// failures.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	bo := c.bo
	return bo.Retry(ctx, func() error {
		return c.roundTrip(ctx, method, path, body, out)
	}, nil)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status.FromContextError(ctxErr).Err()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		var e server.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			code, ok := codesByName[e.Code]
			if !ok {
				code = codes.Unknown
			}
			return status.Error(code, e.Message)
		}
		// A rejected increment is answered with 429 and a regular body.
		if resp.StatusCode != http.StatusTooManyRequests {
			return status.Errorf(codeFromHTTP(resp.StatusCode), "%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
		}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.Internal, "%s %s: decoding response: %v", method, path, err)
	}
	return nil
}

func codeFromHTTP(code int) codes.Code {
	switch code {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	}
	return codes.Unknown
}
