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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apigw/quotacounter/client"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/quota/counterqm"
	"github.com/apigw/quotacounter/server"
	"github.com/apigw/quotacounter/storage/memory"
	"github.com/apigw/quotacounter/util/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var now = time.Date(2024, time.March, 15, 10, 20, 30, 0, time.UTC)

func startServer(t *testing.T) string {
	t.Helper()
	ts := clock.NewFake(now)
	m := counterqm.New(memory.NewCounterStorage(), counterqm.Options{Location: time.UTC, TimeSource: ts})
	srv := httptest.NewServer(server.New(m, ts, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.Close(context.Background())
	})
	return srv.URL
}

func counterctl(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"--server", url}, args...), &out, dial)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	url := startServer(t)

	out, err := counterctl(t, url, "ensure", "client-42")
	require.NoError(t, err)
	assert.Equal(t, "counter \"client-42\" ready\n", out)

	out, err = counterctl(t, url, "incr", "client-42", "--window=minute", "--limit=2")
	require.NoError(t, err)
	assert.Equal(t, "admitted: minute=1\n", out)

	out, err = counterctl(t, url, "incr", "client-42", "--window=minute", "--limit=2", "--mode=async")
	require.NoError(t, err)
	assert.Equal(t, "admitted: minute=2\n", out)

	out, err = counterctl(t, url, "incr", "client-42", "--window=minute", "--limit=1")
	assert.True(t, errors.Is(err, errRejected), "incr over limit returned %v", err)
	assert.Contains(t, out, "rejected: ")

	// The asynchronous step may still be queued.
	require.Eventually(t, func() bool {
		out, err := counterctl(t, url, "value", "client-42", "minute")
		return err == nil && out == "2\n"
	}, 5*time.Second, 10*time.Millisecond)

	out, err = counterctl(t, url, "incr", "client-42", "--window=hour", "--by=3", "--at", now.Add(time.Minute).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, "admitted: hour=5\n", out)

	_, err = counterctl(t, url, "decr", "client-42")
	require.NoError(t, err)

	out, err = counterctl(t, url, "info", "client-42")
	require.NoError(t, err)
	var info server.CounterInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, server.CounterInfo{
		Name:             "client-42",
		Second:           0,
		Minute:           0,
		Hour:             4,
		Day:              2,
		Month:            2,
		LastUpdateMillis: now.Add(time.Minute).UnixMilli(),
	}, info)

	_, err = counterctl(t, url, "reset", "client-42")
	require.NoError(t, err)
	out, err = counterctl(t, url, "value", "client-42", "hour")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestCommandErrors(t *testing.T) {
	url := startServer(t)

	_, err := counterctl(t, url, "info", "nobody")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = counterctl(t, url, "value", "nobody", "fortnight")
	assert.Error(t, err, "kong should reject a window outside the enum")

	_, err = counterctl(t, url, "incr", "client-42", "--at", "yesterday")
	assert.ErrorContains(t, err, "bad --at")

	_, err = counterctl(t, "localhost:1", "ensure", "client-42")
	assert.Error(t, err)
}

func TestServerFlag(t *testing.T) {
	var got string
	fake := func(server string) (quota.Manager, error) {
		got = server
		return client.New(server)
	}
	var out bytes.Buffer
	_ = run(context.Background(), []string{"--server", "http://example.invalid:1", "--timeout", "10ms", "reset", "x"}, &out, fake)
	assert.Equal(t, "http://example.invalid:1", got)
}
