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
	"net/http"

	"github.com/apigw/quotacounter/quota"
	"google.golang.org/grpc/codes"
)

// IncrementRequest is the body of POST /v1/counters/{name}:increment.
type IncrementRequest struct {
	// Window is the window checked against Limit and reported back.
	Window string `json:"window"`
	// Limit is the highest value Window may reach. Absent or negative
	// means no limit.
	Limit *int64 `json:"limit,omitempty"`
	// By is the increment weight. Zero means 1.
	By int64 `json:"by,omitempty"`
	// Mode is "sync" (default) or "async".
	Mode string `json:"mode,omitempty"`
	// TimestampMillis is the event time. Zero means the server's clock.
	TimestampMillis int64 `json:"timestamp_millis,omitempty"`
}

// IncrementResponse reports the outcome of an increment.
type IncrementResponse struct {
	Admitted bool   `json:"admitted"`
	Value    int64  `json:"value"`
	Reason   string `json:"reason,omitempty"`
}

// DecrementRequest is the body of POST /v1/counters/{name}:decrement.
type DecrementRequest struct {
	Mode string `json:"mode,omitempty"`
}

// CounterInfo is the JSON form of quota.CounterInfo.
type CounterInfo struct {
	Name             string `json:"name"`
	Second           int64  `json:"second"`
	Minute           int64  `json:"minute"`
	Hour             int64  `json:"hour"`
	Day              int64  `json:"day"`
	Month            int64  `json:"month"`
	LastUpdateMillis int64  `json:"last_update_millis"`
}

// NewCounterInfo converts ci.
func NewCounterInfo(ci *quota.CounterInfo) CounterInfo {
	return CounterInfo{
		Name:             ci.Name,
		Second:           ci.Second,
		Minute:           ci.Minute,
		Hour:             ci.Hour,
		Day:              ci.Day,
		Month:            ci.Month,
		LastUpdateMillis: ci.LastUpdate.UnixMilli(),
	}
}

// ValueResponse is returned by GET /v1/counters/{name}/{window}.
type ValueResponse struct {
	Name   string `json:"name"`
	Window string `json:"window"`
	Value  int64  `json:"value"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	// Code is the name of the gRPC code classifying the failure.
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPStatusFromCode maps a gRPC code to the HTTP status returned for it.
func HTTPStatusFromCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
