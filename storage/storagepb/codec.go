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

// Package storagepb holds the serialized form of counters in key-value
// backends: the protocol buffer message Counter of counter.proto.
package storagepb

import (
	"fmt"

	"github.com/apigw/quotacounter/quota"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Counter message.
const (
	fieldSecond protowire.Number = iota + 1
	fieldMinute
	fieldHour
	fieldDay
	fieldMonth
	fieldLastUpdate
)

// MarshalCounter encodes c as a Counter message. Zero fields are omitted,
// as proto3 does.
func MarshalCounter(c *quota.Counter) []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		v   int64
	}{
		{fieldSecond, c.Second},
		{fieldMinute, c.Minute},
		{fieldHour, c.Hour},
		{fieldDay, c.Day},
		{fieldMonth, c.Month},
		{fieldLastUpdate, c.LastUpdate},
	} {
		if f.v == 0 {
			continue
		}
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.v))
	}
	return b
}

// UnmarshalCounter decodes a Counter message. Unknown fields are skipped.
func UnmarshalCounter(b []byte) (*quota.Counter, error) {
	c := &quota.Counter{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("storagepb: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType || num < fieldSecond || num > fieldLastUpdate {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("storagepb: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("storagepb: bad field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSecond:
			c.Second = int64(v)
		case fieldMinute:
			c.Minute = int64(v)
		case fieldHour:
			c.Hour = int64(v)
		case fieldDay:
			c.Day = int64(v)
		case fieldMonth:
			c.Month = int64(v)
		case fieldLastUpdate:
			c.LastUpdate = int64(v)
		}
	}
	return c, nil
}
