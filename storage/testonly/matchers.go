// Copyright 2016 Google Inc. All Rights Reserved.
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

package testonly

import (
	"fmt"

	"github.com/apigw/quotacounter/quota"
	"github.com/golang/mock/gomock"
)

type counterEq struct {
	want quota.Counter
}

// Matches implements the gomock.Matcher API.
func (m counterEq) Matches(x interface{}) bool {
	switch c := x.(type) {
	case *quota.Counter:
		return c != nil && *c == m.want
	case quota.Counter:
		return c == m.want
	}
	return false
}

func (m counterEq) String() string {
	return fmt.Sprintf("is counter %+v", m.want)
}

// CounterEq returns a matcher that expects a counter (or pointer to one)
// with exactly the given fields.
func CounterEq(c quota.Counter) gomock.Matcher {
	return counterEq{c}
}
