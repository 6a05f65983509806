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

// Package flagsaver saves and restores flag values around tests which
// change them.
//
// Example:
//
//	func TestFoo(t *testing.T) {
//	  flagsaver.ForTest(t)
//	  // Test code that changes flags
//	} // flags are reset to their original values here.
package flagsaver

import (
	"flag"
	"strings"
	"testing"

	"k8s.io/klog/v2"
)

// Stash holds flag values so that they can be restored at the end of a test.
type Stash struct {
	fs    *flag.FlagSet
	flags map[string]string
}

// Restore sets all saved flags back to the values they had when the Stash
// was created.
func (s *Stash) Restore() error {
	for name, value := range s.flags {
		if err := s.fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// MustRestore calls Restore and exits on failure. If Restore fails the flags
// may be in an arbitrary state that could cause later tests to misbehave.
func (s *Stash) MustRestore() {
	if err := s.Restore(); err != nil {
		klog.Fatalf("MustRestore(): failed to restore flags: %v", err)
	}
}

// Save captures the current value of every flag of flag.CommandLine.
func Save() *Stash {
	return SaveFlagSet(flag.CommandLine)
}

// SaveFlagSet captures the current value of every flag of fs.
//
// The go test flags are skipped, as is log_backtrace_at which may be empty
// but cannot be set to an empty value.
func SaveFlagSet(fs *flag.FlagSet) *Stash {
	s := &Stash{fs: fs, flags: make(map[string]string)}
	fs.VisitAll(func(f *flag.Flag) {
		if !strings.HasPrefix(f.Name, "test.") && f.Name != "log_backtrace_at" {
			s.flags[f.Name] = f.Value.String()
		}
	})
	return s
}

// ForTest saves flag.CommandLine and restores it when t finishes.
func ForTest(t testing.TB) {
	t.Helper()
	s := Save()
	t.Cleanup(func() {
		if err := s.Restore(); err != nil {
			t.Errorf("flagsaver: restoring flags: %v", err)
		}
	})
}
