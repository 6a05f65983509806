// Copyright 2016 Google LLC. All Rights Reserved.
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

// Package util holds process level helpers shared by the binaries.
package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"
)

// TerminationSignals are the signals AwaitSignal listens for by default.
var TerminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// AwaitSignal waits for one of sigs, or TerminationSignals if none are
// given, then runs doneFn and returns the signal. Returns nil without
// running doneFn if ctx is canceled first.
func AwaitSignal(ctx context.Context, doneFn func(), sigs ...os.Signal) os.Signal {
	if len(sigs) == 0 {
		sigs = TerminationSignals
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		klog.Warningf("Signal received: %v", sig)
		doneFn()
		return sig
	case <-ctx.Done():
		klog.V(1).Infof("AwaitSignal canceled: %v", ctx.Err())
		return nil
	}
}
