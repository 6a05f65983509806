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
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/apigw/quotacounter/monitoring"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/quota/counterqm"
	"github.com/apigw/quotacounter/util/clock"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// engineConfig holds the tunables which may come from the YAML file given
// by --config. Flags set explicitly on the command line win over the file.
type engineConfig struct {
	StorageSystem       string        `yaml:"storage_system"`
	QueueCapacity       int           `yaml:"queue_capacity"`
	BatchLimit          int           `yaml:"batch_limit"`
	MaxConcurrentDrains int64         `yaml:"max_concurrent_drains"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	// Location is an IANA time zone name defining calendar boundaries.
	Location string `yaml:"location"`
	// Counters are declared at startup.
	Counters []string `yaml:"counters"`
}

// registerEngineFlags binds the flag form of every engineConfig field on
// fs and returns the struct the flags write to.
func registerEngineFlags(fs *flag.FlagSet, defaultStorage string) *engineConfig {
	c := &engineConfig{}
	fs.StringVar(&c.StorageSystem, "storage_system", defaultStorage, "Storage system to use, one of the registered storage providers")
	fs.IntVar(&c.QueueCapacity, "queue_capacity", counterqm.DefaultQueueCapacity, "Asynchronous steps queued per counter before callers block")
	fs.IntVar(&c.BatchLimit, "batch_limit", counterqm.DefaultBatchLimit, "Maximum queued steps applied by one drain transaction")
	fs.Int64Var(&c.MaxConcurrentDrains, "max_concurrent_drains", counterqm.DefaultMaxConcurrentDrains, "Maximum drain transactions running at once")
	fs.DurationVar(&c.DrainTimeout, "drain_timeout", counterqm.DefaultDrainTimeout, "Deadline of a drain transaction")
	fs.StringVar(&c.Location, "location", "Local", "Time zone defining calendar windows, e.g. UTC or Europe/Berlin")
	return c
}

// loadEngineConfig merges the YAML file at path into c. Fields whose flag
// was set explicitly in fs are left alone.
func loadEngineConfig(path string, fs *flag.FlagSet, c *engineConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file engineConfig
	if err := yaml.UnmarshalStrict(b, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["storage_system"] && file.StorageSystem != "" {
		c.StorageSystem = file.StorageSystem
	}
	if !set["queue_capacity"] && file.QueueCapacity != 0 {
		c.QueueCapacity = file.QueueCapacity
	}
	if !set["batch_limit"] && file.BatchLimit != 0 {
		c.BatchLimit = file.BatchLimit
	}
	if !set["max_concurrent_drains"] && file.MaxConcurrentDrains != 0 {
		c.MaxConcurrentDrains = file.MaxConcurrentDrains
	}
	if !set["drain_timeout"] && file.DrainTimeout != 0 {
		c.DrainTimeout = file.DrainTimeout
	}
	if !set["location"] && file.Location != "" {
		c.Location = file.Location
	}
	c.Counters = append(c.Counters, file.Counters...)
	return nil
}

func (c *engineConfig) validate() error {
	switch {
	case c.StorageSystem == "":
		return errors.New("storage system is required")
	case c.QueueCapacity < 1:
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	case c.BatchLimit < 1:
		return fmt.Errorf("batch_limit must be positive, got %d", c.BatchLimit)
	case c.MaxConcurrentDrains < 1:
		return fmt.Errorf("max_concurrent_drains must be positive, got %d", c.MaxConcurrentDrains)
	case c.DrainTimeout <= 0:
		return fmt.Errorf("drain_timeout must be positive, got %v", c.DrainTimeout)
	}
	return nil
}

// options converts c into engine options.
func (c *engineConfig) options(ts clock.TimeSource, mf monitoring.MetricFactory) (counterqm.Options, error) {
	if err := c.validate(); err != nil {
		return counterqm.Options{}, err
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return counterqm.Options{}, fmt.Errorf("bad location: %w", err)
	}
	return counterqm.Options{
		QueueCapacity:       c.QueueCapacity,
		BatchLimit:          c.BatchLimit,
		MaxConcurrentDrains: c.MaxConcurrentDrains,
		DrainTimeout:        c.DrainTimeout,
		Location:            loc,
		TimeSource:          ts,
		MetricFactory:       mf,
	}, nil
}

// declareCounters creates the configured counters.
func declareCounters(ctx context.Context, qm quota.Manager, names []string) error {
	for _, n := range names {
		if err := qm.EnsureCounterExists(ctx, n); err != nil {
			return fmt.Errorf("declaring counter %q: %w", n, err)
		}
	}
	if len(names) > 0 {
		klog.Infof("Declared %d counters", len(names))
	}
	return nil
}
