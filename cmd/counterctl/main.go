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

// The counterctl binary inspects and updates counters of a quotacounterd
// server.
//
// Usage:
//
//	counterctl ensure client-42
//	counterctl incr client-42 --window=minute --limit=100
//	counterctl info client-42
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/apigw/quotacounter/client"
	"github.com/apigw/quotacounter/quota"
	"github.com/apigw/quotacounter/server"
)

// errRejected makes the process exit with status 2 when an increment is
// rejected, so scripts can tell it apart from failures.
var errRejected = errors.New("increment rejected")

// CLI defines the command-line interface.
type CLI struct {
	Server  string        `help:"Base URL of the quotacounterd server." default:"http://localhost:8091" env:"COUNTERCTL_SERVER"`
	Timeout time.Duration `help:"Deadline of the whole command." default:"10s"`

	Ensure EnsureCmd `cmd:"" help:"Declare a counter, creating it if needed."`
	Info   InfoCmd   `cmd:"" help:"Print all windows of a counter as JSON."`
	Value  ValueCmd  `cmd:"" help:"Print the persisted value of one window."`
	Incr   IncrCmd   `cmd:"" help:"Increment a counter, optionally within a limit."`
	Decr   DecrCmd   `cmd:"" help:"Subtract one from every window of a counter."`
	Reset  ResetCmd  `cmd:"" help:"Zero every window of a counter."`
}

// env is bound into every command's Run method.
type env struct {
	ctx context.Context
	qm  quota.Manager
	out io.Writer
}

// EnsureCmd declares a counter.
type EnsureCmd struct {
	Name string `arg:"" help:"Counter name."`
}

func (c *EnsureCmd) Run(e *env) error {
	if err := e.qm.EnsureCounterExists(e.ctx, c.Name); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "counter %q ready\n", c.Name)
	return nil
}

// InfoCmd prints a counter.
type InfoCmd struct {
	Name string `arg:"" help:"Counter name."`
}

func (c *InfoCmd) Run(e *env) error {
	ci, err := e.qm.GetCounterInfo(e.ctx, c.Name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(server.NewCounterInfo(ci))
}

// ValueCmd prints one window.
type ValueCmd struct {
	Name   string `arg:"" help:"Counter name."`
	Window string `arg:"" enum:"second,minute,hour,day,month" help:"Window to read (${enum})."`
}

func (c *ValueCmd) Run(e *env) error {
	w, err := quota.ParseWindow(c.Window)
	if err != nil {
		return err
	}
	v, err := e.qm.GetCounterValue(e.ctx, c.Name, w)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, v)
	return nil
}

// IncrCmd increments a counter.
type IncrCmd struct {
	Name   string `arg:"" help:"Counter name."`
	Window string `default:"second" enum:"second,minute,hour,day,month" help:"Window checked against the limit and printed (${enum})."`
	Limit  int64  `default:"-1" help:"Highest value the window may reach; negative means no limit."`
	By     int64  `default:"1" help:"Increment weight."`
	Mode   string `default:"sync" enum:"sync,async" help:"Concurrency regime (${enum})."`
	At     string `help:"Event time in RFC 3339 format; defaults to the server's clock." placeholder:"TIME"`
}

func (c *IncrCmd) Run(e *env) error {
	w, err := quota.ParseWindow(c.Window)
	if err != nil {
		return err
	}
	mode, err := quota.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	var ts time.Time
	if c.At != "" {
		if ts, err = time.Parse(time.RFC3339Nano, c.At); err != nil {
			return fmt.Errorf("bad --at: %w", err)
		}
	}
	res, err := e.qm.IncrementOnlyWithinLimit(e.ctx, mode, c.Name, ts, w, c.Limit, c.By)
	if err != nil {
		return err
	}
	if !res.Admitted() {
		fmt.Fprintf(e.out, "rejected: %s\n", res.Reason)
		return errRejected
	}
	fmt.Fprintf(e.out, "admitted: %s=%d\n", w, res.Value)
	return nil
}

// DecrCmd decrements a counter.
type DecrCmd struct {
	Name string `arg:"" help:"Counter name."`
	Mode string `default:"sync" enum:"sync,async" help:"Concurrency regime (${enum})."`
}

func (c *DecrCmd) Run(e *env) error {
	mode, err := quota.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	return e.qm.Decrement(e.ctx, mode, c.Name)
}

// ResetCmd resets a counter.
type ResetCmd struct {
	Name string `arg:"" help:"Counter name."`
}

func (c *ResetCmd) Run(e *env) error {
	return e.qm.Reset(e.ctx, c.Name)
}

// dialFunc returns the manager commands run against.
type dialFunc func(server string) (quota.Manager, error)

func dial(server string) (quota.Manager, error) {
	return client.New(server)
}

// run parses args and runs the selected command.
func run(ctx context.Context, args []string, out io.Writer, d dialFunc) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("counterctl"),
		kong.Description("Inspect and update quota counters."),
		kong.UsageOnError(),
		kong.Writers(out, out),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	qm, err := d(cli.Server)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()
	return kctx.Run(&env{ctx: ctx, qm: qm, out: out})
}

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout, dial)
	switch {
	case err == nil:
	case errors.Is(err, errRejected):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "counterctl: %v\n", err)
		os.Exit(1)
	}
}
