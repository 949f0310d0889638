// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lax-srv starts a TDAQ server driving a logic analyzer.
//
// The optional positional argument is the directory where captures are
// stored.
//
// Usage: lax-srv [TDAQ-OPTIONS] [OUTPUT-DIR]
//
// Example:
//
//	$> lax-srv -id lax-01 -rc tcp://daq-ctl:44000 ./captures
package main // import "github.com/go-lpc/lax/cmd/lax-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/go-lpc/lax/daq"
)

func main() {
	cmd := flags.New()

	var opts []daq.Option
	if len(cmd.Args) > 0 {
		opts = append(opts, daq.WithOutputDir(cmd.Args[0]))
	}

	dev := daq.New(cmd.Name, opts...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/capture", dev.Capture)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
