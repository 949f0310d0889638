// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lax holds code to drive FX2/FPGA based USB logic analyzers
// (Kingst LA1016, LA2016 and compatible boards).
//
// The device is made of a FX2 USB bridge controller, an FPGA reached
// through a byte-register bus and a 128 MiB circular SDRAM holding the
// captured samples.
// Package fx2 talks to the bridge controller, package la drives the FPGA
// and package capture decodes and stores uploaded samples.
package lax // import "github.com/go-lpc/lax"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of lax and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/lax"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
