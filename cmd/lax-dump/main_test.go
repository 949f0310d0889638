// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/lax/capture"
)

func TestProcess(t *testing.T) {
	tmp := t.TempDir()

	fname := filepath.Join(tmp, "capture.bin")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create capture file: %+v", err)
	}
	defer f.Close()

	enc := capture.NewEncoder(f)
	for _, pkt := range []capture.Packet{
		{
			Records: [capture.RecordsPerPacket]capture.Record{
				{State: 0x00ff, Reps: 12},
				{State: 0x00fe, Reps: 3},
				{State: 0x00ff, Reps: 255},
				{State: 0x00ff, Reps: 255},
				{State: 0x00fd, Reps: 1},
			},
			Seq: 0,
		},
		{
			Records: [capture.RecordsPerPacket]capture.Record{
				{State: 0x0001, Reps: 1},
				{State: 0x0001, Reps: 1},
				{State: 0x0001, Reps: 1},
				{State: 0x0001, Reps: 1},
				{State: 0x8000, Reps: 1},
			},
			Seq: 1,
		},
	} {
		err = enc.Encode(&pkt)
		if err != nil {
			t.Fatalf("could not encode packet: %+v", err)
		}
	}

	err = f.Close()
	if err != nil {
		t.Fatalf("could not close capture file: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		npkts int
		want  []string
	}{
		{
			name:  "all",
			npkts: -1,
			want: []string{
				"=== " + fname + " ===",
				"Bytes:           32",
				"Packets:          2",
				"  seq=0x00 0x00ff x  12 | 0x00fe x   3 | 0x00ff x 255 | 0x00ff x 255 | 0x00fd x   1",
				"  seq=0x01 0x0001 x   1 | 0x0001 x   1 | 0x0001 x   1 | 0x0001 x   1 | 0x8000 x   1",
				"Samples:        531",
			},
		},
		{
			name:  "first",
			npkts: 1,
			want: []string{
				"=== " + fname + " ===",
				"Bytes:           32",
				"Packets:          2",
				"  seq=0x00 0x00ff x  12 | 0x00fe x   3 | 0x00ff x 255 | 0x00ff x 255 | 0x00fd x   1",
				"Samples:        526",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			err := process(out, fname, tc.npkts)
			if err != nil {
				t.Fatalf("could not process capture file: %+v", err)
			}

			want := strings.Join(tc.want, "\n") + "\n"
			if got := out.String(); got != want {
				t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s\n", got, want)
			}
		})
	}
}

func TestProcessErrors(t *testing.T) {
	tmp := t.TempDir()

	err := process(io.Discard, filepath.Join(tmp, "not-there.bin"), -1)
	if err == nil {
		t.Fatalf("expected an error")
	}

	fname := filepath.Join(tmp, "truncated.bin")
	err = os.WriteFile(fname, make([]byte, capture.PacketSize+1), 0644)
	if err != nil {
		t.Fatalf("could not create capture file: %+v", err)
	}

	err = process(io.Discard, fname, -1)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.HasPrefix(err.Error(), "could not decode packet: ") {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestXMain(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "capture.bin")
	err := os.WriteFile(fname, make([]byte, 2*capture.PacketSize), 0644)
	if err != nil {
		t.Fatalf("could not create capture file: %+v", err)
	}

	out := new(bytes.Buffer)
	xmain(out, []string{"-n", "1", fname})

	if !strings.Contains(out.String(), "Samples:          0\n") {
		t.Fatalf("invalid output:\n%s", out.String())
	}
}
