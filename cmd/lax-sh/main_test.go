// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/capdb"
	"github.com/go-lpc/lax/fx2"
	"github.com/go-lpc/lax/internal/fakeusb"
	"github.com/go-lpc/lax/la"
)

func newTestShell() (*shell, *fakeusb.Device, *bytes.Buffer) {
	var (
		usb = fakeusb.New()
		msg = log.New(io.Discard, "", 0)
		out = new(bytes.Buffer)
		dev = la.New(
			fx2.New(usb, fx2.WithLogger(msg)),
			la.WithLogger(msg),
			la.WithSettleTime(0),
			la.WithAuthDelay(0),
		)
	)
	return newShell(out, dev), usb, out
}

type fakeStore struct {
	caps []capdb.Capture
}

func (db *fakeStore) LastCapture(ctx context.Context) (capdb.Capture, error) {
	if len(db.caps) == 0 {
		return capdb.Capture{}, capdb.ErrNoCapture
	}
	return db.caps[len(db.caps)-1], nil
}

func (db *fakeStore) Close() error { return nil }

func TestShell(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(usb *fakeusb.Device)
		cmds  []string
		want  string
		check func(t *testing.T, usb *fakeusb.Device)
	}{
		{
			name: "state",
			cmds: []string{"state", "trig"},
			want: "state: idle (0x85e9)\ntriggered: false\n",
		},
		{
			name: "start-stop",
			cmds: []string{"start", "state", "stop", "state"},
			want: "state: pre-sampling (0x85e2)\nstate: idle (0x85e9)\n",
		},
		{
			name: "registers",
			cmds: []string{"wr 0x40 1 2 0x03", "rd 0x40 3", "rd 64 1"},
			want: "0x40: 01 02 03\n0x40: 01\n",
		},
		{
			name: "info",
			setup: func(usb *fakeusb.Device) {
				usb.Info = [3]uint32{10, 4, 0x20}
			},
			cmds: []string{"info"},
			want: "n-rep=10 n-rep-before-trigger=4 write-pos=0x00000020 bytes=32\n",
		},
		{
			name: "threshold-registers",
			cmds: []string{"thresh 1.65", "rd 0x68 4"},
			want: "0x68: 6b 02 f2 00\n",
		},
		{
			name: "version",
			cmds: []string{"version"},
			want: "lax (devel)\n",
		},
		{
			name: "threshold",
			cmds: []string{"thresh 3.3"},
			check: func(t *testing.T, usb *fakeusb.Device) {
				low, sel, err := la.ThresholdDuties(3.3)
				if err != nil {
					t.Fatalf("could not compute threshold duties: %+v", err)
				}
				want := []byte{byte(low), byte(low >> 8), byte(sel), byte(sel >> 8)}
				if got := usb.Regs[la.RegThreshold : la.RegThreshold+4]; !bytes.Equal(got, want) {
					t.Fatalf("invalid threshold registers: got=%x, want=%x", got, want)
				}
			},
		},
		{
			name: "pwm",
			cmds: []string{"pwm 1 1000 50", "pwm-en on off"},
			want: "PWM1: freq=1000 Hz, duty=50%\n",
			check: func(t *testing.T, usb *fakeusb.Device) {
				if got, want := usb.Regs[la.RegPWMEnable], byte(1); got != want {
					t.Fatalf("invalid PWM enable bits: got=%d, want=%d", got, want)
				}
			},
		},
		{
			name: "eeprom",
			setup: func(usb *fakeusb.Device) {
				copy(usb.EEPROM[0x08:], []byte{0xde, 0xad, 0xbe, 0xef})
			},
			cmds: []string{"ee 0x08 4"},
			want: hex.Dump([]byte{0xde, 0xad, 0xbe, 0xef}),
		},
		{
			name: "auth",
			setup: func(usb *fakeusb.Device) {
				usb.AuthResp = []byte{
					0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
					0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
				}
			},
			cmds: []string{"auth-serial"},
			want: hex.Dump([]byte{
				0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
				0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
			}),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sh, usb, out := newTestShell()
			if tc.setup != nil {
				tc.setup(usb)
			}

			for _, cmd := range tc.cmds {
				err := sh.exec(cmd)
				if err != nil {
					t.Fatalf("could not run %q: %+v", cmd, err)
				}
			}

			if got, want := out.String(), tc.want; got != want {
				t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s\n", got, want)
			}

			if tc.check != nil {
				tc.check(t, usb)
			}
		})
	}
}

func TestShellLast(t *testing.T) {
	sh, _, out := newTestShell()
	sh.db = &fakeStore{
		caps: []capdb.Capture{
			{ID: 1, File: "captures/a.bin"},
			{
				ID:         2,
				File:       "captures/2021-03-04T15-16-17.bin",
				Model:      "LA2016",
				Rate:       1e5,
				Samples:    500000,
				PreTrigger: 40,
				NumRep:     12,
				NumRepTrig: 4,
				WritePos:   0x1234,
				Bytes:      32,
				Time:       time.Date(2021, 3, 4, 15, 16, 17, 0, time.UTC),
			},
		},
	}

	err := sh.exec("last")
	if err != nil {
		t.Fatalf("could not run last: %+v", err)
	}

	want := `capture 2: file="captures/2021-03-04T15-16-17.bin" model=LA2016 rate=100000 Hz samples=500000 pre-trigger=40%
  n-rep=12 n-rep-before-trigger=4 write-pos=0x00001234 bytes=32 time=2021-03-04T15:16:17Z
`
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s\n", got, want)
	}

	sh.db = new(fakeStore)
	err = sh.exec("last")
	if !errors.Is(err, capdb.ErrNoCapture) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestShellErrors(t *testing.T) {
	sh, usb, _ := newTestShell()

	for _, tc := range []struct {
		cmd  string
		err  string
		kind error
	}{
		{
			cmd: "foo",
			err: `unknown command "foo" (see help)`,
		},
		{
			cmd: "rd 0x40",
			err: "missing arguments (usage: rd ADDR N)",
		},
		{
			cmd:  "rd zz 1",
			err:  `invalid integer "zz": invalid parameter`,
			kind: lax.ErrInvalidParameter,
		},
		{
			cmd:  "wr 0x40 256",
			err:  `invalid byte "256": invalid parameter`,
			kind: lax.ErrInvalidParameter,
		},
		{
			cmd:  "thresh high",
			err:  `invalid number "high": invalid parameter`,
			kind: lax.ErrInvalidParameter,
		},
		{
			cmd:  "pwm-en maybe on",
			err:  `invalid PWM1 switch "maybe": invalid parameter`,
			kind: lax.ErrInvalidParameter,
		},
		{
			cmd:  "rd 0x7f 2",
			err:  "la: invalid register block [0x7f, 0x81) (want [0x00, 0x80)): parameter out of range",
			kind: lax.ErrOutOfRange,
		},
		{
			cmd:  "last",
			err:  "no capture db (see -db): device unavailable",
			kind: lax.ErrUnavailable,
		},
		{
			cmd:  "quit",
			err:  "lax-sh: quit",
			kind: errQuit,
		},
		{
			cmd:  "exit",
			err:  "lax-sh: quit",
			kind: errQuit,
		},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			err := sh.exec(tc.cmd)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
			if tc.kind != nil && !errors.Is(err, tc.kind) {
				t.Fatalf("invalid error kind: %+v", err)
			}
		})
	}

	if got := usb.Transfers(); len(got) != 0 {
		t.Fatalf("rejected commands issued transfers: %v", got)
	}

	err := sh.exec("   ")
	if err != nil {
		t.Fatalf("empty command should be a no-op: %+v", err)
	}
}

func TestShellHelp(t *testing.T) {
	sh, _, out := newTestShell()

	err := sh.exec("help")
	if err != nil {
		t.Fatalf("could not run help: %+v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got, want := len(lines), len(sh.cmds)-1; got != want {
		t.Fatalf("invalid number of help lines: got=%d, want=%d", got, want)
	}
	if !strings.Contains(out.String(), "  rd ADDR N ") {
		t.Fatalf("missing rd command help:\n%s", out.String())
	}
	if strings.Contains(out.String(), "exit") {
		t.Fatalf("exit alias should not be listed:\n%s", out.String())
	}
}

func TestShellComplete(t *testing.T) {
	sh, _, _ := newTestShell()

	for _, tc := range []struct {
		line string
		want []string
	}{
		{"auth", []string{"auth-challenge", "auth-serial"}},
		{"pw", []string{"pwm", "pwm-en"}},
		{"st", []string{"start", "state", "stop"}},
		{"x", nil},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got := sh.complete(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid completion: got=%q, want=%q", got, tc.want)
			}
		})
	}
}
