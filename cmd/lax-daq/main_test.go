// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/capdb"
	"github.com/go-lpc/lax/capture"
	"github.com/go-lpc/lax/fx2"
	"github.com/go-lpc/lax/internal/fakeusb"
	"github.com/go-lpc/lax/la"
)

type fakeDB struct {
	caps   []capdb.Capture
	closed bool
	err    error
}

func (db *fakeDB) InsertCapture(ctx context.Context, c capdb.Capture) (int64, error) {
	if db.err != nil {
		return 0, db.err
	}
	db.caps = append(db.caps, c)
	return int64(len(db.caps)), nil
}

func (db *fakeDB) Close() error {
	db.closed = true
	return nil
}

func TestStateDecoder(t *testing.T) {
	for _, name := range []string{"sentinel", "nibble"} {
		dec, err := stateDecoder(name)
		if err != nil {
			t.Fatalf("could not create %q decoder: %+v", name, err)
		}
		if dec == nil {
			t.Fatalf("nil %q decoder", name)
		}
	}

	_, err := stateDecoder("binary")
	if !errors.Is(err, lax.ErrInvalidParameter) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := err.Error(), `unknown decoder "binary": invalid parameter`; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestRun(t *testing.T) {
	defer func(
		device func(...la.Option) (*la.Device, error),
		db func(string) (captureLogger, error),
	) {
		openDevice = device
		openDB = db
	}(openDevice, openDB)

	for _, tc := range []struct {
		name    string
		setup   func(usb *fakeusb.Device, cfg *config)
		signal  bool
		nrep    uint32
		wpos    uint32
		want    int // number of bytes stored
		err     error
		errPref string
	}{
		{
			name: "done",
			nrep: 1000,
			wpos: 0x1000,
			want: capture.Size(1000),
		},
		{
			name: "done-wraparound",
			nrep: 50000,
			wpos: 0x10,
			want: capture.Size(50000),
		},
		{
			name: "nibble",
			setup: func(usb *fakeusb.Device, cfg *config) {
				usb.Idle = fakeusb.IdleNibble
				usb.State = fakeusb.Nibbles
				cfg.decoder = la.NibbleDecoder
			},
			nrep: 100,
			wpos: 0x2000,
			want: capture.Size(100),
		},
		{
			name: "timeout",
			setup: func(usb *fakeusb.Device, cfg *config) {
				usb.State = fakeusb.Sentinels[:1]
				cfg.timeout = 20 * time.Millisecond
			},
			nrep: 20,
			wpos: 0x200,
			want: capture.Size(20),
		},
		{
			name: "interrupted",
			setup: func(usb *fakeusb.Device, cfg *config) {
				usb.State = fakeusb.Sentinels[:1]
				cfg.timeout = time.Minute
			},
			signal: true,
			nrep:   20,
			wpos:   0x200,
			want:   capture.Size(20),
		},
		{
			name: "incomplete",
			setup: func(usb *fakeusb.Device, cfg *config) {
				usb.Limit = 500
			},
			nrep:    1000,
			wpos:    0x1000,
			want:    500,
			err:     lax.ErrIncompleteTransfer,
			errPref: "could not upload whole capture: ",
		},
		{
			name: "invalid-rate",
			setup: func(usb *fakeusb.Device, cfg *config) {
				cfg.rate = -1
			},
			want:    -1,
			err:     lax.ErrInvalidParameter,
			errPref: "la: ",
		},
		{
			name: "invalid-poll",
			setup: func(usb *fakeusb.Device, cfg *config) {
				cfg.poll = 0
			},
			want:    -1,
			err:     lax.ErrInvalidParameter,
			errPref: "la: invalid polling interval 0s: ",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				usb = fakeusb.New()
				msg = log.New(io.Discard, "", 0)
				cfg = config{
					model:   la.LA2016,
					decoder: la.SentinelDecoder,
					rate:    1e5,
					samples: 5e5,
					pre:     40,
					trigger: la.DefaultTrigger,
					timeout: 5 * time.Second,
					poll:    time.Millisecond,
					odir:    filepath.Join(t.TempDir(), "captures"),
				}
			)
			usb.Info = [3]uint32{tc.nrep, tc.nrep / 2, tc.wpos}
			if tc.setup != nil {
				tc.setup(usb, &cfg)
			}

			openDevice = func(opts ...la.Option) (*la.Device, error) {
				opts = append(opts, la.WithSettleTime(0), la.WithLogger(msg))
				return la.New(fx2.New(usb, fx2.WithLogger(msg)), opts...), nil
			}

			stop := make(chan os.Signal, 1)
			if tc.signal {
				stop <- os.Interrupt
			}

			err := run(cfg, stop)
			switch {
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: %+v", err)
				}
				if !strings.HasPrefix(err.Error(), tc.errPref) {
					t.Fatalf("invalid error: %+v", err)
				}
			case err != nil:
				t.Fatalf("could not run acquisition: %+v", err)
			}

			if tc.want < 0 {
				if _, err := os.Stat(cfg.odir); err == nil {
					t.Fatalf("output directory should not have been created")
				}
				return
			}

			files, err := os.ReadDir(cfg.odir)
			if err != nil {
				t.Fatalf("could not read output dir: %+v", err)
			}
			if len(files) != 1 {
				t.Fatalf("invalid number of capture files: got=%d, want=1", len(files))
			}

			data, err := os.ReadFile(filepath.Join(cfg.odir, files[0].Name()))
			if err != nil {
				t.Fatalf("could not read capture file: %+v", err)
			}
			if got, want := len(data), tc.want; got != want {
				t.Fatalf("invalid capture size: got=%d, want=%d", got, want)
			}

			start, err := la.StartAddress(capture.Size(int(tc.nrep)), int(tc.wpos), la.MemSize)
			if err != nil {
				t.Fatalf("could not compute start address: %+v", err)
			}
			for i, v := range data {
				if want := fakeusb.MemAt((start + i) % la.MemSize); v != want {
					t.Fatalf("invalid byte %d: got=0x%02x, want=0x%02x", i, v, want)
				}
			}

			if usb.Regs[0x00] != 0 {
				t.Fatalf("acquisition should have been stopped")
			}
		})
	}
}

func TestRunDB(t *testing.T) {
	defer func(
		device func(...la.Option) (*la.Device, error),
		db func(string) (captureLogger, error),
	) {
		openDevice = device
		openDB = db
	}(openDevice, openDB)

	var (
		info = [3]uint32{1000, 400, 0x1000}
		msg  = log.New(io.Discard, "", 0)
		cfg  = config{
			model:   la.LA1016,
			decoder: la.SentinelDecoder,
			rate:    1e5,
			samples: 5e5,
			pre:     40,
			trigger: la.DefaultTrigger,
			timeout: 5 * time.Second,
			poll:    time.Millisecond,
			odir:    t.TempDir(),
			dbname:  "lax",
		}
	)

	openDevice = func(opts ...la.Option) (*la.Device, error) {
		usb := fakeusb.New()
		usb.Info = info
		opts = append(opts, la.WithSettleTime(0), la.WithLogger(msg))
		return la.New(fx2.New(usb, fx2.WithLogger(msg)), opts...), nil
	}

	t.Run("ok", func(t *testing.T) {
		db := new(fakeDB)
		openDB = func(name string) (captureLogger, error) {
			if name != "lax" {
				t.Fatalf("invalid db name %q", name)
			}
			return db, nil
		}

		err := run(cfg, make(chan os.Signal, 1))
		if err != nil {
			t.Fatalf("could not run acquisition: %+v", err)
		}

		if !db.closed {
			t.Fatalf("capture db not closed")
		}
		if len(db.caps) != 1 {
			t.Fatalf("invalid number of logged captures: got=%d, want=1", len(db.caps))
		}

		c := db.caps[0]
		if got, want := c.Model, "LA1016"; got != want {
			t.Fatalf("invalid model: got=%q, want=%q", got, want)
		}
		if got, want := c.Samples, uint32(5e5); got != want {
			t.Fatalf("invalid number of samples: got=%d, want=%d", got, want)
		}
		if got, want := c.PreTrigger, 40; got != want {
			t.Fatalf("invalid pre-trigger ratio: got=%d, want=%d", got, want)
		}
		if got, want := [3]uint32{c.NumRep, c.NumRepTrig, c.WritePos}, info; got != want {
			t.Fatalf("invalid capture info: got=%v, want=%v", got, want)
		}
		if got, want := c.Bytes, int64(capture.Size(1000)); got != want {
			t.Fatalf("invalid capture size: got=%d, want=%d", got, want)
		}
		if filepath.Dir(c.File) != cfg.odir {
			t.Fatalf("invalid capture file %q", c.File)
		}
	})

	t.Run("open-error", func(t *testing.T) {
		openDB = func(name string) (captureLogger, error) {
			return nil, lax.ErrUnavailable
		}

		err := run(cfg, make(chan os.Signal, 1))
		if !errors.Is(err, lax.ErrUnavailable) {
			t.Fatalf("invalid error: %+v", err)
		}
		if !strings.HasPrefix(err.Error(), "could not open capture db: ") {
			t.Fatalf("invalid error: %+v", err)
		}
	})

	t.Run("insert-error", func(t *testing.T) {
		db := &fakeDB{err: io.ErrUnexpectedEOF}
		openDB = func(name string) (captureLogger, error) {
			return db, nil
		}

		err := run(cfg, make(chan os.Signal, 1))
		if got, want := err.Error(), "could not log capture: unexpected EOF"; got != want {
			t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
		}
		if !db.closed {
			t.Fatalf("capture db not closed")
		}
	})
}

func TestRunOpenError(t *testing.T) {
	defer func(device func(...la.Option) (*la.Device, error)) {
		openDevice = device
	}(openDevice)

	openDevice = func(opts ...la.Option) (*la.Device, error) {
		return nil, lax.ErrUnavailable
	}

	err := run(config{timeout: time.Second, poll: time.Millisecond}, make(chan os.Signal, 1))
	if !errors.Is(err, lax.ErrUnavailable) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := err.Error(), "could not open device: device unavailable"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}
