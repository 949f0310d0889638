// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/internal/fakeusb"
)

func TestStartAddress(t *testing.T) {
	for _, tc := range []struct {
		n, wpos, size int
		want          int
		err           string
	}{
		{n: 100, wpos: 50, size: 1000, want: 950},
		{n: 30, wpos: 50, size: 1000, want: 20},
		{n: 50, wpos: 50, size: 1000, want: 0},
		{n: 0, wpos: 0, size: 1000, want: 0},
		{n: 999, wpos: 0, size: 1000, want: 1},
		{n: 999, wpos: 999, size: 1000, want: 0},
		{n: 1100, wpos: 100, size: MemSize, want: MemSize - 1000},
		{
			n: 10, wpos: -1, size: 1000,
			err: "la: invalid write position 0x-1 (want [0, 0x3e7]): parameter out of range",
		},
		{
			n: 10, wpos: 1000, size: 1000,
			err: "la: invalid write position 0x3e8 (want [0, 0x3e7]): parameter out of range",
		},
		{
			n: 1000, wpos: 10, size: 1000,
			err: "la: invalid upload size 1000 (want [0, 999]): parameter out of range",
		},
		{
			n: -1, wpos: 10, size: 1000,
			err: "la: invalid upload size -1 (want [0, 999]): parameter out of range",
		},
	} {
		t.Run(fmt.Sprintf("n=%d-wpos=%d", tc.n, tc.wpos), func(t *testing.T) {
			got, err := StartAddress(tc.n, tc.wpos, tc.size)
			switch {
			case tc.err != "":
				if err == nil {
					t.Fatalf("expected an error")
				}
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
				}
				if !errors.Is(err, lax.ErrOutOfRange) {
					t.Fatalf("invalid error kind: %+v", err)
				}
				return
			case err != nil:
				t.Fatalf("could not compute start address: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid start address: got=%d, want=%d", got, tc.want)
			}
		})
	}
}

func TestReadCaptureInfo(t *testing.T) {
	buf := new(bytes.Buffer)
	dev, usb := newTestDevice(t, WithLogger(log.New(buf, "la: ", 0)))
	usb.Info = [3]uint32{12, 4, 0x1234}

	ci, err := dev.ReadCaptureInfo()
	if err != nil {
		t.Fatalf("could not read capture info: %+v", err)
	}

	want := CaptureInfo{
		NumRepPackets:              12,
		NumRepPacketsBeforeTrigger: 4,
		WritePos:                   0x1234,
	}
	if ci != want {
		t.Fatalf("invalid capture info:\ngot= %+v\nwant=%+v", ci, want)
	}
	if ci.Aligned() {
		t.Fatalf("capture info should not be aligned")
	}
	if got, want := ci.Bytes(), 32; got != want {
		t.Fatalf("invalid number of bytes: got=%d, want=%d", got, want)
	}
	if got, want := buf.String(), "la: number of samples (12) is not a multiple of 5\n"; got != want {
		t.Fatalf("invalid log:\ngot= %q\nwant=%q", got, want)
	}
}

func TestUploadBytes(t *testing.T) {
	for _, tc := range []struct {
		name  string
		n     int
		wpos  int
		start int
		bulks int
	}{
		{name: "small", n: 1100, wpos: 5000, start: 3900, bulks: 1},
		{name: "wraparound", n: 1100, wpos: 100, start: MemSize - 1000, bulks: 1},
		{name: "large", n: 3*uploadChunkSize + 5, wpos: 0, start: MemSize - 3*uploadChunkSize - 5, bulks: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev, usb := newTestDevice(t)

			data, err := dev.UploadBytes(context.Background(), tc.n, tc.wpos)
			if err != nil {
				t.Fatalf("could not upload capture: %+v", err)
			}

			if got, want := len(data), tc.n; got != want {
				t.Fatalf("invalid upload size: got=%d, want=%d", got, want)
			}
			for i, v := range data {
				if want := fakeusb.MemAt((tc.start + i) % MemSize); v != want {
					t.Fatalf("invalid byte %d: got=0x%02x, want=0x%02x", i, v, want)
				}
			}

			win := make([]byte, 8)
			binary.LittleEndian.PutUint32(win[0:], uint32(tc.start))
			binary.LittleEndian.PutUint32(win[4:], uint32(tc.n))

			xfers := transfers(usb)
			want := []string{
				"ctrl-OUT req=0x38 val=0x0000 data=",
				fmt.Sprintf("ctrl-OUT req=0x20 val=0x0008 data=%x", win),
				"ctrl-OUT req=0x30 val=0x0000 data=",
			}
			if got := xfers[:3]; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid transfers:\ngot= %q\nwant=%q", got, want)
			}
			if got, want := len(xfers)-3, tc.bulks; got != want {
				t.Fatalf("invalid number of bulk transfers: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	dev, usb := newTestDevice(t)

	data, err := dev.Upload(context.Background(), 12, 100)
	if err != nil {
		t.Fatalf("could not upload capture: %+v", err)
	}
	if got, want := len(data), 32; got != want {
		t.Fatalf("invalid upload size: got=%d, want=%d", got, want)
	}
	if got, want := data[0], fakeusb.MemAt(100-32); got != want {
		t.Fatalf("invalid first byte: got=0x%02x, want=0x%02x", got, want)
	}

	usb.Reset()
	data, err = dev.Upload(context.Background(), 4, 100)
	if err != nil {
		t.Fatalf("could not upload empty capture: %+v", err)
	}
	if data == nil || len(data) != 0 {
		t.Fatalf("invalid empty upload: %v", data)
	}
	if got := usb.Transfers(); len(got) != 0 {
		t.Fatalf("empty upload issued transfers: %v", got)
	}
}

func TestUploadBytesZero(t *testing.T) {
	dev, usb := newTestDevice(t)

	data, err := dev.UploadBytes(context.Background(), 0, 123)
	if err != nil {
		t.Fatalf("could not upload capture: %+v", err)
	}
	if len(data) != 0 {
		t.Fatalf("invalid upload: %v", data)
	}
	if got := usb.Transfers(); len(got) != 0 {
		t.Fatalf("empty upload issued transfers: %v", got)
	}
}

func TestUploadBytesErrors(t *testing.T) {
	t.Run("out-of-range", func(t *testing.T) {
		dev, usb := newTestDevice(t)
		_, err := dev.UploadBytes(context.Background(), MemSize, 0)
		if !errors.Is(err, lax.ErrOutOfRange) {
			t.Fatalf("invalid error: %+v", err)
		}
		if got := usb.Transfers(); len(got) != 0 {
			t.Fatalf("rejected upload issued transfers: %v", got)
		}
	})

	t.Run("incomplete", func(t *testing.T) {
		dev, usb := newTestDevice(t)
		usb.Limit = 500

		data, err := dev.UploadBytes(context.Background(), 1000, 2000)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if !errors.Is(err, lax.ErrIncompleteTransfer) {
			t.Fatalf("invalid error kind: %+v", err)
		}
		if !errors.Is(err, lax.ErrTimeout) {
			t.Fatalf("error should wrap the transfer timeout: %+v", err)
		}
		if got, want := err.Error(), "la: upload: incomplete transfer (got=500, want=1000): fx2: could not read bulk endpoint: transfer timeout: no bulk data"; got != want {
			t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
		}

		var ierr *lax.IncompleteTransferError
		if !errors.As(err, &ierr) {
			t.Fatalf("could not extract incomplete transfer: %+v", err)
		}
		if got, want := len(ierr.Data), 500; got != want {
			t.Fatalf("invalid partial data size: got=%d, want=%d", got, want)
		}
		if !bytes.Equal(ierr.Data, data) {
			t.Fatalf("partial data mismatch")
		}
		for i, v := range data {
			if want := fakeusb.MemAt(1000 + i); v != want {
				t.Fatalf("invalid byte %d: got=0x%02x, want=0x%02x", i, v, want)
			}
		}
	})

	t.Run("bulk-reset", func(t *testing.T) {
		dev, usb := newTestDevice(t)
		usb.Fail = map[uint8]error{0x38: errors.New("pipe error")}

		_, err := dev.UploadBytes(context.Background(), 1000, 2000)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if !strings.HasPrefix(err.Error(), "la: could not reset bulk transfer: ") {
			t.Fatalf("invalid error: %+v", err)
		}
	})
}
