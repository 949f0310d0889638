// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/go-lpc/lax"
)

func TestEEPROM(t *testing.T) {
	dev, usb := newTestDevice(t)

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	err := dev.EEPROMWrite(0x10, want)
	if err != nil {
		t.Fatalf("could not write EEPROM: %+v", err)
	}
	if got := usb.EEPROM[0x10:0x20]; !bytes.Equal(got, want) {
		t.Fatalf("invalid EEPROM content: got=%x, want=%x", got, want)
	}

	got, err := dev.EEPROMRead(0x10, 16)
	if err != nil {
		t.Fatalf("could not read EEPROM: %+v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid EEPROM read: got=%x, want=%x", got, want)
	}

	usb.Reset()
	for _, tc := range []struct {
		name string
		f    func() error
		err  string
	}{
		{
			name: "read-past-end",
			f: func() error {
				_, err := dev.EEPROMRead(250, 10)
				return err
			},
			err: "la: invalid EEPROM block [0xfa, 0x104) (want [0x00, 0x100)): parameter out of range",
		},
		{
			name: "read-negative",
			f: func() error {
				_, err := dev.EEPROMRead(-1, 1)
				return err
			},
			err: "la: invalid EEPROM block [0x-1, 0x00) (want [0x00, 0x100)): parameter out of range",
		},
		{
			name: "write-past-end",
			f: func() error {
				return dev.EEPROMWrite(0xff, []byte{1, 2})
			},
			err: "la: invalid EEPROM block [0xff, 0x101) (want [0x00, 0x100)): parameter out of range",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f()
			if !errors.Is(err, lax.ErrOutOfRange) {
				t.Fatalf("invalid error: %+v", err)
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
	if got := usb.Transfers(); len(got) != 0 {
		t.Fatalf("rejected EEPROM accesses issued transfers: %v", got)
	}
}

func TestAuth(t *testing.T) {
	dev, usb := newTestDevice(t)

	resp, err := dev.AuthSerial()
	if err != nil {
		t.Fatalf("could not request serial: %+v", err)
	}
	want := make([]byte, authRespSize)
	copy(want, []byte{0xa3, 0x01, 0xca})
	if !bytes.Equal(resp, want) {
		t.Fatalf("invalid serial response:\ngot= %x\nwant=%x", resp, want)
	}

	if got, want := transfers(usb), []string{
		"ctrl-OUT req=0x60 val=0x0000 data=a301ca",
		"ctrl-IN req=0x60 val=0x0000 data=a301ca0000000000000000000000000000000000",
	}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid transfers:\ngot= %q\nwant=%q", got, want)
	}

	resp, err = dev.AuthChallenge()
	if err != nil {
		t.Fatalf("could not send challenge: %+v", err)
	}
	want = make([]byte, authRespSize)
	copy(want, []byte{0xa3, 0x09, 0xc9, 0xf4, 0x32, 0x4c, 0x4d, 0xee, 0xab, 0xa0, 0xdd})
	if !bytes.Equal(resp, want) {
		t.Fatalf("invalid challenge response:\ngot= %x\nwant=%x", resp, want)
	}

	for i := range usb.EEPROM[0x10:0x20] {
		usb.EEPROM[0x10+i] = byte(0xf0 + i)
	}
	resp, err = dev.EEPROMToAuth()
	if err != nil {
		t.Fatalf("could not copy EEPROM to authentication chip: %+v", err)
	}
	want = make([]byte, authRespSize)
	copy(want, []byte{0xa3, 0x11, 0xcb})
	copy(want[3:], usb.EEPROM[0x10:0x20])
	if !bytes.Equal(resp, want) {
		t.Fatalf("invalid EEPROM response:\ngot= %x\nwant=%x", resp, want)
	}

	usb.AuthResp = []byte{0xa3, 0x02, 0x12, 0x34}
	resp, err = dev.AuthRequest([]byte{0x42})
	if err != nil {
		t.Fatalf("could not send request: %+v", err)
	}
	if got, want := resp[:4], usb.AuthResp; !bytes.Equal(got, want) {
		t.Fatalf("invalid response: got=%x, want=%x", got, want)
	}

	_, err = dev.AuthRequest(nil)
	if got, want := err.Error(), "la: invalid authentication payload size 0 (want [1, 255]): invalid parameter"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}
