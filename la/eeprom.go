// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"fmt"
	"time"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/fx2"
)

const (
	eepromSize = 256

	authFrame    = 0xa3
	authRespSize = 20
)

var (
	authSerial    = []byte{0xca}
	authChallenge = []byte{0xc9, 0xf4, 0x32, 0x4c, 0x4d, 0xee, 0xab, 0xa0, 0xdd}
)

func checkEEPROM(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > eepromSize {
		return fmt.Errorf(
			"la: invalid EEPROM block [0x%02x, 0x%02x) (want [0x00, 0x%02x)): %w",
			addr, addr+n, eepromSize, lax.ErrOutOfRange,
		)
	}
	return nil
}

// EEPROMRead reads n bytes from the EEPROM, starting at addr.
func (dev *Device) EEPROMRead(addr, n int) ([]byte, error) {
	err := checkEEPROM(addr, n)
	if err != nil {
		return nil, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	p, err := dev.usb.VendorIn(fx2.ReqEEPROM, uint16(addr), n)
	if err != nil {
		return nil, fmt.Errorf("la: could not read EEPROM at 0x%02x: %w", addr, err)
	}
	return p, nil
}

// EEPROMWrite writes p to the EEPROM, starting at addr.
func (dev *Device) EEPROMWrite(addr int, p []byte) error {
	err := checkEEPROM(addr, len(p))
	if err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err = dev.usb.VendorOut(fx2.ReqEEPROM, uint16(addr), p)
	if err != nil {
		return fmt.Errorf("la: could not write EEPROM at 0x%02x: %w", addr, err)
	}
	return nil
}

// AuthRequest relays payload to the authentication chip and returns its
// raw response.
func (dev *Device) AuthRequest(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > 0xff {
		return nil, fmt.Errorf(
			"la: invalid authentication payload size %d (want [1, 255]): %w",
			len(payload), lax.ErrInvalidParameter,
		)
	}

	frame := make([]byte, 0, 2+len(payload))
	frame = append(frame, authFrame, byte(len(payload)))
	frame = append(frame, payload...)

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.usb.VendorOut(fx2.ReqAuth, 0, frame)
	if err != nil {
		return nil, fmt.Errorf("la: could not send authentication request: %w", err)
	}
	return dev.authResponse()
}

func (dev *Device) authResponse() ([]byte, error) {
	time.Sleep(dev.cfg.authDelay)

	resp, err := dev.usb.VendorIn(fx2.ReqAuth, 0, authRespSize)
	if err != nil {
		return nil, fmt.Errorf("la: could not read authentication response: %w", err)
	}
	return resp, nil
}

// AuthSerial requests the serial number of the authentication chip.
func (dev *Device) AuthSerial() ([]byte, error) {
	return dev.AuthRequest(authSerial)
}

// AuthChallenge sends the known challenge to the authentication chip.
func (dev *Device) AuthChallenge() ([]byte, error) {
	return dev.AuthRequest(authChallenge)
}

// EEPROMToAuth makes the bridge controller copy EEPROM bytes to the
// authentication chip and returns the chip response.
func (dev *Device) EEPROMToAuth() ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.usb.VendorOut(fx2.ReqEEPROMAuth, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("la: could not copy EEPROM to authentication chip: %w", err)
	}
	return dev.authResponse()
}
