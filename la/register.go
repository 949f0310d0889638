// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"fmt"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/fx2"
)

// FPGA registers.
const (
	RegRun       = 0x00 // run control (write), run state (read, 16b)
	RegPWMEnable = 0x02 // user PWM enable bits
	RegUpload    = 0x08 // upload start address and byte count (2x32b)
	RegSampling  = 0x10 // sampling configuration (write), capture info (read)
	RegTrigger   = 0x20 // channel and trigger masks (4x32b)
	RegThreshold = 0x68 // threshold PWM duties (2x16b)
	RegPWM1      = 0x70 // user PWM1 period and duty (2x32b)
	RegPWM2      = 0x78 // user PWM2 period and duty (2x32b)

	nRegs      = 128
	regReadBit = 0x80
)

func checkReg(addr, n int) error {
	if addr < 0 || addr >= nRegs {
		return fmt.Errorf(
			"la: invalid register address %d (want [0, %d]): %w",
			addr, nRegs-1, lax.ErrOutOfRange,
		)
	}
	if n <= 0 || addr+n > nRegs {
		return fmt.Errorf(
			"la: invalid register block [0x%02x, 0x%02x) (want [0x00, 0x%02x)): %w",
			addr, addr+n, nRegs, lax.ErrOutOfRange,
		)
	}
	return nil
}

// Read reads n bytes from the FPGA registers, starting at addr.
func (dev *Device) Read(addr, n int) ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.read(addr, n)
}

func (dev *Device) read(addr, n int) ([]byte, error) {
	err := checkReg(addr, n)
	if err != nil {
		return nil, err
	}

	p, err := dev.usb.VendorIn(fx2.ReqRegister, uint16(addr|regReadBit), n)
	if err != nil {
		return nil, fmt.Errorf("la: could not read register 0x%02x: %w", addr, err)
	}
	return p, nil
}

// Write writes p to the FPGA registers, starting at addr.
func (dev *Device) Write(addr int, p []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.write(addr, p)
}

func (dev *Device) write(addr int, p []byte) error {
	err := checkReg(addr, len(p))
	if err != nil {
		return err
	}

	err = dev.usb.VendorOut(fx2.ReqRegister, uint16(addr), p)
	if err != nil {
		return fmt.Errorf("la: could not write register 0x%02x: %w", addr, err)
	}
	return nil
}
