// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakeusb simulates a FX2 bridge controller connected to a
// logic analyzer FPGA and its capture memory.
package fakeusb // import "github.com/go-lpc/lax/internal/fakeusb"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/lax"
)

// Run-state words reported by the two known firmware flavors.
var (
	Sentinels = []uint16{0x85e2, 0x85ea, 0x85ee, 0x85ed}
	Nibbles   = []uint16{0x0012, 0x001a, 0x001e, 0x001d}
)

const (
	IdleSentinel = 0x85e9
	IdleNibble   = 0x0019
)

const (
	reqFPGAEnable  = 0x10
	reqRegister    = 0x20
	reqBulkStart   = 0x30
	reqBulkReset   = 0x38
	reqFPGAProgram = 0x50
	reqAuth        = 0x60
	reqEEPROMAuth  = 0x68
	reqFirmware    = 0xa0
	reqEEPROM      = 0xa2

	regRun      = 0x00
	regUpload   = 0x08
	regSampling = 0x10
)

var errClosed = errors.New("fakeusb: device closed")

// Transfer is a recorded USB transfer.
type Transfer struct {
	In   bool   // device-to-host
	Bulk bool   // bulk transfer (Req and Val are then zero)
	Req  uint8  // control request
	Val  uint16 // control value
	Data []byte // payload (OUT) or requested size worth of bytes (IN)
}

func (t Transfer) String() string {
	dir := "OUT"
	if t.In {
		dir = "IN"
	}
	if t.Bulk {
		return fmt.Sprintf("bulk-%s n=%d", dir, len(t.Data))
	}
	return fmt.Sprintf("ctrl-%s req=0x%02x val=0x%04x data=%x", dir, t.Req, t.Val, t.Data)
}

// Device is a simulated bridge controller.
// The exported fields may be modified before the device is used.
type Device struct {
	mu sync.Mutex

	Log []Transfer // recorded transfers

	Firmware []byte // bridge controller RAM
	Running  bool   // bridge controller out of reset

	FPGAReset  bool   // FPGA held in reset
	BitLen     uint32 // announced bitstream length
	Bitstream  []byte // received bitstream
	ExpectLen  uint32 // when non-zero, announced length expected by the interlock
	LoadStatus byte   // when non-zero, forced bitstream load status

	Regs  [128]byte // register bank (last written values)
	Idle  uint16    // run state while idle
	State []uint16  // run states reported by successive polls after a start
	Info  [3]uint32 // capture info (n-rep, n-rep-before-trigger, write-pos)

	EEPROM   [256]byte
	AuthResp []byte // response to authentication requests

	MemSize int              // capture memory size
	Mem     func(i int) byte // capture memory content
	Limit   int              // when non-zero, bulk IN stops after Limit bytes

	Fail map[uint8]error // control requests forced to fail

	closed bool
	acq    bool // acquisition started
	step   int
	auth   []byte
	upload struct {
		on    bool
		start int
		n     int
		pos   int
	}
}

// New returns a simulated device with the sentinel run-state encoding.
func New() *Device {
	return &Device{
		Idle:    IdleSentinel,
		State:   Sentinels,
		MemSize: 1 << 27,
		Mem:     MemAt,
	}
}

// MemAt is the default content of the simulated capture memory.
func MemAt(i int) byte {
	return byte(i ^ i>>8 ^ i>>16)
}

// Transfers returns a copy of the recorded transfers.
func (dev *Device) Transfers() []Transfer {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]Transfer(nil), dev.Log...)
}

// Reset clears the transfers log.
func (dev *Device) Reset() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.Log = nil
}

func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return errClosed
	}
	dev.closed = true
	return nil
}

func (dev *Device) record(t Transfer) {
	t.Data = append([]byte(nil), t.Data...)
	dev.Log = append(dev.Log, t)
}

func (dev *Device) Control(rType, req uint8, val, idx uint16, data []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return 0, errClosed
	}

	in := rType&0x80 != 0
	if err, ok := dev.Fail[req]; ok && err != nil {
		return 0, err
	}

	if in {
		n, err := dev.ctrlIn(req, val, data)
		dev.record(Transfer{In: true, Req: req, Val: val, Data: data[:n]})
		return n, err
	}

	dev.record(Transfer{Req: req, Val: val, Data: data})
	return len(data), dev.ctrlOut(req, val, data)
}

func (dev *Device) ctrlIn(req uint8, val uint16, p []byte) (int, error) {
	switch req {
	case reqRegister:
		if val&0x80 == 0 {
			return 0, fmt.Errorf("fakeusb: register read without direction bit (val=0x%x)", val)
		}
		addr := int(val & 0x7f)
		if addr+len(p) > len(dev.Regs) {
			return 0, fmt.Errorf("fakeusb: register read past end (addr=0x%x, n=%d)", addr, len(p))
		}
		for i := range p {
			p[i] = dev.reg(addr + i)
		}
		if addr == regRun {
			dev.poll()
		}
		return len(p), nil

	case reqFPGAProgram:
		if len(p) < 1 {
			return 0, nil
		}
		p[0] = dev.loadStatus()
		return 1, nil

	case reqEEPROM:
		if int(val)+len(p) > len(dev.EEPROM) {
			return 0, fmt.Errorf("fakeusb: EEPROM read past end (addr=0x%x, n=%d)", val, len(p))
		}
		return copy(p, dev.EEPROM[val:]), nil

	case reqAuth:
		resp := dev.AuthResp
		if resp == nil {
			resp = dev.auth
		}
		for i := range p {
			p[i] = 0
		}
		copy(p, resp)
		return len(p), nil
	}
	return 0, fmt.Errorf("fakeusb: invalid IN request 0x%02x", req)
}

func (dev *Device) ctrlOut(req uint8, val uint16, p []byte) error {
	switch req {
	case reqFirmware:
		if val == 0xe600 {
			if len(p) != 1 {
				return fmt.Errorf("fakeusb: invalid CPUCS payload %x", p)
			}
			dev.Running = p[0] == 0
			if !dev.Running {
				dev.Firmware = dev.Firmware[:0]
			}
			return nil
		}
		if dev.Running {
			return fmt.Errorf("fakeusb: firmware load while running")
		}
		if end := int(val) + len(p); end > len(dev.Firmware) {
			dev.Firmware = append(dev.Firmware, make([]byte, end-len(dev.Firmware))...)
		}
		copy(dev.Firmware[val:], p)
		return nil

	case reqFPGAEnable:
		switch val {
		case 0:
			dev.FPGAReset = true
			dev.Bitstream = dev.Bitstream[:0]
		case 1:
			dev.FPGAReset = false
		default:
			return fmt.Errorf("fakeusb: invalid FPGA enable value %d", val)
		}
		return nil

	case reqFPGAProgram:
		if len(p) != 4 {
			return fmt.Errorf("fakeusb: invalid bitstream length payload %x", p)
		}
		dev.BitLen = binary.LittleEndian.Uint32(p)
		return nil

	case reqRegister:
		if val&0x80 != 0 {
			return fmt.Errorf("fakeusb: register write with direction bit (val=0x%x)", val)
		}
		addr := int(val)
		if addr+len(p) > len(dev.Regs) {
			return fmt.Errorf("fakeusb: register write past end (addr=0x%x, n=%d)", addr, len(p))
		}
		copy(dev.Regs[addr:], p)
		if addr == regRun && len(p) > 0 {
			switch p[0] {
			case 0x03:
				dev.acq = true
				dev.step = 0
			case 0x00:
				dev.acq = false
			}
		}
		return nil

	case reqBulkReset:
		dev.upload.on = false
		return nil

	case reqBulkStart:
		dev.upload.on = true
		dev.upload.start = int(binary.LittleEndian.Uint32(dev.Regs[regUpload:]))
		dev.upload.n = int(binary.LittleEndian.Uint32(dev.Regs[regUpload+4:]))
		dev.upload.pos = 0
		return nil

	case reqEEPROM:
		if int(val)+len(p) > len(dev.EEPROM) {
			return fmt.Errorf("fakeusb: EEPROM write past end (addr=0x%x, n=%d)", val, len(p))
		}
		copy(dev.EEPROM[val:], p)
		return nil

	case reqAuth:
		if len(p) < 2 || p[0] != 0xa3 || int(p[1]) != len(p)-2 {
			return fmt.Errorf("fakeusb: invalid authentication frame %x", p)
		}
		// the simulated chip echoes the frame payload.
		dev.auth = append([]byte{0xa3, p[1]}, p[2:]...)
		return nil

	case reqEEPROMAuth:
		dev.auth = append([]byte{0xa3, 0x11, 0xcb}, dev.EEPROM[0x10:0x20]...)
		return nil
	}
	return fmt.Errorf("fakeusb: invalid OUT request 0x%02x", req)
}

func (dev *Device) poll() {
	if !dev.acq {
		return
	}
	if dev.step < len(dev.State)-1 {
		dev.step++
	}
}

func (dev *Device) state() uint16 {
	if !dev.acq || len(dev.State) == 0 {
		return dev.Idle
	}
	return dev.State[dev.step]
}

func (dev *Device) reg(addr int) byte {
	switch {
	case addr == regRun:
		return byte(dev.state())
	case addr == regRun+1:
		return byte(dev.state() >> 8)
	case addr >= regSampling && addr < regSampling+12:
		i := addr - regSampling
		return byte(dev.Info[i/4] >> (8 * (i % 4)))
	}
	return dev.Regs[addr]
}

func (dev *Device) loadStatus() byte {
	switch {
	case dev.LoadStatus != 0:
		return dev.LoadStatus
	case !dev.FPGAReset:
		return 0xfe
	case len(dev.Bitstream) == 0:
		return 0xfd
	case dev.ExpectLen != 0 && dev.BitLen != dev.ExpectLen:
		return 0xfc
	}
	return 0
}

func (dev *Device) WriteBulk(ctx context.Context, p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return 0, errClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", lax.ErrTimeout, err)
	}
	dev.record(Transfer{Bulk: true, Data: p})
	dev.Bitstream = append(dev.Bitstream, p...)
	return len(p), nil
}

func (dev *Device) ReadBulk(ctx context.Context, p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return 0, errClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", lax.ErrTimeout, err)
	}

	up := &dev.upload
	end := up.n
	if dev.Limit > 0 && dev.Limit < end {
		end = dev.Limit
	}
	if !up.on || up.pos >= end {
		return 0, fmt.Errorf("%w: no bulk data", lax.ErrTimeout)
	}

	n := len(p)
	if rem := end - up.pos; rem < n {
		n = rem
	}
	for i := 0; i < n; i++ {
		p[i] = dev.Mem((up.start + up.pos + i) % dev.MemSize)
	}
	up.pos += n
	dev.record(Transfer{In: true, Bulk: true, Data: p[:n]})
	return n, nil
}
