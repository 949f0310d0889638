// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fx2 drives the FX2 USB bridge controller of a logic analyzer.
//
// The bridge controller exposes a set of vendor control requests, one
// bulk OUT endpoint (FPGA bitstream) and one bulk IN endpoint (capture
// data).
package fx2 // import "github.com/go-lpc/lax/fx2"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/lax"
)

// USB identifiers of the Kingst LA1016/LA2016 logic analyzers.
const (
	VendorID  = 0x77a1
	ProductID = 0x01a2
)

// Request is a vendor control request code understood by the
// bridge controller firmware.
type Request uint8

const (
	ReqFPGAEnable  Request = 0x10 // hold (val=0) or release (val=1) the FPGA reset line
	ReqRegister    Request = 0x20 // FPGA register bus, val=address
	ReqBulkStart   Request = 0x30 // start streaming capture data
	ReqBulkReset   Request = 0x38 // reset/flush the bulk session
	ReqFPGAProgram Request = 0x50 // bitstream length (OUT), load status (IN)
	ReqAuth        Request = 0x60 // authentication chip relay
	ReqEEPROMAuth  Request = 0x68 // copy EEPROM bytes to the authentication chip
	ReqFirmware    Request = 0xa0 // firmware load at offset, reset/run at 0xe600
	ReqEEPROM      Request = 0xa2 // EEPROM access, val=address
)

func (req Request) String() string {
	switch req {
	case ReqFPGAEnable:
		return "fpga-enable"
	case ReqRegister:
		return "register"
	case ReqBulkStart:
		return "bulk-start"
	case ReqBulkReset:
		return "bulk-reset"
	case ReqFPGAProgram:
		return "fpga-program"
	case ReqAuth:
		return "auth"
	case ReqEEPROMAuth:
		return "eeprom-auth"
	case ReqFirmware:
		return "firmware"
	case ReqEEPROM:
		return "eeprom"
	}
	return fmt.Sprintf("Request(0x%02x)", uint8(req))
}

// Conn is a connection to a bridge controller.
//
// Timeouts are reported with errors wrapping lax.ErrTimeout.
type Conn interface {
	// Control issues a control transfer.
	// Bit 7 of rType selects the direction (set for device-to-host).
	Control(rType, req uint8, val, idx uint16, data []byte) (int, error)

	// WriteBulk writes p to the bulk OUT endpoint.
	WriteBulk(ctx context.Context, p []byte) (int, error)

	// ReadBulk reads from the bulk IN endpoint into p.
	ReadBulk(ctx context.Context, p []byte) (int, error)

	Close() error
}

// Device is a handle to a bridge controller.
//
// All transfers are serialized: a Device may be used by multiple
// goroutines, but the protocol is request/response and callers
// chaining several transfers must provide their own critical section.
type Device struct {
	mu   sync.Mutex
	conn Conn
	msg  *log.Logger
	cfg  config
}

type config struct {
	ctlTimeout time.Duration
	intf       int // USB interface number
	msg        *log.Logger
}

func newConfig() config {
	return config{
		ctlTimeout: 100 * time.Millisecond,
		msg:        log.New(os.Stdout, "fx2: ", 0),
	}
}

// Option configures a bridge controller handle.
type Option func(*config)

// WithLogger sets the logger used for session messages.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithControlTimeout sets the timeout of control transfers.
func WithControlTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.ctlTimeout = timeout
	}
}

// WithInterface selects the USB interface to claim.
func WithInterface(num int) Option {
	return func(cfg *config) {
		cfg.intf = num
	}
}

// New returns a handle to the bridge controller reached through conn.
func New(conn Conn, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{conn: conn, msg: cfg.msg, cfg: cfg}
}

// Open opens the first USB device with the provided vendor and product IDs.
func Open(vid, pid uint16, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	conn, err := usbOpen(vid, pid, cfg)
	if err != nil {
		return nil, fmt.Errorf(
			"fx2: could not open USB device (vid=0x%04x, pid=0x%04x): %w",
			vid, pid, err,
		)
	}

	return &Device{conn: conn, msg: cfg.msg, cfg: cfg}, nil
}

// Close releases the USB resources held by the device.
// Close is idempotent.
func (dev *Device) Close() error {
	if dev == nil {
		return nil
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.conn == nil {
		return nil
	}
	conn := dev.conn
	dev.conn = nil

	err := conn.Close()
	if err != nil {
		return fmt.Errorf("fx2: could not close USB device: %w", err)
	}
	return nil
}

const (
	rTypeIn  = 0xc0 // device-to-host | vendor | device
	rTypeOut = 0x40 // host-to-device | vendor | device
)

func (dev *Device) check() error {
	if dev == nil || dev.conn == nil {
		return fmt.Errorf("fx2: %w", lax.ErrUnavailable)
	}
	return nil
}

// VendorIn issues a vendor IN request reading n bytes.
func (dev *Device) VendorIn(req Request, val uint16, n int) ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.vendorIn(req, val, n)
}

func (dev *Device) vendorIn(req Request, val uint16, n int) ([]byte, error) {
	err := dev.check()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	got, err := dev.conn.Control(rTypeIn, uint8(req), val, 0, buf)
	if err != nil {
		return nil, fmt.Errorf(
			"fx2: could not read %v request (val=0x%04x, n=%d): %w",
			req, val, n, err,
		)
	}
	if got != n {
		return nil, &lax.IncompleteTransferError{
			Op:   fmt.Sprintf("fx2: %v request (val=0x%04x)", req, val),
			Want: n,
			Data: buf[:got],
		}
	}
	return buf, nil
}

// VendorOut issues a vendor OUT request carrying p.
// p may be empty.
func (dev *Device) VendorOut(req Request, val uint16, p []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.vendorOut(req, val, p)
}

func (dev *Device) vendorOut(req Request, val uint16, p []byte) error {
	err := dev.check()
	if err != nil {
		return err
	}

	n, err := dev.conn.Control(rTypeOut, uint8(req), val, 0, p)
	if err != nil {
		return fmt.Errorf(
			"fx2: could not write %v request (val=0x%04x, n=%d): %w",
			req, val, len(p), err,
		)
	}
	if n != len(p) {
		return &lax.IncompleteTransferError{
			Op:   fmt.Sprintf("fx2: %v request (val=0x%04x)", req, val),
			Want: len(p),
			Data: p[:n],
		}
	}
	return nil
}

// BulkWrite writes p to the bulk OUT endpoint.
func (dev *Device) BulkWrite(ctx context.Context, p []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.check()
	if err != nil {
		return err
	}

	n, err := dev.conn.WriteBulk(ctx, p)
	if err != nil {
		return fmt.Errorf("fx2: could not write %d bytes to bulk endpoint: %w", len(p), err)
	}
	if n != len(p) {
		return &lax.IncompleteTransferError{
			Op:   "fx2: bulk write",
			Want: len(p),
			Data: p[:n],
		}
	}
	return nil
}

// BulkRead reads up to len(p) bytes from the bulk IN endpoint.
func (dev *Device) BulkRead(ctx context.Context, p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.check()
	if err != nil {
		return 0, err
	}

	n, err := dev.conn.ReadBulk(ctx, p)
	if err != nil {
		return n, fmt.Errorf("fx2: could not read bulk endpoint: %w", err)
	}
	return n, nil
}
