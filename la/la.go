// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package la drives the FPGA of a FX2/FPGA logic analyzer.
//
// A session runs the following steps:
//   - load the FPGA bitstream (once per power cycle),
//   - configure the threshold, sampling and trigger parameters,
//   - start the acquisition and poll its state until done,
//   - stop the acquisition and upload the captured data.
package la // import "github.com/go-lpc/lax/la"

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/fx2"
)

const (
	sampleClock = 200e6   // sample clock (Hz)
	pwmClock    = 200e6   // user and threshold PWM clock (Hz)
	MemSize     = 1 << 27 // capture memory size (bytes)
)

// Model describes a logic analyzer model.
type Model struct {
	Name    string
	MaxRate float64 // maximum sample rate (Hz)
}

var (
	LA1016 = Model{Name: "LA1016", MaxRate: 100e6}
	LA2016 = Model{Name: "LA2016", MaxRate: 200e6}
)

// Models is the list of supported logic analyzer models.
var Models = []Model{LA1016, LA2016}

// LookupModel returns the model with the provided name.
func LookupModel(name string) (Model, error) {
	for _, m := range Models {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("la: unknown model %q: %w", name, lax.ErrInvalidParameter)
}

// Bridge is the bridge controller a Device talks through.
// *fx2.Device implements Bridge.
type Bridge interface {
	VendorIn(req fx2.Request, val uint16, n int) ([]byte, error)
	VendorOut(req fx2.Request, val uint16, p []byte) error
	BulkWrite(ctx context.Context, p []byte) error
	BulkRead(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Device is a logic analyzer session.
//
// A Device is safe for concurrent use: each exported method runs its whole
// transfer sequence under a single session lock.
type Device struct {
	mu  sync.Mutex
	usb Bridge
	msg *log.Logger
	cfg config
}

type config struct {
	msg   *log.Logger
	model Model
	state StateDecoder

	chunkTimeout  time.Duration // bitstream bulk chunk timeout
	uploadTimeout time.Duration // capture bulk chunk timeout
	authDelay     time.Duration // authentication chip response delay
	settle        time.Duration // FPGA reset settling time
}

func newConfig() config {
	return config{
		msg:           log.New(os.Stdout, "la: ", 0),
		model:         LA2016,
		state:         SentinelDecoder,
		chunkTimeout:  1 * time.Second,
		uploadTimeout: 5 * time.Second,
		authDelay:     500 * time.Millisecond,
		settle:        100 * time.Millisecond,
	}
}

// Option configures a logic analyzer session.
type Option func(*config)

// WithLogger sets the logger used for session messages.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithModel sets the logic analyzer model.
func WithModel(m Model) Option {
	return func(cfg *config) {
		cfg.model = m
	}
}

// WithStateDecoder sets the run-state decoding strategy.
func WithStateDecoder(dec StateDecoder) Option {
	return func(cfg *config) {
		cfg.state = dec
	}
}

// WithChunkTimeout sets the timeout of each bitstream bulk transfer.
func WithChunkTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.chunkTimeout = timeout
	}
}

// WithUploadTimeout sets the timeout of each capture bulk transfer.
func WithUploadTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.uploadTimeout = timeout
	}
}

// WithAuthDelay sets the delay between an authentication request and
// the read-back of its response.
func WithAuthDelay(delay time.Duration) Option {
	return func(cfg *config) {
		cfg.authDelay = delay
	}
}

// WithSettleTime sets the time waited around the release of the FPGA
// reset line.
func WithSettleTime(d time.Duration) Option {
	return func(cfg *config) {
		cfg.settle = d
	}
}

// New creates a new session on top of the provided bridge controller.
func New(usb Bridge, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		usb: usb,
		msg: cfg.msg,
		cfg: cfg,
	}
}

// Open opens the first connected logic analyzer.
// The bridge controller firmware must already be running.
func Open(opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	usb, err := openBridge(cfg.msg)
	if err != nil {
		return nil, fmt.Errorf("la: could not open %s: %w", cfg.model.Name, err)
	}

	return New(usb, opts...), nil
}

var openBridge = func(msg *log.Logger) (Bridge, error) {
	return fx2.Open(fx2.VendorID, fx2.ProductID, fx2.WithLogger(msg))
}

// Model returns the model of the logic analyzer.
func (dev *Device) Model() Model {
	return dev.cfg.model
}

// Close releases the bridge controller.
// Close is idempotent.
func (dev *Device) Close() error {
	if dev == nil || dev.usb == nil {
		return nil
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.usb.Close()
	if err != nil {
		return fmt.Errorf("la: could not close device: %w", err)
	}
	return nil
}
