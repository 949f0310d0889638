// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq exposes a logic analyzer as a TDAQ process.
//
// The server handles the /config, /init, /reset, /start, /stop and /quit
// run-control commands and publishes each uploaded capture on its
// /capture output.
// Acquisitions are re-armed after each capture until /stop.
package daq // import "github.com/go-lpc/lax/daq"

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/la"
)

var openDevice = la.Open

// Config holds the acquisition parameters sent with the /config command.
type Config struct {
	Rate       float64 // sample rate (Hz)
	Samples    int64   // number of samples per capture
	PreTrigger int     // pre-trigger ratio (%)
	Threshold  float64 // input threshold (V)
	Trigger    la.TriggerConfig
}

// DefaultConfig is used when /config is sent without a payload.
var DefaultConfig = Config{
	Rate:       1e5,
	Samples:    5e5,
	PreTrigger: 40,
	Threshold:  1.65,
	Trigger:    la.DefaultTrigger,
}

func (cfg Config) MarshalTDAQ() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteF64(cfg.Rate)
	enc.WriteI64(cfg.Samples)
	enc.WriteI32(int32(cfg.PreTrigger))
	enc.WriteF64(cfg.Threshold)
	enc.WriteU32(cfg.Trigger.Channels)
	enc.WriteU32(cfg.Trigger.Enable)
	enc.WriteU32(cfg.Trigger.Level)
	enc.WriteU32(cfg.Trigger.Sense)
	return buf.Bytes(), enc.Err()
}

func (cfg *Config) UnmarshalTDAQ(p []byte) error {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	cfg.Rate = dec.ReadF64()
	cfg.Samples = dec.ReadI64()
	cfg.PreTrigger = int(dec.ReadI32())
	cfg.Threshold = dec.ReadF64()
	cfg.Trigger.Channels = dec.ReadU32()
	cfg.Trigger.Enable = dec.ReadU32()
	cfg.Trigger.Level = dec.ReadU32()
	cfg.Trigger.Sense = dec.ReadU32()
	return dec.Err()
}

// Server drives a logic analyzer on behalf of a TDAQ run control.
type Server struct {
	name string
	odir string        // output directory for capture files
	poll time.Duration // run state polling period
	opts []la.Option

	mu  sync.Mutex
	dev *la.Device
	cfg Config
	run bool // acquisition armed

	n    int // number of uploaded captures
	data chan []byte
}

// Option configures a Server.
type Option func(*Server)

// WithOutputDir stores each capture under dir, in addition to publishing
// it on the /capture output.
// Capture files are named after the server and the capture index.
func WithOutputDir(dir string) Option {
	return func(srv *Server) {
		srv.odir = dir
	}
}

// WithPollInterval sets the run state polling period.
func WithPollInterval(d time.Duration) Option {
	return func(srv *Server) {
		srv.poll = d
	}
}

// WithDeviceOptions sets the options used to open the logic analyzer.
func WithDeviceOptions(opts ...la.Option) Option {
	return func(srv *Server) {
		srv.opts = append(srv.opts, opts...)
	}
}

func New(name string, opts ...Option) *Server {
	srv := &Server{
		name: name,
		poll: 100 * time.Millisecond,
		cfg:  DefaultConfig,
		data: make(chan []byte, 16),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Captures returns the number of captures uploaded since the last /init.
func (srv *Server) Captures() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.n
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg := DefaultConfig
	if len(req.Body) > 0 {
		err := cfg.UnmarshalTDAQ(req.Body)
		if err != nil {
			ctx.Msg.Errorf("could not decode configuration: %+v", err)
			return fmt.Errorf("could not decode configuration: %w", err)
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		dev, err := openDevice(srv.opts...)
		if err != nil {
			ctx.Msg.Errorf("could not open device: %+v", err)
			return fmt.Errorf("could not open device: %w", err)
		}
		srv.dev = dev
		ctx.Msg.Infof("opened %s", dev.Model())
	}

	err := srv.dev.SetThreshold(cfg.Threshold)
	if err != nil {
		ctx.Msg.Errorf("could not set threshold: %+v", err)
		return fmt.Errorf("could not set threshold: %w", err)
	}

	if srv.odir != "" {
		err = os.MkdirAll(srv.odir, 0755)
		if err != nil {
			return fmt.Errorf("could not create output dir %q: %w", srv.odir, err)
		}
	}

	srv.cfg = cfg
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("could not initialize: %w", lax.ErrUnavailable)
	}

	err := srv.dev.StopSampling()
	if err != nil {
		return fmt.Errorf("could not initialize: %w", err)
	}

	err = srv.dev.ConfigureTrigger(srv.cfg.Trigger)
	if err != nil {
		return fmt.Errorf("could not initialize: %w", err)
	}

	smpl, err := srv.dev.ConfigureSampling(srv.cfg.Rate, srv.cfg.Samples, srv.cfg.PreTrigger)
	if err != nil {
		ctx.Msg.Errorf("could not configure sampling: %+v", err)
		return fmt.Errorf("could not initialize: %w", err)
	}
	ctx.Msg.Infof(
		"sampling: rate=%g Hz, divisor=%d, samples=%d, pre-trigger=%d",
		smpl.Rate, smpl.Divisor, smpl.Samples, smpl.PreTrigger,
	)

	srv.n = 0
	srv.drain()
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.run = false
	srv.n = 0
	srv.drain()
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Stop()
	if err != nil {
		return fmt.Errorf("could not reset: %w", err)
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("could not start acquisition: %w", lax.ErrUnavailable)
	}

	err := srv.dev.Start()
	if err != nil {
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	srv.run = true
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	ctx.Msg.Debugf("received /stop command... -> n=%d", srv.n)
	srv.run = false
	if srv.dev == nil {
		return nil
	}

	err := srv.dev.Stop()
	if err != nil {
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.run = false
	if srv.dev == nil {
		return nil
	}

	err := srv.dev.Close()
	srv.dev = nil
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

// Capture publishes the uploaded captures.
func (srv *Server) Capture(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

// Run polls the run state of an armed acquisition and uploads each
// completed capture.
func (srv *Server) Run(ctx tdaq.Context) error {
	if srv.poll <= 0 {
		ctx.Msg.Errorf("invalid polling interval %v", srv.poll)
		return fmt.Errorf("invalid polling interval %v: %w", srv.poll, lax.ErrInvalidParameter)
	}

	tck := time.NewTicker(srv.poll)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			err := srv.step(ctx)
			if err != nil {
				ctx.Msg.Errorf("could not process acquisition: %+v", err)
				return err
			}
		}
	}
}

func (srv *Server) step(ctx tdaq.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if !srv.run || srv.dev == nil {
		return nil
	}

	state, _, err := srv.dev.PollState()
	if err != nil {
		return err
	}
	if state != la.Done {
		return nil
	}

	err = srv.readout(ctx)
	if err != nil {
		return err
	}

	return srv.dev.Start()
}

func (srv *Server) readout(ctx tdaq.Context) error {
	err := srv.dev.Stop()
	if err != nil {
		return err
	}

	info, err := srv.dev.ReadCaptureInfo()
	if err != nil {
		return err
	}

	data, err := srv.dev.Upload(ctx.Ctx, int(info.NumRepPackets), int(info.WritePos))
	if err != nil {
		if !errors.Is(err, lax.ErrIncompleteTransfer) {
			return fmt.Errorf("could not upload capture: %w", err)
		}
		ctx.Msg.Warnf("capture %d truncated: %+v", srv.n, err)
	}
	srv.n++

	if srv.odir != "" {
		fname := filepath.Join(srv.odir, fmt.Sprintf("%s-%06d.bin", srv.name, srv.n))
		err = os.WriteFile(fname, data, 0644)
		if err != nil {
			return fmt.Errorf("could not write capture file: %w", err)
		}
	}

	select {
	case srv.data <- data:
	default:
		ctx.Msg.Warnf("output queue full, dropping capture %d", srv.n)
	}
	return nil
}

func (srv *Server) drain() {
	for {
		select {
		case <-srv.data:
		default:
			return
		}
	}
}
