// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-lpc/lax"
)

// RunState is the state of the acquisition state machine.
type RunState uint8

const (
	Unknown RunState = iota
	Idle
	PreSampling
	WaitingForTrigger
	Running
	Done
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PreSampling:
		return "pre-sampling"
	case WaitingForTrigger:
		return "waiting-for-trigger"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return "unknown"
}

// StateDecoder decodes the 16-bit run-state register.
type StateDecoder func(raw uint16) RunState

// SentinelDecoder decodes the full 16-bit run-state words.
func SentinelDecoder(raw uint16) RunState {
	switch raw {
	case 0x85e9:
		return Idle
	case 0x85e2:
		return PreSampling
	case 0x85ea:
		return WaitingForTrigger
	case 0x85ee:
		return Running
	case 0x85ed:
		return Done
	}
	return Unknown
}

// NibbleDecoder decodes the low 4 bits of the run-state register.
//
//	bit 0: done
//	bit 1: writing to memory
//	bit 2: triggered
//	bit 3: post-trigger sampling
func NibbleDecoder(raw uint16) RunState {
	switch raw & 0xf {
	case 0x9:
		return Idle
	case 0x2:
		return PreSampling
	case 0xa:
		return WaitingForTrigger
	case 0xe:
		return Running
	case 0xd:
		return Done
	}
	return Unknown
}

// Start starts an acquisition.
func (dev *Device) Start() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.write(RegRun, []byte{0x03})
	if err != nil {
		return fmt.Errorf("la: could not start acquisition: %w", err)
	}
	return nil
}

// Stop stops the current acquisition and prepares the capture transfer.
// Stop may be called in any state.
func (dev *Device) Stop() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.write(RegRun+1, []byte{0x01})
	if err != nil {
		return fmt.Errorf("la: could not prepare capture transfer: %w", err)
	}

	err = dev.write(RegRun, []byte{0x00})
	if err != nil {
		return fmt.Errorf("la: could not stop acquisition: %w", err)
	}
	return nil
}

// StopSampling disables sampling.
func (dev *Device) StopSampling() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.write(RegRun+3, []byte{0x00})
	if err != nil {
		return fmt.Errorf("la: could not stop sampling: %w", err)
	}
	return nil
}

// PollState reads and decodes the run-state register.
// PollState also returns the raw register value.
func (dev *Device) PollState() (RunState, uint16, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	p, err := dev.read(RegRun, 2)
	if err != nil {
		return Unknown, 0, fmt.Errorf("la: could not read run state: %w", err)
	}
	raw := binary.LittleEndian.Uint16(p)
	return dev.cfg.state(raw), raw, nil
}

// Triggered returns whether the trigger condition has been met.
func (dev *Device) Triggered() (bool, error) {
	_, raw, err := dev.PollState()
	if err != nil {
		return false, err
	}
	return raw&0x4 != 0, nil
}

// WaitDone polls the run state every interval until the acquisition is
// done or ctx is done.
// Each run state change is logged.
// The device is left untouched when ctx expires.
func (dev *Device) WaitDone(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf(
			"la: invalid polling interval %v: %w",
			interval, lax.ErrInvalidParameter,
		)
	}

	tck := time.NewTicker(interval)
	defer tck.Stop()

	last := Unknown
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("la: could not wait for acquisition: %w", err)
		}

		state, raw, err := dev.PollState()
		if err != nil {
			return err
		}
		if state != last {
			dev.msg.Printf("run state: %v (0x%04x)", state, raw)
			last = state
		}
		if state == Done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf(
				"la: could not wait for acquisition (state=%v, raw=0x%04x): %w",
				state, raw, ctx.Err(),
			)
		case <-tck.C:
		}
	}
}
