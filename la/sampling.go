// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-lpc/lax"
)

// SampleConfig holds the sampling parameters of an acquisition.
type SampleConfig struct {
	Rate       float64 // achieved sample rate (Hz)
	Divisor    uint16  // sample clock divisor
	Samples    uint32  // number of samples
	PreTrigger uint32  // number of samples before the trigger
	PreBytes   uint32  // memory budget for pre-trigger samples
}

// NewSampleConfig computes the sampling parameters of an acquisition of
// count samples at the requested rate (Hz), pct percent of them being
// taken before the trigger.
//
// The sample clock divisor saturates at 0xffff: the achieved rate may
// differ from the requested one.
func NewSampleConfig(m Model, rate float64, count int64, pct int) (SampleConfig, error) {
	switch {
	case math.IsNaN(rate) || rate <= 0:
		return SampleConfig{}, fmt.Errorf(
			"la: invalid sample rate %g Hz: %w", rate, lax.ErrInvalidParameter,
		)
	case rate > m.MaxRate:
		return SampleConfig{}, fmt.Errorf(
			"la: invalid sample rate %g Hz (want ]0, %g] for %s): %w",
			rate, m.MaxRate, m.Name, lax.ErrOutOfRange,
		)
	case count <= 0 || count > math.MaxUint32:
		return SampleConfig{}, fmt.Errorf(
			"la: invalid number of samples %d (want [1, %d]): %w",
			count, uint32(math.MaxUint32), lax.ErrOutOfRange,
		)
	case pct < 0 || pct > 100:
		return SampleConfig{}, fmt.Errorf(
			"la: invalid pre-trigger ratio %d%% (want [0, 100]): %w",
			pct, lax.ErrOutOfRange,
		)
	}

	div := math.Floor(sampleClock/rate + 0.5)
	switch {
	case div > 0xffff:
		div = 0xffff
	case div < 1:
		div = 1
	}

	return SampleConfig{
		Rate:       sampleClock / div,
		Divisor:    uint16(div),
		Samples:    uint32(count),
		PreTrigger: uint32(int64(pct) * count / 100),
		PreBytes:   uint32(int64(pct)*MemSize/100) &^ 0xff,
	}, nil
}

func (cfg SampleConfig) encode() []byte {
	p := make([]byte, 16)
	binary.LittleEndian.PutUint32(p[0:], cfg.Samples)
	p[4] = 0
	binary.LittleEndian.PutUint32(p[5:], cfg.PreTrigger)
	binary.LittleEndian.PutUint32(p[9:], cfg.PreBytes)
	binary.LittleEndian.PutUint16(p[13:], cfg.Divisor)
	p[15] = 0
	return p
}

// ConfigureSampling programs the sampling parameters of the next
// acquisition.
// ConfigureSampling returns the achieved configuration.
func (dev *Device) ConfigureSampling(rate float64, count int64, pct int) (SampleConfig, error) {
	cfg, err := NewSampleConfig(dev.cfg.model, rate, count, pct)
	if err != nil {
		return cfg, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err = dev.write(RegSampling, cfg.encode())
	if err != nil {
		return cfg, fmt.Errorf("la: could not configure sampling: %w", err)
	}

	if cfg.Rate != rate {
		dev.msg.Printf("requested sample rate %g Hz, achieved %g Hz", rate, cfg.Rate)
	}
	return cfg, nil
}

// TriggerConfig holds the channel and trigger masks of an acquisition.
// Bit i of each mask refers to channel i.
type TriggerConfig struct {
	Channels uint32 // recorded channels
	Enable   uint32 // channels taking part in the trigger condition
	Level    uint32 // trigger type: 0=edge, 1=level
	Sense    uint32 // trigger sense: 0=low/rising, 1=high/falling
}

// DefaultTrigger records all 16 channels without any trigger condition.
var DefaultTrigger = TriggerConfig{Channels: 0xffff}

const chanMask = 0xffff

// ConfigureTrigger programs the channel and trigger masks of the next
// acquisition.
// The trigger fires when all enabled channel conditions are met.
func (dev *Device) ConfigureTrigger(cfg TriggerConfig) error {
	for _, v := range []struct {
		name string
		mask uint32
	}{
		{"channel", cfg.Channels},
		{"trigger", cfg.Enable},
		{"trigger type", cfg.Level},
		{"trigger sense", cfg.Sense},
	} {
		if v.mask&^chanMask != 0 {
			return fmt.Errorf(
				"la: invalid %s mask 0x%08x (want 16 channels): %w",
				v.name, v.mask, lax.ErrOutOfRange,
			)
		}
	}

	p := make([]byte, 16)
	binary.LittleEndian.PutUint32(p[0:], cfg.Channels)
	binary.LittleEndian.PutUint32(p[4:], cfg.Enable)
	binary.LittleEndian.PutUint32(p[8:], cfg.Level)
	binary.LittleEndian.PutUint32(p[12:], cfg.Sense)

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.write(RegTrigger, p)
	if err != nil {
		return fmt.Errorf("la: could not configure trigger: %w", err)
	}
	return nil
}
