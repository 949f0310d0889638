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

const (
	threshMin = -4.0 // V
	threshMax = +4.0 // V

	threshDutyMin = 10
	threshDutyMax = 1100
)

// ThresholdDuties returns the two threshold PWM duties programming the
// input threshold to the provided voltage.
//
// The low duty drives the input offset DAC and sel selects its range.
// The mapping is a piecewise-linear fit of the analog front-end, accurate
// to a few tens of millivolts.
func ThresholdDuties(volts float64) (low, sel uint16, err error) {
	if math.IsNaN(volts) || volts < threshMin || volts > threshMax {
		return 0, 0, fmt.Errorf(
			"la: invalid threshold %g V (want [%g, %g]): %w",
			volts, threshMin, threshMax, lax.ErrOutOfRange,
		)
	}

	var duty float64
	switch {
	case volts >= 2.9:
		sel = 0x0000 // off
		duty = 302*volts - 363
	case volts <= -0.4:
		sel = 0x02d7
		duty = 302*volts + 1090
	default:
		sel = 0x00f2
		duty = 302*volts + 121
	}
	duty = math.Max(threshDutyMin, math.Min(threshDutyMax, duty))

	return uint16(math.Round(duty)), sel, nil
}

// SetThreshold sets the input threshold of all channels.
func (dev *Device) SetThreshold(volts float64) error {
	low, sel, err := ThresholdDuties(volts)
	if err != nil {
		return err
	}

	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], low)
	binary.LittleEndian.PutUint16(p[2:], sel)

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err = dev.write(RegThreshold, p)
	if err != nil {
		return fmt.Errorf("la: could not set threshold to %g V: %w", volts, err)
	}
	return nil
}
