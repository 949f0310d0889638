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

// PWM holds the settings of a user PWM output, in PWM clock ticks.
type PWM struct {
	Period uint32
	Duty   uint32
}

// NewPWM returns the PWM settings closest to the requested frequency (Hz)
// and duty cycle (%).
func NewPWM(freq, duty float64) (PWM, error) {
	if math.IsNaN(freq) || freq <= 0 || freq > pwmClock {
		return PWM{}, fmt.Errorf(
			"la: invalid PWM frequency %g Hz (want ]0, %g]): %w",
			freq, pwmClock, lax.ErrInvalidParameter,
		)
	}
	if math.IsNaN(duty) || duty < 0 || duty > 100 {
		return PWM{}, fmt.Errorf(
			"la: invalid PWM duty cycle %g%% (want [0, 100]): %w",
			duty, lax.ErrInvalidParameter,
		)
	}

	period := math.Floor(pwmClock/freq + 0.5)
	if period > math.MaxUint32 {
		return PWM{}, fmt.Errorf(
			"la: invalid PWM frequency %g Hz (period overflow): %w",
			freq, lax.ErrOutOfRange,
		)
	}

	return PWM{
		Period: uint32(period),
		Duty:   uint32(math.Floor(period*duty/100 + 0.5)),
	}, nil
}

// Freq returns the output frequency in Hz.
func (pwm PWM) Freq() float64 {
	return pwmClock / float64(pwm.Period)
}

// DutyCycle returns the output duty cycle in %.
func (pwm PWM) DutyCycle() float64 {
	return 100 * float64(pwm.Duty) / float64(pwm.Period)
}

// SetPWM programs the user PWM channel ch (1 or 2).
// SetPWM returns the achieved settings.
func (dev *Device) SetPWM(ch int, freq, duty float64) (PWM, error) {
	var addr int
	switch ch {
	case 1:
		addr = RegPWM1
	case 2:
		addr = RegPWM2
	default:
		return PWM{}, fmt.Errorf(
			"la: invalid PWM channel %d (want 1 or 2): %w",
			ch, lax.ErrInvalidParameter,
		)
	}

	pwm, err := NewPWM(freq, duty)
	if err != nil {
		return pwm, err
	}

	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p[0:], pwm.Period)
	binary.LittleEndian.PutUint32(p[4:], pwm.Duty)

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err = dev.write(addr, p)
	if err != nil {
		return pwm, fmt.Errorf("la: could not configure PWM%d: %w", ch, err)
	}
	dev.msg.Printf(
		"PWM%d: period=0x%08x duty=0x%08x (freq=%.8g Hz, duty=%.8g%%)",
		ch, pwm.Period, pwm.Duty, pwm.Freq(), pwm.DutyCycle(),
	)
	return pwm, nil
}

// EnablePWM switches the user PWM outputs on or off.
func (dev *Device) EnablePWM(ch1, ch2 bool) error {
	var en byte
	if ch1 {
		en |= 1
	}
	if ch2 {
		en |= 2
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.write(RegPWMEnable, []byte{en})
	if err != nil {
		return fmt.Errorf("la: could not enable PWM outputs: %w", err)
	}
	return nil
}
