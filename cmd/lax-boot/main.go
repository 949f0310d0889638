// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lax-boot brings up a logic analyzer.
//
// lax-boot loads the bridge controller firmware, waits for the device
// to re-enumerate, configures the FPGA and sets the default input
// threshold and user PWM outputs.
//
// Usage: lax-boot [OPTIONS]
//
// Example:
//
//	$> lax-boot -fw ./kingst-la-01a2.fw -bit ./kingst-LA2016.bitstream -pwm
package main // import "github.com/go-lpc/lax/cmd/lax-boot"

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/lax/fx2"
	"github.com/go-lpc/lax/la"
)

var (
	openBridge = func(msg *log.Logger) (*fx2.Device, error) {
		return fx2.Open(fx2.VendorID, fx2.ProductID, fx2.WithLogger(msg))
	}
	openDevice = la.Open
)

type config struct {
	fw    string        // bridge controller firmware
	patch bool          // apply known firmware patches
	renum time.Duration // re-enumeration delay
	bit   string        // FPGA bitstream

	model  la.Model
	thresh float64 // input threshold (V)
	pwm    bool    // enable user PWM outputs
	auth   bool    // display EEPROM and authentication chip responses

	timeout time.Duration
}

func main() {
	log.SetPrefix("lax-boot: ")
	log.SetFlags(0)

	var (
		fw     = flag.String("fw", "", "path to bridge controller firmware")
		patch  = flag.Bool("patch", false, "apply known firmware patches")
		renum  = flag.Duration("renum", 2*time.Second, "time to wait for the device to re-enumerate")
		bit    = flag.String("bit", "", "path to FPGA bitstream")
		model  = flag.String("model", "LA2016", "logic analyzer model (LA1016, LA2016)")
		thresh = flag.Float64("thresh", 1.65, "input threshold (V)")
		pwm    = flag.Bool("pwm", false, "enable user PWM outputs (PWM1: 1 kHz, PWM2: 100 kHz)")
		auth   = flag.Bool("auth", false, "display EEPROM and authentication chip responses")
		tmo    = flag.Duration("timeout", 30*time.Second, "timeout for the whole bring-up")
	)

	flag.Parse()

	m, err := la.LookupModel(*model)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid model: %+v", err)
	}

	if *fw == "" && *bit == "" {
		flag.Usage()
		log.Fatalf("missing path to firmware or bitstream")
	}

	err = run(config{
		fw:      *fw,
		patch:   *patch,
		renum:   *renum,
		bit:     *bit,
		model:   m,
		thresh:  *thresh,
		pwm:     *pwm,
		auth:    *auth,
		timeout: *tmo,
	})
	if err != nil {
		log.Fatalf("could not boot %s: %+v", m.Name, err)
	}
}

func run(cfg config) error {
	msg := log.New(os.Stdout, "lax-boot: ", 0)

	if cfg.fw != "" {
		err := loadFirmware(msg, cfg)
		if err != nil {
			return err
		}
	}

	if cfg.bit == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	img, err := os.ReadFile(cfg.bit)
	if err != nil {
		return fmt.Errorf("could not read bitstream: %w", err)
	}

	dev, err := openDevice(la.WithModel(cfg.model), la.WithLogger(msg))
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	bs, err := dev.LoadBitstream(ctx, img)
	if err != nil {
		return fmt.Errorf("could not load bitstream: %w", err)
	}
	if !bs.Known() {
		msg.Printf("bitstream %q not recognized, it may work but has not been tested", cfg.bit)
	}

	state, raw, err := dev.PollState()
	if err != nil {
		return fmt.Errorf("could not read run state: %w", err)
	}
	if state != la.Idle {
		msg.Printf("run state is 0x%04x (%v) but should be idle", raw, state)
	}

	err = dev.SetThreshold(cfg.thresh)
	if err != nil {
		return fmt.Errorf("could not set threshold: %w", err)
	}

	if cfg.pwm {
		err = setupPWM(dev)
		if err != nil {
			return err
		}
	}

	if cfg.auth {
		err = dumpAuth(msg, dev)
		if err != nil {
			return err
		}
	}

	return dev.Close()
}

func loadFirmware(msg *log.Logger, cfg config) error {
	img, err := os.ReadFile(cfg.fw)
	if err != nil {
		return fmt.Errorf("could not read firmware: %w", err)
	}

	usb, err := openBridge(msg)
	if err != nil {
		return fmt.Errorf("could not open bridge controller: %w", err)
	}
	defer usb.Close()

	fw, err := usb.LoadFirmware(img, cfg.patch)
	if err != nil {
		return fmt.Errorf("could not load firmware: %w", err)
	}
	if !fw.Known() {
		msg.Printf("firmware %q not recognized, it may work but has not been tested", cfg.fw)
	}

	err = usb.Close()
	if err != nil {
		return fmt.Errorf("could not close bridge controller: %w", err)
	}

	msg.Printf("waiting %v for the device to re-enumerate...", cfg.renum)
	time.Sleep(cfg.renum)
	return nil
}

func setupPWM(dev *la.Device) error {
	err := dev.EnablePWM(false, false)
	if err != nil {
		return fmt.Errorf("could not disable PWM outputs: %w", err)
	}

	for _, pwm := range []struct {
		ch   int
		freq float64
		duty float64
	}{
		{1, 1e3, 50},
		{2, 100e3, 50},
	} {
		_, err = dev.SetPWM(pwm.ch, pwm.freq, pwm.duty)
		if err != nil {
			return fmt.Errorf("could not configure PWM%d: %w", pwm.ch, err)
		}
	}

	err = dev.EnablePWM(true, true)
	if err != nil {
		return fmt.Errorf("could not enable PWM outputs: %w", err)
	}
	return nil
}

func dumpAuth(msg *log.Logger, dev *la.Device) error {
	for _, blk := range []struct {
		addr int
		n    int
	}{
		{0x20, 4},
		{0x08, 8},
	} {
		p, err := dev.EEPROMRead(blk.addr, blk.n)
		if err != nil {
			return fmt.Errorf("could not read EEPROM: %w", err)
		}
		msg.Printf("EEPROM[0x%02x:0x%02x]:\n%s", blk.addr, blk.addr+blk.n, hex.Dump(p))
	}

	resp, err := dev.AuthSerial()
	if err != nil {
		return fmt.Errorf("could not read authentication chip serial: %w", err)
	}
	msg.Printf("authentication chip serial response:\n%s", hex.Dump(resp))

	resp, err = dev.AuthChallenge()
	if err != nil {
		return fmt.Errorf("could not authenticate: %w", err)
	}
	msg.Printf("authentication chip challenge response:\n%s", hex.Dump(resp))

	return nil
}
