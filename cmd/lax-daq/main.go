// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lax-daq runs a single acquisition on a logic analyzer and
// stores the captured data.
//
// The FPGA must have been configured beforehand (see lax-boot).
//
// Usage: lax-daq [OPTIONS]
//
// Example:
//
//	$> lax-daq -rate 1e5 -n 5e5 -pre 40 -o ./captures
//	lax-daq: sampling: rate=100000 Hz, divisor=2000, samples=500000, pre-trigger=200000
//	lax-daq: run state: pre-sampling (0x85e2)
//	lax-daq: run state: running (0x85ee)
//	lax-daq: run state: done (0x85ed)
//	lax-daq: capture info: n-rep=101235, n-rep-before-trigger=40120, write-pos=0x0021c4a4
//	lax-daq: capture stored in "captures/2021-03-04T15-16-17.bin" (323952 bytes)
package main // import "github.com/go-lpc/lax/cmd/lax-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/capdb"
	"github.com/go-lpc/lax/capture"
	"github.com/go-lpc/lax/la"
)

type captureLogger interface {
	InsertCapture(ctx context.Context, c capdb.Capture) (int64, error)
	Close() error
}

var (
	openDevice = la.Open
	openDB     = func(name string) (captureLogger, error) {
		return capdb.Open(name)
	}
)

type config struct {
	model   la.Model
	decoder la.StateDecoder
	rate    float64 // sample rate (Hz)
	samples int64
	pre     int // pre-trigger ratio (%)
	trigger la.TriggerConfig

	timeout time.Duration // acquisition timeout
	poll    time.Duration // run state polling period

	odir   string
	dbname string
}

func main() {
	log.SetPrefix("lax-daq: ")
	log.SetFlags(0)

	var (
		model   = flag.String("model", "LA2016", "logic analyzer model (LA1016, LA2016)")
		decoder = flag.String("decoder", "sentinel", "run state decoding (sentinel, nibble)")
		rate    = flag.Float64("rate", 1e5, "sample rate (Hz)")
		samples = flag.Float64("n", 5e5, "number of samples")
		pre     = flag.Int("pre", 40, "pre-trigger ratio (%)")
		chans   = flag.Uint("chans", 0xffff, "recorded channels mask")
		trigEn  = flag.Uint("trig", 0, "trigger enable mask")
		trigLvl = flag.Uint("trig-level", 0, "trigger type mask (0: edge, 1: level)")
		trigSns = flag.Uint("trig-sense", 0, "trigger sense mask (0: low/rising, 1: high/falling)")
		timeout = flag.Duration("timeout", 20*time.Second, "acquisition timeout")
		poll    = flag.Duration("poll", 100*time.Millisecond, "run state polling period")
		odir    = flag.String("o", "captures", "output directory")
		dbname  = flag.String("db", "", "name of the capture database (disabled if empty)")
	)

	flag.Parse()

	m, err := la.LookupModel(*model)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid model: %+v", err)
	}

	dec, err := stateDecoder(*decoder)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid run state decoder: %+v", err)
	}

	stop := make(chan os.Signal, 1)
	err = run(config{
		model:   m,
		decoder: dec,
		rate:    *rate,
		samples: int64(*samples),
		pre:     *pre,
		trigger: la.TriggerConfig{
			Channels: uint32(*chans),
			Enable:   uint32(*trigEn),
			Level:    uint32(*trigLvl),
			Sense:    uint32(*trigSns),
		},
		timeout: *timeout,
		poll:    *poll,
		odir:    *odir,
		dbname:  *dbname,
	}, stop)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

func stateDecoder(name string) (la.StateDecoder, error) {
	switch name {
	case "sentinel":
		return la.SentinelDecoder, nil
	case "nibble":
		return la.NibbleDecoder, nil
	}
	return nil, fmt.Errorf("unknown decoder %q: %w", name, lax.ErrInvalidParameter)
}

func run(cfg config, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	ctx := context.Background()
	wait, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var (
		grp  errgroup.Group
		done = make(chan struct{})
	)

	grp.Go(func() error {
		select {
		case <-stop:
			log.Printf("interrupted, stopping acquisition...")
			cancel()
		case <-done:
		}
		return nil
	})

	grp.Go(func() error {
		defer close(done)
		return acquire(ctx, wait, cfg)
	})

	return grp.Wait()
}

func acquire(ctx, wait context.Context, cfg config) error {
	msg := log.New(os.Stdout, "lax-daq: ", 0)

	dev, err := openDevice(
		la.WithModel(cfg.model),
		la.WithStateDecoder(cfg.decoder),
		la.WithLogger(msg),
	)
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	err = dev.StopSampling()
	if err != nil {
		return err
	}

	err = dev.ConfigureTrigger(cfg.trigger)
	if err != nil {
		return err
	}

	smpl, err := dev.ConfigureSampling(cfg.rate, cfg.samples, cfg.pre)
	if err != nil {
		return err
	}
	msg.Printf(
		"sampling: rate=%g Hz, divisor=%d, samples=%d, pre-trigger=%d",
		smpl.Rate, smpl.Divisor, smpl.Samples, smpl.PreTrigger,
	)

	beg := time.Now()
	err = dev.Start()
	if err != nil {
		return err
	}

	err = dev.WaitDone(wait, cfg.poll)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		msg.Printf("acquisition not done after %v: %+v", time.Since(beg), err)
	default:
		return err
	}

	err = dev.Stop()
	if err != nil {
		return err
	}

	info, err := dev.ReadCaptureInfo()
	if err != nil {
		return err
	}
	msg.Printf(
		"capture info: n-rep=%d, n-rep-before-trigger=%d, write-pos=0x%08x",
		info.NumRepPackets, info.NumRepPacketsBeforeTrigger, info.WritePos,
	)

	data, uerr := dev.Upload(ctx, int(info.NumRepPackets), int(info.WritePos))
	if uerr != nil && !errors.Is(uerr, lax.ErrIncompleteTransfer) {
		return fmt.Errorf("could not upload capture: %w", uerr)
	}

	fname, err := capture.WriteFile(cfg.odir, data)
	if err != nil {
		return err
	}
	msg.Printf("capture stored in %q (%d bytes)", fname, len(data))

	if cfg.dbname != "" {
		err = logCapture(ctx, cfg, smpl, info, fname, len(data), beg)
		if err != nil {
			return err
		}
	}

	if uerr != nil {
		return fmt.Errorf("could not upload whole capture: %w", uerr)
	}

	return dev.Close()
}

func logCapture(ctx context.Context, cfg config, smpl la.SampleConfig, info la.CaptureInfo, fname string, n int, beg time.Time) error {
	db, err := openDB(cfg.dbname)
	if err != nil {
		return fmt.Errorf("could not open capture db: %w", err)
	}
	defer db.Close()

	id, err := db.InsertCapture(ctx, capdb.Capture{
		File:       fname,
		Model:      cfg.model.Name,
		Rate:       smpl.Rate,
		Samples:    smpl.Samples,
		PreTrigger: cfg.pre,
		NumRep:     info.NumRepPackets,
		NumRepTrig: info.NumRepPacketsBeforeTrigger,
		WritePos:   info.WritePos,
		Bytes:      int64(n),
		Time:       beg,
	})
	if err != nil {
		return fmt.Errorf("could not log capture: %w", err)
	}
	log.Printf("capture logged (id=%d)", id)

	return db.Close()
}
