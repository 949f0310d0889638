// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lax-sh is an interactive shell to inspect and drive a logic
// analyzer.
//
// Usage: lax-sh [OPTIONS]
//
// Example:
//
//	$> lax-sh -model LA2016 -db lax
//	lax> state
//	state: idle (0x85e9)
//	lax> thresh 1.65
//	lax> rd 0x68 4
//	0x68: 6b 02 f2 00
//	lax> last
//	capture 42: file="captures/2021-03-04T15-16-17.bin" model=LA2016 rate=100000 Hz samples=500000 pre-trigger=40%
//	  n-rep=101235 n-rep-before-trigger=40120 write-pos=0x0021c4a4 bytes=323952 time=2021-03-04T15:16:17Z
//	lax> quit
package main // import "github.com/go-lpc/lax/cmd/lax-sh"

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/capdb"
	"github.com/go-lpc/lax/la"
)

type captureStore interface {
	LastCapture(ctx context.Context) (capdb.Capture, error)
	Close() error
}

var (
	openDevice = la.Open
	openDB     = func(name string) (captureStore, error) {
		return capdb.Open(name)
	}
)

var errQuit = errors.New("lax-sh: quit")

func main() {
	log.SetPrefix("lax-sh: ")
	log.SetFlags(0)

	var (
		model  = flag.String("model", "LA2016", "logic analyzer model (LA1016, LA2016)")
		nib    = flag.Bool("nibble", false, "use nibble run state decoding")
		hist   = flag.String("hist", histFile(), "path to history file")
		dbname = flag.String("db", "", "name of the capture database (disabled if empty)")
	)

	flag.Parse()

	m, err := la.LookupModel(*model)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid model: %+v", err)
	}

	dec := la.SentinelDecoder
	if *nib {
		dec = la.NibbleDecoder
	}

	dev, err := openDevice(
		la.WithModel(m),
		la.WithStateDecoder(dec),
		la.WithLogger(log.New(os.Stdout, "lax-sh: ", 0)),
	)
	if err != nil {
		log.Fatalf("could not open device: %+v", err)
	}
	defer dev.Close()

	sh := newShell(os.Stdout, dev)
	if *dbname != "" {
		db, err := openDB(*dbname)
		if err != nil {
			log.Fatalf("could not open capture db: %+v", err)
		}
		defer db.Close()
		sh.db = db
	}

	err = repl(sh, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close device: %+v", err)
	}
}

func histFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".lax_history")
}

func repl(sh *shell, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not create history file: %+v", err)
				return
			}
			defer f.Close()
			_, err = term.WriteHistory(f)
			if err != nil {
				log.Printf("could not write history file: %+v", err)
			}
		}()
	}

	for {
		line, err := term.Prompt("lax> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

type command struct {
	usage string
	help  string
	nargs int // minimum number of arguments
	run   func(sh *shell, args []string) error
}

type shell struct {
	w    io.Writer
	dev  *la.Device
	db   captureStore // optional capture log
	cmds map[string]command
}

func newShell(w io.Writer, dev *la.Device) *shell {
	sh := &shell{w: w, dev: dev}
	sh.cmds = map[string]command{
		"help":           {"help", "display this help", 0, (*shell).cmdHelp},
		"quit":           {"quit", "leave the shell", 0, (*shell).cmdQuit},
		"rd":             {"rd ADDR N", "read N registers starting at ADDR", 2, (*shell).cmdRead},
		"wr":             {"wr ADDR B...", "write bytes to registers starting at ADDR", 2, (*shell).cmdWrite},
		"state":          {"state", "display the run state", 0, (*shell).cmdState},
		"trig":           {"trig", "display whether the trigger condition was met", 0, (*shell).cmdTrig},
		"start":          {"start", "start an acquisition", 0, (*shell).cmdStart},
		"stop":           {"stop", "stop the current acquisition", 0, (*shell).cmdStop},
		"info":           {"info", "display the capture info", 0, (*shell).cmdInfo},
		"thresh":         {"thresh V", "set the input threshold (V)", 1, (*shell).cmdThresh},
		"pwm":            {"pwm CH FREQ DUTY", "configure user PWM output CH (Hz, %)", 3, (*shell).cmdPWM},
		"pwm-en":         {"pwm-en on|off on|off", "enable or disable user PWM outputs", 2, (*shell).cmdPWMEnable},
		"ee":             {"ee ADDR N", "dump N EEPROM bytes starting at ADDR", 2, (*shell).cmdEEPROM},
		"auth-serial":    {"auth-serial", "request the authentication chip serial", 0, (*shell).cmdAuthSerial},
		"auth-challenge": {"auth-challenge", "send the known challenge to the authentication chip", 0, (*shell).cmdAuthChallenge},
		"last":           {"last", "display the last logged capture", 0, (*shell).cmdLast},
		"version":        {"version", "display the lax version", 0, (*shell).cmdVersion},
	}
	sh.cmds["exit"] = sh.cmds["quit"]
	return sh
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for k := range sh.cmds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (sh *shell) complete(line string) []string {
	var o []string
	for _, name := range sh.names() {
		if strings.HasPrefix(name, line) {
			o = append(o, name)
		}
	}
	return o
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}

	cmd, ok := sh.cmds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (see help)", toks[0])
	}
	args := toks[1:]
	if len(args) < cmd.nargs {
		return fmt.Errorf("missing arguments (usage: %s)", cmd.usage)
	}
	return cmd.run(sh, args)
}

func (sh *shell) cmdHelp(args []string) error {
	for _, name := range sh.names() {
		if name == "exit" {
			continue
		}
		cmd := sh.cmds[name]
		fmt.Fprintf(sh.w, "  %-22s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func (sh *shell) cmdQuit(args []string) error {
	return errQuit
}

func (sh *shell) cmdRead(args []string) error {
	addr, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := parseInt(args[1])
	if err != nil {
		return err
	}

	p, err := sh.dev.Read(addr, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "0x%02x: % x\n", addr, p)
	return nil
}

func (sh *shell) cmdWrite(args []string) error {
	addr, err := parseInt(args[0])
	if err != nil {
		return err
	}
	p, err := parseBytes(args[1:])
	if err != nil {
		return err
	}
	return sh.dev.Write(addr, p)
}

func (sh *shell) cmdState(args []string) error {
	state, raw, err := sh.dev.PollState()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "state: %v (0x%04x)\n", state, raw)
	return nil
}

func (sh *shell) cmdTrig(args []string) error {
	ok, err := sh.dev.Triggered()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "triggered: %v\n", ok)
	return nil
}

func (sh *shell) cmdStart(args []string) error {
	return sh.dev.Start()
}

func (sh *shell) cmdStop(args []string) error {
	return sh.dev.Stop()
}

func (sh *shell) cmdInfo(args []string) error {
	ci, err := sh.dev.ReadCaptureInfo()
	if err != nil {
		return err
	}
	fmt.Fprintf(
		sh.w, "n-rep=%d n-rep-before-trigger=%d write-pos=0x%08x bytes=%d\n",
		ci.NumRepPackets, ci.NumRepPacketsBeforeTrigger, ci.WritePos, ci.Bytes(),
	)
	return nil
}

func (sh *shell) cmdThresh(args []string) error {
	v, err := parseFloat(args[0])
	if err != nil {
		return err
	}
	return sh.dev.SetThreshold(v)
}

func (sh *shell) cmdPWM(args []string) error {
	ch, err := parseInt(args[0])
	if err != nil {
		return err
	}
	freq, err := parseFloat(args[1])
	if err != nil {
		return err
	}
	duty, err := parseFloat(args[2])
	if err != nil {
		return err
	}

	pwm, err := sh.dev.SetPWM(ch, freq, duty)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "PWM%d: freq=%g Hz, duty=%g%%\n", ch, pwm.Freq(), pwm.DutyCycle())
	return nil
}

func (sh *shell) cmdPWMEnable(args []string) error {
	var on [2]bool
	for i, arg := range args[:2] {
		switch arg {
		case "on", "1":
			on[i] = true
		case "off", "0":
			on[i] = false
		default:
			return fmt.Errorf("invalid PWM%d switch %q: %w", i+1, arg, lax.ErrInvalidParameter)
		}
	}
	return sh.dev.EnablePWM(on[0], on[1])
}

func (sh *shell) cmdEEPROM(args []string) error {
	addr, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := parseInt(args[1])
	if err != nil {
		return err
	}

	p, err := sh.dev.EEPROMRead(addr, n)
	if err != nil {
		return err
	}
	fmt.Fprint(sh.w, hex.Dump(p))
	return nil
}

func (sh *shell) cmdAuthSerial(args []string) error {
	resp, err := sh.dev.AuthSerial()
	if err != nil {
		return err
	}
	fmt.Fprint(sh.w, hex.Dump(resp))
	return nil
}

func (sh *shell) cmdAuthChallenge(args []string) error {
	resp, err := sh.dev.AuthChallenge()
	if err != nil {
		return err
	}
	fmt.Fprint(sh.w, hex.Dump(resp))
	return nil
}

func (sh *shell) cmdLast(args []string) error {
	if sh.db == nil {
		return fmt.Errorf("no capture db (see -db): %w", lax.ErrUnavailable)
	}

	c, err := sh.db.LastCapture(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(
		sh.w, "capture %d: file=%q model=%s rate=%g Hz samples=%d pre-trigger=%d%%\n",
		c.ID, c.File, c.Model, c.Rate, c.Samples, c.PreTrigger,
	)
	fmt.Fprintf(
		sh.w, "  n-rep=%d n-rep-before-trigger=%d write-pos=0x%08x bytes=%d time=%s\n",
		c.NumRep, c.NumRepTrig, c.WritePos, c.Bytes, c.Time.UTC().Format(time.RFC3339),
	)
	return nil
}

func (sh *shell) cmdVersion(args []string) error {
	v, sum := lax.Version()
	if v == "" {
		v = "(devel)"
	}
	if sum != "" {
		v += " " + sum
	}
	fmt.Fprintf(sh.w, "lax %s\n", v)
	return nil
}

func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, lax.ErrInvalidParameter)
	}
	return int(v), nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, lax.ErrInvalidParameter)
	}
	return v, nil
}

func parseBytes(args []string) ([]byte, error) {
	p := make([]byte, len(args))
	for i, s := range args {
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: %w", s, lax.ErrInvalidParameter)
		}
		p[i] = byte(v)
	}
	return p, nil
}
