// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lax-dump decodes and displays logic analyzer capture files.
//
// Usage: lax-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> lax-dump -n 2 ./captures/2021-03-04T15-16-17.bin
//	=== ./captures/2021-03-04T15-16-17.bin ===
//	Bytes:      1600000
//	Packets:     100000
//	  seq=0x00 0x00ff x  12 | 0x00fe x   3 | 0x00ff x 255 | 0x00ff x 255 | 0x00fd x   1
//	  seq=0x01 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255
//	Samples:       1801
package main // import "github.com/go-lpc/lax/cmd/lax-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/lax/capture"
)

const usage = `lax-dump decodes and displays logic analyzer capture files.

Usage: lax-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> lax-dump -n 2 ./captures/2021-03-04T15-16-17.bin
 === ./captures/2021-03-04T15-16-17.bin ===
 Bytes:      1600000
 Packets:     100000
   seq=0x00 0x00ff x  12 | 0x00fe x   3 | 0x00ff x 255 | 0x00ff x 255 | 0x00fd x   1
   seq=0x01 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255 | 0x00ff x 255
 Samples:       1801

Options:
`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("lax-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("lax-dump", flag.ExitOnError)

		npkts = fset.Int("n", -1, "number of packets to display (-1: all)")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input capture file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *npkts)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, npkts int) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := capture.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	fmt.Fprintf(wbuf, "=== %s ===\n", fname)
	fmt.Fprintf(wbuf, "Bytes:   % 10d\n", f.Len())
	fmt.Fprintf(wbuf, "Packets: % 10d\n", f.Packets())

	var (
		dec     = f.Decoder()
		samples = 0
	)
loop:
	for i := 0; npkts < 0 || i < npkts; i++ {
		var pkt capture.Packet
		err := dec.Decode(&pkt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode packet: %w", err)
		}
		samples += pkt.Samples()

		fmt.Fprintf(wbuf, "  seq=0x%02x", pkt.Seq)
		for j, rec := range pkt.Records {
			if j > 0 {
				fmt.Fprintf(wbuf, " |")
			}
			fmt.Fprintf(wbuf, " 0x%04x x %3d", rec.State, rec.Reps)
		}
		fmt.Fprintf(wbuf, "\n")
	}
	fmt.Fprintf(wbuf, "Samples: % 10d\n", samples)

	return nil
}
