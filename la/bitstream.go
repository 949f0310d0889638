// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/fx2"
	"github.com/go-lpc/lax/internal/chunk"
)

const (
	bitMinSize   = 160000
	bitMaxSize   = 200000
	bitChunkSize = 4096
	bitPadSize   = 0x2d000 // bitstreams are streamed zero-padded to this size
)

// Bitstream describes a FPGA bitstream image.
type Bitstream struct {
	Name string
	CRC  uint32 // CRC-32 (IEEE) of the image
	Len  int    // image length

	// Obfuscated is the length announced to the bridge controller
	// before the bitstream upload.
	Obfuscated uint32
}

// Known returns whether the bitstream image has been recognized.
func (bs Bitstream) Known() bool { return bs.Name != unknownBitstream }

const unknownBitstream = "unknown"

// Bitstreams is the list of recognized bitstream images.
var Bitstreams = []Bitstream{
	{Name: "kingstvis-3.4.2", CRC: 0x31a1cffe, Len: 0x2d000, Obfuscated: 0x2b8ba},
}

// LookupBitstream returns the bitstream descriptor matching the provided
// checksum.
// Unknown images of n bytes announce their true length.
func LookupBitstream(crc uint32, n int) Bitstream {
	for _, bs := range Bitstreams {
		if bs.CRC == crc {
			return bs
		}
	}
	return Bitstream{
		Name:       unknownBitstream,
		CRC:        crc,
		Len:        n,
		Obfuscated: uint32(n),
	}
}

// LoadBitstream configures the FPGA with the provided bitstream image.
//
// The FPGA is held in reset during the upload and released once the
// bridge controller reported a successful load.
// On failure, the FPGA is left in reset.
func (dev *Device) LoadBitstream(ctx context.Context, img []byte) (Bitstream, error) {
	if n := len(img); n < bitMinSize || n > bitMaxSize {
		return Bitstream{}, fmt.Errorf(
			"la: invalid bitstream size %d (want [%d, %d]): %w",
			n, bitMinSize, bitMaxSize, lax.ErrSizeMismatch,
		)
	}

	bs := LookupBitstream(crc32.ChecksumIEEE(img), len(img))
	switch {
	case !bs.Known():
		dev.msg.Printf(
			"bitstream 0x%08x not recognized, announcing its true length (0x%x)",
			bs.CRC, bs.Obfuscated,
		)
	case bs.Len != len(img):
		return bs, fmt.Errorf(
			"la: bitstream %q (0x%08x) has length 0x%x (want 0x%x): %w",
			bs.Name, bs.CRC, len(img), bs.Len, lax.ErrIntegrity,
		)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.holdFPGA()
	if err != nil {
		return bs, err
	}

	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, bs.Obfuscated)
	err = dev.usb.VendorOut(fx2.ReqFPGAProgram, 0, p)
	if err != nil {
		return bs, fmt.Errorf("la: could not announce bitstream length: %w", err)
	}

	pad := bitPadSize
	if len(img) > pad {
		pad = len(img)
	}
	it := chunk.New(img, bitChunkSize, (pad+bitChunkSize-1)/bitChunkSize)
	for it.Next() {
		err = dev.bulkWrite(ctx, it.Chunk())
		if err != nil {
			return bs, fmt.Errorf(
				"la: could not upload bitstream chunk at 0x%05x: %w",
				it.Offset(), err,
			)
		}
	}

	resp, err := dev.usb.VendorIn(fx2.ReqFPGAProgram, 0, 1)
	if err != nil {
		return bs, fmt.Errorf("la: could not read bitstream load status: %w", err)
	}
	if resp[0] != 0 {
		return bs, fmt.Errorf(
			"la: invalid bitstream load status 0x%02x (want 0x00): %w",
			resp[0], lax.ErrLoadFailed,
		)
	}

	time.Sleep(dev.cfg.settle)
	err = dev.releaseFPGA()
	if err != nil {
		return bs, err
	}
	time.Sleep(dev.cfg.settle)

	dev.msg.Printf("bitstream %q (0x%08x) loaded", bs.Name, bs.CRC)
	return bs, nil
}

func (dev *Device) bulkWrite(ctx context.Context, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, dev.cfg.chunkTimeout)
	defer cancel()
	return dev.usb.BulkWrite(ctx, p)
}

// HoldFPGA asserts the FPGA reset line.
func (dev *Device) HoldFPGA() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.holdFPGA()
}

func (dev *Device) holdFPGA() error {
	err := dev.usb.VendorOut(fx2.ReqFPGAEnable, 0, nil)
	if err != nil {
		return fmt.Errorf("la: could not hold FPGA in reset: %w", err)
	}
	return nil
}

// ReleaseFPGA releases the FPGA reset line.
func (dev *Device) ReleaseFPGA() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.releaseFPGA()
}

func (dev *Device) releaseFPGA() error {
	err := dev.usb.VendorOut(fx2.ReqFPGAEnable, 1, nil)
	if err != nil {
		return fmt.Errorf("la: could not release FPGA reset: %w", err)
	}
	return nil
}
