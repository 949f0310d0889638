// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fx2

import (
	"fmt"
	"hash/crc32"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/internal/chunk"
)

const (
	fwMinSize   = 1000
	fwMaxSize   = 20000
	fwChunkSize = 1024
	fwCPUCS     = 0xe600 // CPU control and status register
)

// Patch is a byte-level edit of a firmware image.
type Patch struct {
	Offset int
	Data   []byte
}

// Firmware describes a bridge controller firmware image.
type Firmware struct {
	Name  string
	CRC   uint32 // CRC-32 (IEEE) of the image
	Patch *Patch // bitstream length interlock bypass, if known
}

// Known returns whether the firmware image has been recognized.
func (fw Firmware) Known() bool { return fw.Name != unknownFirmware }

const unknownFirmware = "unknown"

// Firmwares is the list of recognized firmware images.
var Firmwares = []Firmware{
	{
		Name: "kingstvis-3.4.2",
		CRC:  0x720551a9,
		// jump over the bitstream length check.
		Patch: &Patch{Offset: 0x0e30, Data: []byte{0x02, 0x0e, 0x81}},
	},
}

// LookupFirmware returns the firmware descriptor matching the provided
// checksum, or an unknown descriptor.
func LookupFirmware(crc uint32) Firmware {
	for _, fw := range Firmwares {
		if fw.CRC == crc {
			return fw
		}
	}
	return Firmware{Name: unknownFirmware, CRC: crc}
}

// LoadFirmware uploads the firmware image img into the bridge controller
// RAM and runs it.
// If patch is true and the image is recognized, its patch is applied on a
// copy of img before the upload.
//
// LoadFirmware returns the descriptor of the uploaded image.
// Unrecognized images are loaded as is.
func (dev *Device) LoadFirmware(img []byte, patch bool) (Firmware, error) {
	if n := len(img); n < fwMinSize || n > fwMaxSize {
		return Firmware{}, fmt.Errorf(
			"fx2: invalid firmware size %d (want [%d, %d]): %w",
			n, fwMinSize, fwMaxSize, lax.ErrSizeMismatch,
		)
	}

	fw := LookupFirmware(crc32.ChecksumIEEE(img))
	switch {
	case !fw.Known():
		dev.msg.Printf("firmware 0x%08x not recognized, loading it as is", fw.CRC)
	case patch && fw.Patch != nil:
		if end := fw.Patch.Offset + len(fw.Patch.Data); end > len(img) {
			return fw, fmt.Errorf(
				"fx2: firmware %q patch [0x%x, 0x%x) outside image (size=%d): %w",
				fw.Name, fw.Patch.Offset, end, len(img), lax.ErrIntegrity,
			)
		}
		img = append([]byte(nil), img...)
		copy(img[fw.Patch.Offset:], fw.Patch.Data)
		dev.msg.Printf("firmware %q (0x%08x): patch applied", fw.Name, fw.CRC)
	default:
		dev.msg.Printf("firmware %q (0x%08x): patch not applied", fw.Name, fw.CRC)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.vendorOut(ReqFirmware, fwCPUCS, []byte{1})
	if err != nil {
		return fw, fmt.Errorf("fx2: could not reset bridge controller: %w", err)
	}

	it := chunk.New(img, fwChunkSize, 0)
	for it.Next() {
		off := it.Offset()
		err = dev.vendorOut(ReqFirmware, uint16(off), it.Chunk())
		if err != nil {
			return fw, fmt.Errorf("fx2: could not load firmware chunk at 0x%04x: %w", off, err)
		}
	}

	err = dev.vendorOut(ReqFirmware, fwCPUCS, []byte{0})
	if err != nil {
		return fw, fmt.Errorf("fx2: could not run bridge controller: %w", err)
	}

	return fw, nil
}
