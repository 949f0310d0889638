// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package la

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/lax"
	"github.com/go-lpc/lax/capture"
	"github.com/go-lpc/lax/fx2"
)

const uploadChunkSize = 1 << 20

// CaptureInfo describes the content of the capture memory after an
// acquisition.
type CaptureInfo struct {
	NumRepPackets              uint32 // number of recorded samples
	NumRepPacketsBeforeTrigger uint32 // number of samples recorded before the trigger
	WritePos                   uint32 // capture memory write pointer
}

// Aligned returns whether the number of recorded samples fills whole
// transfer packets.
func (ci CaptureInfo) Aligned() bool {
	return ci.NumRepPackets%capture.RecordsPerPacket == 0
}

// Bytes returns the number of bytes to upload.
func (ci CaptureInfo) Bytes() int {
	return capture.Size(int(ci.NumRepPackets))
}

// ReadCaptureInfo reads the capture information of the last acquisition.
func (dev *Device) ReadCaptureInfo() (CaptureInfo, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	p, err := dev.read(RegSampling, 12)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("la: could not read capture info: %w", err)
	}

	ci := CaptureInfo{
		NumRepPackets:              binary.LittleEndian.Uint32(p[0:]),
		NumRepPacketsBeforeTrigger: binary.LittleEndian.Uint32(p[4:]),
		WritePos:                   binary.LittleEndian.Uint32(p[8:]),
	}
	if !ci.Aligned() {
		dev.msg.Printf(
			"number of samples (%d) is not a multiple of %d",
			ci.NumRepPackets, capture.RecordsPerPacket,
		)
	}
	return ci, nil
}

// StartAddress returns the address of the first of the n bytes preceding
// the write pointer wpos, in a circular memory of the provided size.
func StartAddress(n, wpos, size int) (int, error) {
	if wpos < 0 || wpos > size-1 {
		return 0, fmt.Errorf(
			"la: invalid write position 0x%x (want [0, 0x%x]): %w",
			wpos, size-1, lax.ErrOutOfRange,
		)
	}
	if n < 0 || n > size-1 {
		return 0, fmt.Errorf(
			"la: invalid upload size %d (want [0, %d]): %w",
			n, size-1, lax.ErrOutOfRange,
		)
	}

	if n <= wpos {
		return wpos - n, nil
	}
	return wpos + size - n, nil
}

// Upload uploads the nrep samples preceding the write pointer wpos.
func (dev *Device) Upload(ctx context.Context, nrep, wpos int) ([]byte, error) {
	return dev.UploadBytes(ctx, capture.Size(nrep), wpos)
}

// UploadBytes uploads the n bytes preceding the write pointer wpos from
// the capture memory.
//
// When the transfer stops early, UploadBytes returns a
// *lax.IncompleteTransferError holding the received bytes.
func (dev *Device) UploadBytes(ctx context.Context, n, wpos int) ([]byte, error) {
	start, err := StartAddress(n, wpos, MemSize)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		dev.msg.Printf("upload of 0 bytes requested, ignoring")
		return []byte{}, nil
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.msg.Printf("reading %d bytes starting from address 0x%x", n, start)

	err = dev.usb.VendorOut(fx2.ReqBulkReset, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("la: could not reset bulk transfer: %w", err)
	}

	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p[0:], uint32(start))
	binary.LittleEndian.PutUint32(p[4:], uint32(n))
	err = dev.write(RegUpload, p)
	if err != nil {
		return nil, fmt.Errorf("la: could not program upload window: %w", err)
	}

	err = dev.usb.VendorOut(fx2.ReqBulkStart, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("la: could not start bulk transfer: %w", err)
	}

	buf := make([]byte, n)
	got := 0
	for got < n {
		end := got + uploadChunkSize
		if end > n {
			end = n
		}
		var m int
		m, err = dev.bulkRead(ctx, buf[got:end])
		got += m
		if err != nil || m == 0 {
			break
		}
	}

	if got != n {
		return buf[:got], &lax.IncompleteTransferError{
			Op:   "la: upload",
			Want: n,
			Data: buf[:got],
			Err:  err,
		}
	}
	return buf, nil
}

func (dev *Device) bulkRead(ctx context.Context, p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dev.cfg.uploadTimeout)
	defer cancel()
	return dev.usb.BulkRead(ctx, p)
}
