// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lpc/lax/internal/mmap"
)

var (
	now = time.Now
)

// FileName returns the name of the capture file for a capture taken at t.
func FileName(t time.Time) string {
	return t.Format("2006-01-02T15-04-05") + ".bin"
}

// WriteFile stores the uploaded capture data under dir.
// The file is named after the current local time.
// WriteFile returns the name of the created file.
func WriteFile(dir string, data []byte) (string, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("capture: could not create output dir %q: %w", dir, err)
	}

	fname := filepath.Join(dir, FileName(now()))
	err = os.WriteFile(fname, data, 0644)
	if err != nil {
		return "", fmt.Errorf("capture: could not write capture file: %w", err)
	}

	return fname, nil
}

// File is a read-only capture file.
type File struct {
	name string
	h    *mmap.Handle
}

// Open opens the named capture file for reading.
func Open(fname string) (*File, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("capture: could not open capture file: %w", err)
	}
	return &File{name: fname, h: h}, nil
}

// Name returns the name of the file.
func (f *File) Name() string { return f.name }

// Len returns the size of the file in bytes.
func (f *File) Len() int { return f.h.Len() }

// Packets returns the number of complete packets in the file.
func (f *File) Packets() int { return f.h.Len() / PacketSize }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.h.ReadAt(p, off)
}

// Decoder returns a decoder reading the packets of the file.
func (f *File) Decoder() *Decoder {
	return NewDecoder(bytes.NewReader(f.h.Bytes()))
}

func (f *File) Close() error {
	err := f.h.Close()
	if err != nil {
		return fmt.Errorf("capture: could not close capture file %q: %w", f.name, err)
	}
	return nil
}

var (
	_ io.ReaderAt = (*File)(nil)
	_ io.Closer   = (*File)(nil)
)
