// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/xerrors"
)

// Decoder reads transfer packets from an underlying data source.
type Decoder struct {
	r   io.Reader
	buf []byte
	n   int64 // number of decoded packets
}

// NewDecoder creates a decoder that reads transfer packets from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, PacketSize),
	}
}

// Decode reads the next packet.
// Decode returns io.EOF when no more packets are available.
func (dec *Decoder) Decode(pkt *Packet) error {
	_, err := io.ReadFull(dec.r, dec.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return xerrors.Errorf("capture: could not read packet %d: %w", dec.n, err)
	}

	for i := range pkt.Records {
		p := dec.buf[i*RecordSize:]
		pkt.Records[i] = Record{
			State: binary.LittleEndian.Uint16(p),
			Reps:  p[2],
		}
	}
	pkt.Seq = dec.buf[PacketSize-1]
	dec.n++

	return nil
}

// Encoder writes transfer packets to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, PacketSize),
	}
}

// Encode writes the packet to the stream.
func (enc *Encoder) Encode(pkt *Packet) error {
	for i, rec := range pkt.Records {
		p := enc.buf[i*RecordSize:]
		binary.LittleEndian.PutUint16(p, rec.State)
		p[2] = rec.Reps
	}
	enc.buf[PacketSize-1] = pkt.Seq

	_, err := enc.w.Write(enc.buf)
	if err != nil {
		return xerrors.Errorf("capture: could not write packet: %w", err)
	}
	return nil
}
