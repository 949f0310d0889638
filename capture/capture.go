// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture holds types to decode, encode and store the data
// uploaded from a logic analyzer capture memory.
//
// Samples are run-length encoded: each record holds the state of the 16
// channels and a repeat count.
// Five records and a sequence byte make up a 16-byte transfer packet.
package capture // import "github.com/go-lpc/lax/capture"

const (
	RecordsPerPacket = 5
	RecordSize       = 3
	PacketSize       = RecordsPerPacket*RecordSize + 1
)

// Record is a run-length encoded sample.
type Record struct {
	State uint16 // channels state, bit i for channel i
	Reps  uint8  // repeat count
}

// Packet is a transfer packet.
type Packet struct {
	Records [RecordsPerPacket]Record
	Seq     uint8 // sequence number
}

// Size returns the number of bytes needed to transfer nrep records.
// Trailing records that do not fill a whole packet are not transferred.
func Size(nrep int) int {
	return nrep / RecordsPerPacket * PacketSize
}

// Samples returns the sum of the repeat counts of the packet records.
func (pkt *Packet) Samples() int {
	n := 0
	for _, rec := range pkt.Records {
		n += int(rec.Reps)
	}
	return n
}
