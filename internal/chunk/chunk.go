// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chunk splits byte slices into fixed-size chunks.
package chunk // import "github.com/go-lpc/lax/internal/chunk"

// Iter iterates over the fixed-size chunks of a byte slice.
//
//	it := chunk.New(data, 1024, 0)
//	for it.Next() {
//		p := it.Chunk()
//	}
type Iter struct {
	data []byte
	size int // chunk size
	n    int // number of chunks to yield, 0 to stop at end of data

	i   int // index of the next chunk
	cur []byte
	pad []byte // zero-padded scratch chunk
}

// New returns an iterator over the size-bytes chunks of data.
//
// If n is zero, iteration stops at the end of data and the last chunk
// may be shorter than size.
// Otherwise, exactly n chunks of size bytes are yielded, zero-padding
// the tail of data (and emitting all-zero chunks past its end).
func New(data []byte, size, n int) *Iter {
	if size <= 0 {
		panic("chunk: invalid chunk size")
	}
	if n < 0 {
		panic("chunk: invalid number of chunks")
	}
	return &Iter{data: data, size: size, n: n}
}

// Len returns the number of chunks a full iteration yields.
func (it *Iter) Len() int {
	if it.n > 0 {
		return it.n
	}
	return (len(it.data) + it.size - 1) / it.size
}

// Next advances to the next chunk, which is then available through Chunk.
// Next returns false when the iteration is over.
func (it *Iter) Next() bool {
	if it.i >= it.Len() {
		it.cur = nil
		return false
	}

	beg := it.i * it.size
	end := beg + it.size
	it.i++

	switch {
	case end <= len(it.data):
		it.cur = it.data[beg:end]
	case it.n == 0:
		it.cur = it.data[beg:]
	default:
		if it.pad == nil {
			it.pad = make([]byte, it.size)
		}
		n := 0
		if beg < len(it.data) {
			n = copy(it.pad, it.data[beg:])
		}
		for i := range it.pad[n:] {
			it.pad[n+i] = 0
		}
		it.cur = it.pad
	}
	return true
}

// Chunk returns the current chunk.
// The returned slice is only valid until the next call to Next.
func (it *Iter) Chunk() []byte {
	return it.cur
}

// Offset returns the offset in data of the current chunk.
func (it *Iter) Offset() int {
	if it.i == 0 {
		return 0
	}
	return (it.i - 1) * it.size
}

// Reset rewinds the iterator to the first chunk.
func (it *Iter) Reset() {
	it.i = 0
	it.cur = nil
}
