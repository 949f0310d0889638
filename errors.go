// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lax

import (
	"errors"
	"fmt"
)

// Error kinds reported by the lax packages.
// Errors returned by fx2, la and capture wrap one of these values and
// can be tested with errors.Is.
var (
	ErrOutOfRange         = errors.New("parameter out of range")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrIntegrity          = errors.New("integrity error")
	ErrTimeout            = errors.New("transfer timeout")
	ErrLoadFailed         = errors.New("load failed")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrUnavailable        = errors.New("device unavailable")
)

// IncompleteTransferError describes a transfer that delivered fewer bytes
// than requested.
// Data holds the bytes actually received.
type IncompleteTransferError struct {
	Op   string // operation that was interrupted
	Want int    // number of requested bytes
	Data []byte // received bytes
	Err  error  // underlying cause, if any
}

func (e *IncompleteTransferError) Error() string {
	msg := fmt.Sprintf(
		"%s: %v (got=%d, want=%d)",
		e.Op, ErrIncompleteTransfer, len(e.Data), e.Want,
	)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IncompleteTransferError) Unwrap() error { return e.Err }

func (e *IncompleteTransferError) Is(target error) bool {
	return target == ErrIncompleteTransfer
}
