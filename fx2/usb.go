// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fx2

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-lpc/lax"
	"github.com/golang/glog"
	"github.com/google/gousb"
)

const (
	bulkOutEP = 2 // bitstream
	bulkInEP  = 6 // capture data (0x86)
)

var (
	usbOpen = usbOpenImpl
)

// usbConn is a gousb backed connection.
type usbConn struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	out *gousb.OutEndpoint
	in  *gousb.InEndpoint
}

func usbOpenImpl(vid, pid uint16, cfg config) (Conn, error) {
	var (
		conn = &usbConn{ctx: gousb.NewContext()}
		err  error
	)

	glog.V(1).Infof("opening USB device 0x%04x:0x%04x", vid, pid)
	conn.dev, err = conn.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if conn.dev == nil && err == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not find USB device: %w", lax.ErrUnavailable)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open USB device: %w", err)
	}
	conn.dev.ControlTimeout = cfg.ctlTimeout

	err = conn.dev.SetAutoDetach(true)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not enable kernel driver auto-detach: %w", err)
	}

	num, err := conn.dev.ActiveConfigNum()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not get active USB configuration: %w", err)
	}

	conn.cfg, err = conn.dev.Config(num)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not claim USB configuration %d: %w", num, err)
	}

	conn.intf, err = conn.cfg.Interface(cfg.intf, 0)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not claim USB interface %d: %w", cfg.intf, err)
	}

	conn.out, err = conn.intf.OutEndpoint(bulkOutEP)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open bulk OUT endpoint %d: %w", bulkOutEP, err)
	}

	conn.in, err = conn.intf.InEndpoint(bulkInEP)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open bulk IN endpoint %d: %w", bulkInEP, err)
	}

	return conn, nil
}

func (conn *usbConn) Close() error {
	glog.V(1).Infof("closing USB device")
	if conn.intf != nil {
		conn.intf.Close()
		conn.intf = nil
	}
	var err error
	if conn.cfg != nil {
		err = conn.cfg.Close()
		conn.cfg = nil
	}
	if conn.dev != nil {
		if e := conn.dev.Close(); e != nil && err == nil {
			err = e
		}
		conn.dev = nil
	}
	if conn.ctx != nil {
		if e := conn.ctx.Close(); e != nil && err == nil {
			err = e
		}
		conn.ctx = nil
	}
	return err
}

func (conn *usbConn) Control(rType, req uint8, val, idx uint16, data []byte) (int, error) {
	n, err := conn.dev.Control(rType, req, val, idx, data)
	if err != nil {
		return n, usbError(err)
	}
	dir := "OUT"
	if rType&gousb.ControlIn != 0 {
		dir = "IN"
	}
	if glog.V(2) {
		glog.Infof("[usb-ctrl %s]: req=%v, val=0x%04x, data=\n%s",
			dir, Request(req), val, hex.Dump(data[:n]),
		)
	}
	return n, nil
}

func (conn *usbConn) WriteBulk(ctx context.Context, p []byte) (int, error) {
	n, err := conn.out.WriteContext(ctx, p)
	if glog.V(2) {
		glog.Infof("[usb-bulk OUT]: wrote %d bytes. data[:32]:\n%s", n, hex.Dump(head(p[:n], 32)))
	}
	if err != nil {
		return n, usbError(err)
	}
	return n, nil
}

func (conn *usbConn) ReadBulk(ctx context.Context, p []byte) (int, error) {
	n, err := conn.in.ReadContext(ctx, p)
	if glog.V(2) {
		glog.Infof("[usb-bulk IN]: read %d bytes. data[:32]:\n%s", n, hex.Dump(head(p[:n], 32)))
	}
	if err != nil {
		return n, usbError(err)
	}
	return n, nil
}

func head(p []byte, n int) []byte {
	if len(p) < n {
		return p
	}
	return p[:n]
}

// usbError tags libusb and context timeouts with lax.ErrTimeout.
func usbError(err error) error {
	switch {
	case errors.Is(err, gousb.ErrorTimeout),
		errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, gousb.TransferCancelled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", lax.ErrTimeout, err)
	case errors.Is(err, gousb.ErrorNoDevice):
		return fmt.Errorf("%w: %v", lax.ErrUnavailable, err)
	}
	return err
}

var (
	_ Conn = (*usbConn)(nil)
)
