package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// Programmer USB identifiers.
const (
	VendorID  = 0x2E8A
	ProductID = 0x000A
)

const (
	// CDC class-specific request that sets DTR/RTS on the communication interface.
	cdcSetControlLineState = 0x22
	cdcRequestType         = 0x21
	cdcLineDTR             = 0x01
	cdcLineRTS             = 0x02

	defaultReadTimeout = 100 * time.Millisecond
	controlTimeout     = time.Second
)

// USB talks to the programmer's CDC data interface directly, bypassing the
// operating system's serial driver.
type USB struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packet  []byte
	pending []byte
	timeout time.Duration
}

// OpenUSB opens the first programmer matching vid:pid.
func OpenUSB(vid, pid uint16) (*USB, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, errors.Wrap(err, "transport: usb open")
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: programmer not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// The kernel CDC-ACM driver usually owns the interface on Linux.
	_ = dev.SetAutoDetach(true)

	u := &USB{ctx: ctx, dev: dev, timeout: defaultReadTimeout}
	if err := u.claim(); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

// claim picks the CDC data interface for bulk traffic and raises DTR on its
// companion communication interface.
func (u *USB) claim() error {
	cfgNum, err := u.dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := u.dev.Config(cfgNum)
	if err != nil {
		return errors.Wrap(err, "transport: usb config")
	}
	u.cfg = cfg

	dataIntf, commIntf := -1, -1
	for _, desc := range cfg.Desc.Interfaces {
		if len(desc.AltSettings) == 0 {
			continue
		}
		switch desc.AltSettings[0].Class {
		case gousb.ClassData:
			if dataIntf < 0 {
				dataIntf = desc.Number
			}
		case gousb.ClassComm:
			if commIntf < 0 {
				commIntf = desc.Number
			}
		}
	}
	if dataIntf < 0 {
		return fmt.Errorf("transport: no CDC data interface")
	}

	intf, err := cfg.Interface(dataIntf, 0)
	if err != nil {
		return errors.Wrapf(err, "transport: claim interface %d", dataIntf)
	}
	u.intf = intf
	if err := u.findEndpoints(); err != nil {
		return err
	}

	if commIntf >= 0 {
		u.dev.ControlTimeout = controlTimeout
		if _, err := u.dev.Control(cdcRequestType, cdcSetControlLineState, cdcLineDTR|cdcLineRTS, uint16(commIntf), nil); err != nil {
			return errors.Wrap(err, "transport: set control line state")
		}
	}
	return nil
}

func (u *USB) findEndpoints() error {
	var outAddr, inAddr int
	for _, ep := range u.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && outAddr == 0 {
			outAddr = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionIn && inAddr == 0 {
			inAddr = ep.Number
			u.packet = make([]byte, ep.MaxPacketSize)
		}
	}
	if outAddr == 0 {
		return fmt.Errorf("transport: bulk OUT endpoint not found")
	}
	if inAddr == 0 {
		return fmt.Errorf("transport: bulk IN endpoint not found")
	}

	epOut, err := u.intf.OutEndpoint(outAddr)
	if err != nil {
		return errors.Wrap(err, "transport: open OUT endpoint")
	}
	epIn, err := u.intf.InEndpoint(inAddr)
	if err != nil {
		return errors.Wrap(err, "transport: open IN endpoint")
	}
	u.epOut, u.epIn = epOut, epIn
	return nil
}

func (u *USB) Write(p []byte) (int, error) {
	n, err := u.epOut.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "transport: usb write")
	}
	return n, nil
}

// Read returns buffered bytes from the last bulk packet, fetching a new packet
// when the buffer is empty. A packet that does not arrive within the read
// timeout yields zero bytes and no error, like a serial port read.
func (u *USB) Read(p []byte) (int, error) {
	if len(u.pending) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
		n, err := u.epIn.ReadContext(ctx, u.packet)
		cancel()
		if err != nil {
			if isTimeout(err) {
				return 0, nil
			}
			return 0, errors.Wrap(err, "transport: usb read")
		}
		u.pending = append(u.pending[:0], u.packet[:n]...)
	}
	n := copy(p, u.pending)
	u.pending = u.pending[n:]
	return n, nil
}

// ResetInputBuffer drops bytes already fetched from the IN endpoint.
func (u *USB) ResetInputBuffer() error {
	u.pending = u.pending[:0]
	return nil
}

// SetReadTimeout bounds how long Read waits for one bulk packet.
func (u *USB) SetReadTimeout(t time.Duration) error {
	if t <= 0 {
		t = defaultReadTimeout
	}
	u.timeout = t
	return nil
}

// Close releases USB resources.
func (u *USB) Close() error {
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.cfg != nil {
		u.cfg.Close()
		u.cfg = nil
	}
	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}
	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch err {
	case gousb.ErrorTimeout, gousb.TransferTimedOut, gousb.TransferCancelled:
		return true
	}
	return false
}
