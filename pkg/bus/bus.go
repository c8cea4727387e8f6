// Package bus defines the primitive operations a programmer performs on the
// parallel bus of the chip in its socket, and a remote implementation that
// carries them over the programmer wire protocol.
package bus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Rail selects one of the two adjustable supplies.
type Rail int

const (
	// VDD is the chip's logic supply.
	VDD Rail = iota
	// VPP is the programming (or erase) supply.
	VPP
)

func (r Rail) String() string {
	switch r {
	case VDD:
		return "VDD"
	case VPP:
		return "VPP"
	}
	return fmt.Sprintf("Rail(%d)", int(r))
}

// Pin names a socket pin a rail can be routed to.
type Pin int

const (
	PinA9 Pin = iota
	PinA18
	PinCE
	PinOE
	PinWE
	// PinVPP is the dedicated programming pin; VDD can be routed onto it.
	PinVPP
)

var pinNames = map[Pin]string{
	PinA9:  "A9",
	PinA18: "A18",
	PinCE:  "CE",
	PinOE:  "OE",
	PinWE:  "WE",
	PinVPP: "VPP",
}

func (p Pin) String() string {
	if name, ok := pinNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Pin(%d)", int(p))
}

// Address register limit: the programmer shifts out 24 address bits.
const MaxAddress = 0xFFFFFF

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("bus: closed")
	// ErrNoRoute is returned when a rail cannot be routed to the given pin.
	ErrNoRoute = errors.New("bus: no such rail route")
)

// RangeError reports an address outside the register or the configured size.
type RangeError struct {
	Address uint32
	Limit   uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("bus: address 0x%06X out of range (limit 0x%06X)", e.Address, e.Limit)
}

// Primitives are the atomic bus operations used by device algorithms.
//
// Control, address and data setters do nothing when the line already holds
// the requested value. The first failure is sticky: later calls return it
// without touching the link until the bus is closed.
type Primitives interface {
	SetCE(on bool) error
	SetOE(on bool) error
	SetWE(on bool) error

	AddrClr() error
	AddrInc() error
	AddrSet(addr uint32) error
	AddrGet() uint32

	DataClr() error
	DataSet(b byte) error
	DataSetW(w uint16) error
	DataGet() (byte, error)
	DataGetW() (uint16, error)

	RailCtrl(r Rail, on bool) error
	RailSetV(r Rail, v physic.ElectricPotential) error
	RailGetV(r Rail) (physic.ElectricPotential, error)
	RailGetDuty(r Rail) (float64, error)
	RailGetCalibration(r Rail) (float64, error)
	RailInitCalibration(r Rail) error
	RailSaveCalibration(r Rail, cal float64) error
	RailOnPin(r Rail, p Pin, on bool) error

	UsDelay(us uint32)
	MsDelay(ms uint32)

	// SetSize sets the number of addressable units. Data writes at or beyond
	// it are dropped and reads there return the blank value.
	SetSize(units uint32)
	Err() error
	Close() error
}

// Opener produces a fresh bus connection for one operation.
type Opener interface {
	Open() (Primitives, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() (Primitives, error)

// Open calls f.
func (f OpenerFunc) Open() (Primitives, error) {
	return f()
}
