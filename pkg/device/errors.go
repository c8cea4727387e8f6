package device

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/bus"
)

var (
	// ErrBusy is returned when an operation or a settings change is attempted
	// while another operation runs.
	ErrBusy = errors.New("device: operation in progress")
	// ErrCanceled is reported after Cancel stops an operation.
	ErrCanceled = errors.New("device: canceled")
	// ErrNoID is returned by GetID when the chip does not answer in
	// identification mode.
	ErrNoID = errors.New("device: no identification response")
)

// TransportError wraps a failure of the link to the programmer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("device: %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RangeError reports an address outside the chip or the address register.
type RangeError struct {
	Address uint32
	Limit   uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("device: address 0x%06X out of range (limit 0x%06X)", e.Address, e.Limit)
}

// VerifyMismatchError reports the first unit that read back differently.
type VerifyMismatchError struct {
	Address  uint32
	Expected uint16
	Actual   uint16
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("device: verify mismatch at 0x%06X: expected 0x%02X, read 0x%02X", e.Address, e.Expected, e.Actual)
}

// AttemptsExhaustedError reports a unit that did not program within the
// configured number of attempts.
type AttemptsExhaustedError struct {
	Address  uint32
	Attempts int
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("device: 0x%06X not programmed after %d attempts", e.Address, e.Attempts)
}

// UnsupportedOperationError is returned for operations the chip family lacks.
type UnsupportedOperationError struct {
	Family string
	Op     string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("device: %s does not support %s", e.Family, e.Op)
}

// classify maps lower-layer failures onto the device error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		rerr *bus.RangeError
		derr *RangeError
		verr *VerifyMismatchError
		aerr *AttemptsExhaustedError
		uerr *UnsupportedOperationError
		terr *TransportError
	)
	switch {
	case errors.As(err, &rerr):
		return &RangeError{Address: rerr.Address, Limit: rerr.Limit}
	case errors.Is(err, ErrCanceled), errors.Is(err, ErrBusy), errors.Is(err, ErrNoID),
		errors.As(err, &derr), errors.As(err, &verr), errors.As(err, &aerr),
		errors.As(err, &uerr), errors.As(err, &terr):
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// failureAddress extracts the unit address an error refers to, if any.
func failureAddress(err error) (uint32, bool) {
	var (
		derr *RangeError
		verr *VerifyMismatchError
		aerr *AttemptsExhaustedError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Address, true
	case errors.As(err, &aerr):
		return aerr.Address, true
	case errors.As(err, &derr):
		return derr.Address, true
	}
	return 0, false
}
