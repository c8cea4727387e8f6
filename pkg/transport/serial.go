// Package transport binds the programmer wire protocol to physical links: the
// programmer's USB CDC serial port, opened either through the operating
// system's serial driver or directly over its bulk endpoints.
package transport

import (
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultBaudRate is ignored by the CDC firmware but required by serial drivers.
const DefaultBaudRate = 115200

// Serial is a programmer reached through a serial port device node.
type Serial struct {
	port serial.Port
	name string
}

// OpenSerial opens the named port (for example /dev/ttyACM0 or COM4) in 8N1
// mode with DTR raised so the firmware starts answering.
func OpenSerial(name string) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate:          DefaultBaudRate,
		DataBits:          8,
		Parity:            serial.NoParity,
		StopBits:          serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{DTR: true, RTS: false},
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: open %s", name)
	}
	return &Serial{port: port, name: name}, nil
}

// Name returns the device node the port was opened from.
func (s *Serial) Name() string {
	return s.name
}

func (s *Serial) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, errors.Wrapf(err, "transport: read %s", s.name)
	}
	return n, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, errors.Wrapf(err, "transport: write %s", s.name)
	}
	if err := s.port.Drain(); err != nil {
		return n, errors.Wrapf(err, "transport: drain %s", s.name)
	}
	return n, nil
}

// ResetInputBuffer discards bytes received but not yet read.
func (s *Serial) ResetInputBuffer() error {
	return errors.Wrap(s.port.ResetInputBuffer(), "transport: purge")
}

// SetReadTimeout bounds a single Read call. A Read that times out returns
// zero bytes and no error.
func (s *Serial) SetReadTimeout(t time.Duration) error {
	return errors.Wrap(s.port.SetReadTimeout(t), "transport: set read timeout")
}

// Close releases the port.
func (s *Serial) Close() error {
	return errors.Wrapf(s.port.Close(), "transport: close %s", s.name)
}
