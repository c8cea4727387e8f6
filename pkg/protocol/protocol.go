package protocol

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Parameter values for the boolean opcodes.
const (
	ParamOff = 0x00
	ParamOn  = 0x01
)

// StatusEncoding names the pair of bytes a programmer generation uses to
// acknowledge a request.
type StatusEncoding struct {
	Name string
	OK   byte
	NOK  byte
}

var (
	// StatusCurrent is used by the current firmware generation.
	StatusCurrent = StatusEncoding{Name: "current", OK: 0xA1, NOK: 0xA0}
	// StatusLegacy is used by the first firmware generation.
	StatusLegacy = StatusEncoding{Name: "legacy", OK: 0x01, NOK: 0x00}
)

var (
	// ErrParamCount is returned when a request carries the wrong number of
	// parameter bytes for its opcode.
	ErrParamCount = errors.New("protocol: parameter count mismatch")
	// ErrStatus is returned when the programmer answers NOK.
	ErrStatus = errors.New("protocol: command rejected")
	// ErrBadStatus is returned when the status byte is neither OK nor NOK.
	ErrBadStatus = errors.New("protocol: unexpected status byte")
	// ErrShortResponse is returned when fewer result bytes than expected arrive.
	ErrShortResponse = errors.New("protocol: response too short")
	// ErrVoltageRange is returned for voltages that cannot be encoded.
	ErrVoltageRange = errors.New("protocol: voltage out of range")
)

// EncodeRequest frames op with its parameters. The parameter count must match
// the opcode table exactly.
func EncodeRequest(op Opcode, params ...byte) ([]byte, error) {
	info := Lookup(op)
	if len(params) != info.Params {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrParamCount, op, info.Params, len(params))
	}
	req := make([]byte, 0, 1+len(params))
	req = append(req, byte(op))
	req = append(req, params...)
	return req, nil
}

// RequestLength returns the total request size for the opcode in the first byte.
func RequestLength(op Opcode) int {
	return 1 + Lookup(op).Params
}

// DecodeResponse validates a response frame for op and returns its result bytes.
func DecodeResponse(enc StatusEncoding, op Opcode, resp []byte) ([]byte, error) {
	if len(resp) < 1 {
		return nil, fmt.Errorf("%w: %s: no status", ErrShortResponse, op)
	}
	switch resp[0] {
	case enc.OK:
	case enc.NOK:
		return nil, fmt.Errorf("%w: %s", ErrStatus, op)
	default:
		return nil, fmt.Errorf("%w: %s: 0x%02X", ErrBadStatus, op, resp[0])
	}
	info := Lookup(op)
	if len(resp)-1 < info.Result {
		return nil, fmt.Errorf("%w: %s needs %d result bytes, got %d", ErrShortResponse, op, info.Result, len(resp)-1)
	}
	return resp[1 : 1+info.Result], nil
}

// EncodeResponse builds the frame a programmer sends back.
func EncodeResponse(enc StatusEncoding, ok bool, result ...byte) []byte {
	if !ok {
		return []byte{enc.NOK}
	}
	resp := make([]byte, 0, 1+len(result))
	resp = append(resp, enc.OK)
	return append(resp, result...)
}

// EncodeBool returns the single parameter byte for on/off opcodes.
func EncodeBool(on bool) byte {
	if on {
		return ParamOn
	}
	return ParamOff
}

// DecodeBool interprets an on/off parameter byte.
func DecodeBool(b byte) bool {
	return b != ParamOff
}

// EncodeWord splits v into two bytes, most significant first.
func EncodeWord(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// DecodeWord joins two bytes, most significant first.
func DecodeWord(b []byte) uint16 {
	if len(b) < 2 {
		if len(b) == 1 {
			return uint16(b[0])
		}
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// EncodeAddress returns the three address bytes used by AddrSet.
func EncodeAddress(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// DecodeAddress joins up to three address bytes, most significant first.
func DecodeAddress(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

const hundredth = 10 * physic.MilliVolt

// EncodeVoltage encodes v as an integer byte followed by hundredths of a volt,
// rounded to the nearest hundredth: 12.34V becomes 0x0C, 0x22.
func EncodeVoltage(v physic.ElectricPotential) ([]byte, error) {
	if v < 0 {
		return nil, fmt.Errorf("%w: %s", ErrVoltageRange, v)
	}
	cents := int64((v + hundredth/2) / hundredth)
	if cents/100 > 0xFF {
		return nil, fmt.Errorf("%w: %s", ErrVoltageRange, v)
	}
	return []byte{byte(cents / 100), byte(cents % 100)}, nil
}

// DecodeVoltage reverses EncodeVoltage.
func DecodeVoltage(b []byte) physic.ElectricPotential {
	if len(b) < 2 {
		return 0
	}
	return physic.ElectricPotential(b[0])*physic.Volt + physic.ElectricPotential(b[1])*hundredth
}

// EncodeFloat applies the voltage framing to a plain number, as used for the
// PWM duty cycle.
func EncodeFloat(f float64) []byte {
	if f < 0 {
		f = 0
	}
	cents := int(f*100 + 0.5)
	if cents > 0xFF*100+99 {
		cents = 0xFF*100 + 99
	}
	return []byte{byte(cents / 100), byte(cents % 100)}
}

// DecodeFloat reverses EncodeFloat.
func DecodeFloat(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	return float64(b[0]) + float64(b[1])/100
}
