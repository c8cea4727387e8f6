package protocol

import "fmt"

// Opcode is the first byte of every request sent to the programmer.
type Opcode byte

// Power rail (VDD) commands.
const (
	OpNop        Opcode = 0x00
	OpVddCtrl    Opcode = 0x01
	OpVddSetV    Opcode = 0x02
	OpVddGetV    Opcode = 0x03
	OpVddGetDuty Opcode = 0x04
	OpVddGetCal  Opcode = 0x05
	OpVddInitCal Opcode = 0x06
	OpVddSaveCal Opcode = 0x07
	OpVddOnVpp   Opcode = 0x08
)

// Programming rail (VPP) commands, including pin routing.
const (
	OpVppCtrl    Opcode = 0x11
	OpVppSetV    Opcode = 0x12
	OpVppGetV    Opcode = 0x13
	OpVppGetDuty Opcode = 0x14
	OpVppGetCal  Opcode = 0x15
	OpVppInitCal Opcode = 0x16
	OpVppSaveCal Opcode = 0x17
	OpVppOnA9    Opcode = 0x18
	OpVppOnA18   Opcode = 0x19
	OpVppOnCE    Opcode = 0x1A
	OpVppOnOE    Opcode = 0x1B
	OpVppOnWE    Opcode = 0x1C
)

// Control bus, address register and data register commands.
const (
	OpBusCE    Opcode = 0x21
	OpBusOE    Opcode = 0x22
	OpBusWE    Opcode = 0x23
	OpAddrClr  Opcode = 0x31
	OpAddrInc  Opcode = 0x32
	OpAddrSet  Opcode = 0x33
	OpAddrSetB Opcode = 0x34
	OpAddrSetW Opcode = 0x35
	OpDataClr  Opcode = 0x41
	OpDataSet  Opcode = 0x42
	OpDataSetW Opcode = 0x43
	OpDataGet  Opcode = 0x44
	OpDataGetW Opcode = 0x45
)

// OpcodeInfo describes the fixed framing of one opcode.
type OpcodeInfo struct {
	Code   Opcode
	Name   string
	Params int // parameter bytes following the opcode
	Result int // result bytes following the status byte
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:        {OpNop, "Nop", 0, 0},
	OpVddCtrl:    {OpVddCtrl, "VddCtrl", 1, 0},
	OpVddSetV:    {OpVddSetV, "VddSetV", 2, 0},
	OpVddGetV:    {OpVddGetV, "VddGetV", 0, 2},
	OpVddGetDuty: {OpVddGetDuty, "VddGetDuty", 0, 2},
	OpVddGetCal:  {OpVddGetCal, "VddGetCal", 0, 2},
	OpVddInitCal: {OpVddInitCal, "VddInitCal", 0, 0},
	OpVddSaveCal: {OpVddSaveCal, "VddSaveCal", 2, 0},
	OpVddOnVpp:   {OpVddOnVpp, "VddOnVpp", 1, 0},
	OpVppCtrl:    {OpVppCtrl, "VppCtrl", 1, 0},
	OpVppSetV:    {OpVppSetV, "VppSetV", 2, 0},
	OpVppGetV:    {OpVppGetV, "VppGetV", 0, 2},
	OpVppGetDuty: {OpVppGetDuty, "VppGetDuty", 0, 2},
	OpVppGetCal:  {OpVppGetCal, "VppGetCal", 0, 2},
	OpVppInitCal: {OpVppInitCal, "VppInitCal", 0, 0},
	OpVppSaveCal: {OpVppSaveCal, "VppSaveCal", 2, 0},
	OpVppOnA9:    {OpVppOnA9, "VppOnA9", 1, 0},
	OpVppOnA18:   {OpVppOnA18, "VppOnA18", 1, 0},
	OpVppOnCE:    {OpVppOnCE, "VppOnCE", 1, 0},
	OpVppOnOE:    {OpVppOnOE, "VppOnOE", 1, 0},
	OpVppOnWE:    {OpVppOnWE, "VppOnWE", 1, 0},
	OpBusCE:      {OpBusCE, "BusCE", 1, 0},
	OpBusOE:      {OpBusOE, "BusOE", 1, 0},
	OpBusWE:      {OpBusWE, "BusWE", 1, 0},
	OpAddrClr:    {OpAddrClr, "AddrClr", 0, 0},
	OpAddrInc:    {OpAddrInc, "AddrInc", 0, 0},
	OpAddrSet:    {OpAddrSet, "AddrSet", 3, 0},
	OpAddrSetB:   {OpAddrSetB, "AddrSetB", 1, 0},
	OpAddrSetW:   {OpAddrSetW, "AddrSetW", 2, 0},
	OpDataClr:    {OpDataClr, "DataClr", 0, 0},
	OpDataSet:    {OpDataSet, "DataSet", 1, 0},
	OpDataSetW:   {OpDataSetW, "DataSetW", 2, 0},
	OpDataGet:    {OpDataGet, "DataGet", 0, 1},
	OpDataGetW:   {OpDataGetW, "DataGetW", 0, 2},
}

// Lookup returns the framing for code. Codes missing from the table resolve to
// the Nop entry, so an unknown opcode frames as zero parameters and zero result
// bytes instead of failing.
func Lookup(code Opcode) OpcodeInfo {
	if info, ok := opcodeTable[code]; ok {
		return info
	}
	return opcodeTable[OpNop]
}

// Known reports whether code is part of the opcode table.
func Known(code Opcode) bool {
	_, ok := opcodeTable[code]
	return ok
}

// Opcodes returns every known opcode in ascending order.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(opcodeTable))
	for code := 0; code <= 0xFF; code++ {
		if _, ok := opcodeTable[Opcode(code)]; ok {
			out = append(out, Opcode(code))
		}
	}
	return out
}

func (o Opcode) String() string {
	if info, ok := opcodeTable[o]; ok {
		return info.Name
	}
	return fmt.Sprintf("Opcode(0x%02X)", byte(o))
}
