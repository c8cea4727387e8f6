// Package matcher recognizes vendor command sequences written to a memory
// chip. Each chip family supplies a table of commands; the matcher walks
// Idle -> Matching(step) -> Executing(op) -> Idle as bus cycles arrive.
package matcher

import (
	"fmt"
)

// State is the matcher's position in a command sequence.
type State uint8

const (
	StateIdle State = iota
	StateMatching
	StateExecuting
)

var stateNames = map[State]string{
	StateIdle:      "Idle",
	StateMatching:  "Matching",
	StateExecuting: "Executing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Op is the operation a completed command selects.
type Op uint8

const (
	OpNone Op = iota
	OpRead
	OpWrite
	OpVerify
	OpErase
	OpBlankCheck
	OpGetID
	OpReset
	OpStatus
	OpProtect
	OpUnprotect
)

var opNames = map[Op]string{
	OpNone:       "None",
	OpRead:       "Read",
	OpWrite:      "Write",
	OpVerify:     "Verify",
	OpErase:      "Erase",
	OpBlankCheck: "BlankCheck",
	OpGetID:      "GetID",
	OpReset:      "Reset",
	OpStatus:     "Status",
	OpProtect:    "Protect",
	OpUnprotect:  "Unprotect",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Wildcards for Step fields.
const (
	AnyAddress uint32 = 0xFFFFFFFF
	AnyData    uint16 = 0xFFFF
)

// Step is one expected bus cycle.
type Step struct {
	Addr uint32
	Data uint16
}

func (s Step) matches(addr uint32, data uint16) bool {
	return (s.Addr == AnyAddress || s.Addr == addr) && (s.Data == AnyData || s.Data == data)
}

// Data returns a step that accepts data at any address.
func Data(d uint16) Step {
	return Step{Addr: AnyAddress, Data: d}
}

// At returns a step that accepts data at one address.
func At(addr uint32, d uint16) Step {
	return Step{Addr: addr, Data: d}
}

// Addr returns a step that accepts any data at one address.
func Addr(addr uint32) Step {
	return Step{Addr: addr, Data: AnyData}
}

// Command is a named sequence of steps.
type Command struct {
	Op    Op
	Steps []Step
}

// Result tells the caller what to do with the cycle it fed.
type Result uint8

const (
	// Plain means no command starts here: perform an ordinary access.
	Plain Result = iota
	// Pending means the cycle was consumed as part of a sequence.
	Pending
	// Canceled means the cycle broke a sequence in progress. It is consumed.
	Canceled
	// Matched means a command completed; Op reports which.
	Matched
)

// Matcher tracks progress through a command table. The zero value matches
// nothing.
type Matcher struct {
	table      []Command
	state      State
	step       int
	candidates []int
	op         Op
}

// New returns a matcher for table. Earlier entries win when two commands
// complete on the same cycle.
func New(table ...Command) *Matcher {
	m := &Matcher{table: table}
	m.Reset()
	return m
}

// Reset returns to Idle, dropping any partial or executing command.
func (m *Matcher) Reset() {
	m.state = StateIdle
	m.step = -1
	m.candidates = m.candidates[:0]
	m.op = OpNone
}

// Done ends the executing command.
func (m *Matcher) Done() {
	m.Reset()
}

// State returns the current state.
func (m *Matcher) State() State { return m.state }

// Step returns the index of the last matched step, or -1 when idle.
func (m *Matcher) Step() int { return m.step }

// Op returns the executing command, or OpNone.
func (m *Matcher) Op() Op { return m.op }

// Executing reports whether op is the command in progress.
func (m *Matcher) Executing(op Op) bool {
	return m.state == StateExecuting && m.op == op
}

// Feed offers one bus cycle. Feeding while a command executes finishes that
// command first.
func (m *Matcher) Feed(addr uint32, data uint16) Result {
	if m.state == StateExecuting {
		m.Reset()
	}
	next := m.step + 1

	var keep []int
	if m.state == StateIdle {
		for i, cmd := range m.table {
			if len(cmd.Steps) > 0 && cmd.Steps[0].matches(addr, data) {
				keep = append(keep, i)
			}
		}
		if len(keep) == 0 {
			return Plain
		}
	} else {
		for _, i := range m.candidates {
			steps := m.table[i].Steps
			if next < len(steps) && steps[next].matches(addr, data) {
				keep = append(keep, i)
			}
		}
		if len(keep) == 0 {
			m.Reset()
			return Canceled
		}
	}

	for _, i := range keep {
		if len(m.table[i].Steps) == next+1 {
			m.state = StateExecuting
			m.step = next
			m.op = m.table[i].Op
			m.candidates = m.candidates[:0]
			return Matched
		}
	}
	m.state = StateMatching
	m.step = next
	m.candidates = append(m.candidates[:0], keep...)
	return Pending
}
