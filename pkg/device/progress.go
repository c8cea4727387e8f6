package device

import "fmt"

// Phase names the part of an operation a progress event belongs to.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRead
	PhaseProgram
	PhaseVerify
	PhaseErase
	PhaseBlankCheck
	PhaseGetID
	PhaseUnprotect
	PhaseProtect
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseRead:       "read",
	PhaseProgram:    "program",
	PhaseVerify:     "verify",
	PhaseErase:      "erase",
	PhaseBlankCheck: "blank check",
	PhaseGetID:      "get id",
	PhaseUnprotect:  "unprotect",
	PhaseProtect:    "protect",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Progress is one event reported while an operation runs. The last event of
// every operation has Done set; on failure it carries the address and the
// reason.
type Progress struct {
	Phase   Phase
	Current uint32
	Total   uint32

	Done     bool
	Success  bool
	Canceled bool
	Address  uint32
	Reason   string
}

// Percent is the completed fraction in the range 0..100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		if p.Done && p.Success {
			return 100
		}
		return 0
	}
	return float64(p.Current) * 100 / float64(p.Total)
}

// progressStep is how many units pass between two progress events.
const progressStep = 0x100
