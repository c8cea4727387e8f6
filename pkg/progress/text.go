// Package progress renders device progress events, either as plain log lines
// or as a full-screen terminal view with a stop key.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
)

// Text writes one line per phase start, one per crossed step of the
// percentage, and a closing line when the operation ends.
type Text struct {
	mu    sync.Mutex
	w     io.Writer
	step  int
	now   func() time.Time
	phase device.Phase
	shown int
	start time.Time
	open  bool
}

// NewText reports to w every step percent. step defaults to 10.
func NewText(w io.Writer, step int) *Text {
	if step <= 0 || step > 100 {
		step = 10
	}
	return &Text{w: w, step: step, now: time.Now}
}

// Report consumes one event. It has the signature device.WithProgress expects.
func (t *Text) Report(p device.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open || p.Phase != t.phase {
		t.phase, t.open = p.Phase, true
		t.shown = -1
		t.start = t.now()
		if !p.Done {
			fmt.Fprintf(t.w, "%s: 0x%06X units\n", p.Phase, p.Total)
		}
	}

	if p.Done {
		t.finish(p)
		t.open = false
		return
	}

	pct := int(p.Percent())
	if mark := pct - pct%t.step; mark > t.shown {
		t.shown = mark
		fmt.Fprintf(t.w, "%s: %3d%% 0x%06X/0x%06X\n", p.Phase, mark, p.Current, p.Total)
	}
}

func (t *Text) finish(p device.Progress) {
	elapsed := t.now().Sub(t.start).Round(time.Millisecond)
	switch {
	case p.Success:
		fmt.Fprintf(t.w, "%s: done in %s\n", p.Phase, elapsed)
	case p.Canceled:
		fmt.Fprintf(t.w, "%s: canceled at 0x%06X\n", p.Phase, p.Address)
	case p.Reason != "":
		fmt.Fprintf(t.w, "%s: failed at 0x%06X: %s\n", p.Phase, p.Address, p.Reason)
	default:
		fmt.Fprintf(t.w, "%s: failed at 0x%06X\n", p.Phase, p.Address)
	}
}
