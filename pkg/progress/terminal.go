package progress

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/OpenTraceLab/OpenTraceFlash/pkg/device"
)

// ErrStopped is reported once the user pressed a stop key.
var ErrStopped = errors.New("stopped by user")

// Terminal draws progress full screen. q, Esc and Ctrl-C call the stop
// function, which is normally the running device's Cancel.
type Terminal struct {
	s     tcell.Screen
	title string
	stop  func()

	mu      sync.Mutex
	last    device.Progress
	status  []string
	stopped bool

	once sync.Once
	done chan struct{}
}

// NewTerminal opens the default terminal screen.
func NewTerminal(title string, stop func()) (*Terminal, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return NewTerminalScreen(s, title, stop), nil
}

// NewTerminalScreen runs on an initialized screen, which the Terminal owns
// from now on.
func NewTerminalScreen(s tcell.Screen, title string, stop func()) *Terminal {
	s.DisableMouse()
	t := &Terminal{s: s, title: title, stop: stop, done: make(chan struct{})}
	go t.eventLoop()
	t.draw()
	return t
}

// Report consumes one event and redraws.
func (t *Terminal) Report(p device.Progress) {
	t.mu.Lock()
	t.last = p
	t.mu.Unlock()
	t.draw()
}

// Status replaces the lines shown under the progress bar.
func (t *Terminal) Status(lines ...string) {
	t.mu.Lock()
	t.status = append([]string(nil), lines...)
	t.mu.Unlock()
	t.draw()
}

// Stopped reports whether the user asked to stop.
func (t *Terminal) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Err returns ErrStopped after a stop key, nil otherwise.
func (t *Terminal) Err() error {
	if t.Stopped() {
		return ErrStopped
	}
	return nil
}

// Close restores the terminal. It is safe to call more than once.
func (t *Terminal) Close() {
	t.once.Do(func() {
		t.s.PostEvent(tcell.NewEventInterrupt(nil))
		<-t.done
		t.s.Fini()
	})
}

func (t *Terminal) requestStop() {
	t.mu.Lock()
	first := !t.stopped
	t.stopped = true
	t.mu.Unlock()
	if first && t.stop != nil {
		t.stop()
	}
	t.draw()
}

func (t *Terminal) eventLoop() {
	defer close(t.done)
	for {
		switch ev := t.s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				t.requestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				t.requestStop()
			}
		case *tcell.EventResize:
			t.s.Sync()
			t.draw()
		case *tcell.EventInterrupt, nil:
			return
		}
	}
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, style)
	}
}

// Bar renders a fixed-width progress bar for pct in 0..100.
func Bar(width int, pct float64) string {
	if width < 1 {
		return ""
	}
	pct = max(0, min(100, pct))
	full := int(pct * float64(width) / 100)
	return strings.Repeat("█", full) + strings.Repeat("░", width-full)
}

func (t *Terminal) draw() {
	t.mu.Lock()
	p, status, stopped := t.last, t.status, t.stopped
	t.mu.Unlock()

	t.s.Clear()
	w, h := t.s.Size()
	bold := tcell.StyleDefault.Bold(true)

	y := 0
	line := func(str string, style tcell.Style) {
		if y < h {
			putStr(t.s, 0, y, str, style)
		}
		y++
	}

	putStr(t.s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
	putStr(t.s, max(0, (w-len(t.title))/2), y, t.title, bold)
	y++

	line(fmt.Sprintf("Phase: %s", p.Phase), tcell.StyleDefault)
	line(fmt.Sprintf("Unit:  0x%06X / 0x%06X", p.Current, p.Total), tcell.StyleDefault)
	line(fmt.Sprintf("%s %5.1f%%", Bar(max(1, w-8), p.Percent()), p.Percent()), tcell.StyleDefault)

	switch {
	case p.Done && p.Success:
		line("Done.", bold.Foreground(tcell.ColorGreen))
	case p.Done && p.Canceled:
		line(fmt.Sprintf("Canceled at 0x%06X.", p.Address), bold.Foreground(tcell.ColorYellow))
	case p.Done:
		line(fmt.Sprintf("Failed at 0x%06X: %s", p.Address, p.Reason), bold.Foreground(tcell.ColorRed))
	case stopped:
		line("Stopping...", tcell.StyleDefault)
	default:
		line("Press q to stop.", tcell.StyleDefault)
	}

	if len(status) > 0 {
		putStr(t.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(t.s, 2, y, " Status ", tcell.StyleDefault)
		y++
		for _, s := range status {
			line(s, tcell.StyleDefault)
		}
	}
	t.s.Show()
}
