package tracker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

var (
	styleSuccess = color.New(color.FgGreen)
	styleSkip    = color.New(color.FgCyan)
	styleFail    = color.New(color.FgRed)
	styleDebug   = color.New(color.FgYellow, color.Faint)
)

// bar is the single progress line: `[pos/len] (elapsed) spinner msg`.
type bar struct {
	pos     uint64
	total   uint64
	msg     string
	started time.Time
	frame   int
}

func (b *bar) render() string {
	b.frame = (b.frame + 1) % len(spinnerFrames)
	var elapsed = time.Since(b.started).Round(time.Second)
	return fmt.Sprintf("[%d/%d] (%s) %c %s", b.pos, b.total, elapsed, spinnerFrames[b.frame], b.msg)
}

// Term renders tracker events to a terminal. A single progress bar serves
// both the batch run and ad-hoc phases (e.g. file sync); plain lines are
// written by clearing the bar line, printing, and redrawing so the bar never
// corrupts output.
type Term struct {
	mu          sync.Mutex
	out         io.Writer
	tty         bool
	debug       bool
	suspended   bool
	bar         *bar
	currentTask string
}

// NewTerm returns a renderer writing to out. Bars render only when out is a
// terminal; otherwise output degrades to plain lines.
func NewTerm(out io.Writer) *Term {
	var tty bool
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Term{out: out, tty: tty}
}

// SetDebug toggles rendering of Debug events.
func (t *Term) SetDebug(debug bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debug = debug
}

// Event implements Renderer.
func (t *Term) Event(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case KindPrintln:
		var msg = ev.Msg
		if ev.Indent > 0 {
			var pad = strings.Repeat("  ", ev.Indent)
			var lines = strings.Split(msg, "\n")
			for i, line := range lines {
				lines[i] = pad + line
			}
			msg = strings.Join(lines, "\n")
		}
		t.println(msg)
	case KindDebug:
		if t.debug {
			t.println(styleDebug.Sprint(ev.Msg))
		}
	case KindBatchStart, KindProgressStart:
		if t.bar == nil {
			t.bar = &bar{total: ev.N, started: time.Now()}
		}
		t.redraw()
	case KindTaskStart:
		t.currentTask = ev.Msg
		if t.bar != nil {
			t.bar.msg = ev.Msg
		}
		t.redraw()
	case KindTaskComplete:
		t.endTask(styleSuccess.Sprint("✓ SUCCESS"))
	case KindTaskSkip:
		t.endTask(styleSkip.Sprint("⧖ SKIPPED"))
	case KindTaskFail:
		t.endTask(styleFail.Sprint("✗ FAILED"))
	case KindProgressInc:
		if t.bar != nil {
			t.bar.pos++
			t.bar.msg = ev.Msg
		}
		t.redraw()
	case KindProgressFinish:
		t.clearBar()
		t.println(ev.Msg)
	case KindBatchSuccess:
		t.finishBatch(fmt.Sprintf("%s Done in %s.", styleSuccess.Sprint("✓"), t.elapsed()))
	case KindBatchFail:
		t.finishBatch(fmt.Sprintf("%s One or more tasks failed or were skipped. Done in %s.",
			styleFail.Sprint("✗"), t.elapsed()))
	case KindSuspendBars:
		t.suspended = true
		t.eraseLine()
	case KindResumeBars:
		t.suspended = false
		t.redraw()
	}
}

func (t *Term) elapsed() time.Duration {
	if t.bar == nil {
		return 0
	}
	return time.Since(t.bar.started).Round(time.Second)
}

func (t *Term) endTask(status string) {
	if t.currentTask != "" {
		t.println(fmt.Sprintf("%s %s", status, t.currentTask))
	}
	t.currentTask = ""
	if t.bar != nil {
		t.bar.pos++
	}
	t.redraw()
}

func (t *Term) finishBatch(msg string) {
	t.clearBar()
	t.println(msg)
}

// println writes a line above the bar: erase, write, redraw.
func (t *Term) println(msg string) {
	t.eraseLine()
	fmt.Fprintln(t.out, msg)
	t.redraw()
}

func (t *Term) eraseLine() {
	if t.tty && t.bar != nil {
		fmt.Fprint(t.out, "\r\x1b[2K")
	}
}

func (t *Term) redraw() {
	if t.tty && t.bar != nil && !t.suspended {
		fmt.Fprint(t.out, "\r\x1b[2K"+t.bar.render())
	}
}

func (t *Term) clearBar() {
	t.eraseLine()
	t.bar = nil
}
