package scheduler

import (
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

// Printer renders events as lines. On a terminal it adds colour and fits
// lines to the window width.
type Printer struct {
	w     io.Writer
	tty   bool
	width int
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = width
		}
	}
	return p
}

// Handle prints one event. It satisfies Handler.
func (p *Printer) Handle(ev Event) {
	var mark, colour string
	switch ev.Kind {
	case EventStarted:
		mark, colour = "…", ansiDim
	case EventCompleted:
		if ev.Success {
			mark, colour = "✓", ansiGreen
		} else {
			mark, colour = "✗", ansiRed
		}
	case EventSkipped:
		mark, colour = "-", ansiYellow
	}

	line := fmt.Sprintf("%s %s %s", ev.Time.Format("15:04:05"), mark, ev.String())
	if !p.tty {
		fmt.Fprintln(p.w, line)
		return
	}
	if p.width > 1 {
		line = clip(line, p.width-1)
	}
	fmt.Fprintf(p.w, "%s%s%s\n", colour, line, ansiReset)
}

// PrintSummary prints the final summary line.
func (p *Printer) PrintSummary(s Summary) {
	fmt.Fprintf(p.w, "sync: %s\n", s)
	paths := make([]string, 0, len(s.Failures))
	for path := range s.Failures {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(p.w, "  failed %s: %s\n", path, s.Failures[path])
	}
}

func clip(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
