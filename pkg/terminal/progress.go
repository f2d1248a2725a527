package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Progress renders scan progress on a terminal, rewriting a single status
// line. On a non-terminal it stays quiet until Done, so piped output only
// contains results.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	label   string
	percent int
	overall int
	dirty   bool
}

// NewProgress returns a progress sink writing to f.
func NewProgress(f *os.File) *Progress {
	return &Progress{
		w:   colorable.NewColorable(f),
		tty: isatty.IsTerminal(f.Fd()),
	}
}

func (p *Progress) RangeProgress(percent int, label string) {
	p.mu.Lock()
	p.label = label
	p.percent = percent
	p.render()
	p.mu.Unlock()
}

func (p *Progress) OverallProgress(percent int) {
	p.mu.Lock()
	p.overall = percent
	p.render()
	p.mu.Unlock()
}

func (p *Progress) ResultsChanged() {}

// Done terminates the status line. It must be called once after the
// operation completes, before any result output.
func (p *Progress) Done() {
	p.mu.Lock()
	if p.dirty {
		fmt.Fprintln(p.w)
		p.dirty = false
	}
	p.mu.Unlock()
}

func (p *Progress) render() {
	if !p.tty {
		return
	}
	// Erase to end of line: a long module label followed by a shorter one
	// would otherwise leave stale characters behind.
	fmt.Fprintf(p.w, "\r%-32s %3d%% (overall %3d%%)\x1b[K", p.label, p.percent, p.overall)
	p.dirty = true
}
