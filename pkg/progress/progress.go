// Package progress renders the per-wave progress bars on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter is a fanout.Progress-compatible sink. Each new label starts a
// fresh titled bar; updates arrive in completion order.
type Reporter struct {
	mu    sync.Mutex
	out   io.Writer
	label string
	bar   *progressbar.ProgressBar
}

// New returns a Reporter writing to out (os.Stderr when nil).
func New(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{out: out}
}

// Update advances the current bar, starting a new one when the label
// changes.
func (r *Reporter) Update(done, total int, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil || label != r.label {
		r.label = label
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetDescription(label),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
		)
	}
	_ = r.bar.Set(done)
	if done >= total && total > 0 {
		fmt.Fprintln(r.out)
		r.bar = nil
		r.label = ""
	}
}
