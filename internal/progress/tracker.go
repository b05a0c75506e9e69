// Package progress renders conversion progress on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks conversion progress for one table. With a known total it
// draws a count bar, otherwise a spinner with a running row count.
type Tracker struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	label     string
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker that writes to stderr.
func New(label string) *Tracker {
	return NewWithWriter(label, os.Stderr)
}

// NewWithWriter creates a tracker that writes to out.
func NewWithWriter(label string, out io.Writer) *Tracker {
	return &Tracker{
		out:       out,
		label:     label,
		total:     -1,
		startTime: time.Now(),
	}
}

// SetTotal sets the number of rows to load. known=false switches the bar
// to spinner mode.
func (t *Tracker) SetTotal(total int64, known bool) {
	if !known {
		total = -1
	}
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription(t.label),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Set moves the counter to rows.
func (t *Tracker) Set(rows int64) {
	t.current.Store(rows)
	if t.bar != nil {
		t.bar.Set64(rows)
	}
}

// Add increments the progress counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the current count.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Total returns the expected row count, -1 when unknown.
func (t *Tracker) Total() int64 {
	return t.total
}

// Finish completes the bar and prints a throughput summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "%s: loaded %d rows in %s (%.0f rows/sec)\n",
		t.label, t.current.Load(), elapsed.Round(time.Millisecond), rowsPerSec)
}
