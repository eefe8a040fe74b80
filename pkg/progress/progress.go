// Package progress renders a terminal progress bar that several workers can
// advance at once.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Callback receives progress updates. A message with total == 0 is purely
// informational.
type Callback func(completed, total int, message string)

// Bar is a concurrency-safe progress bar
type Bar struct {
	mu        sync.Mutex
	out       io.Writer
	label     string
	total     int
	completed int
	width     int
	startTime time.Time
	now       func() time.Time
}

// NewBar creates a bar for total units of work
func NewBar(out io.Writer, label string, total int) *Bar {
	return &Bar{
		out:       out,
		label:     label,
		total:     total,
		width:     40,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Add advances the bar by n units and redraws it
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completed += n
	if b.completed > b.total {
		b.completed = b.total
	}
	fmt.Fprintf(b.out, "\r%s", b.render())
	if b.completed >= b.total {
		fmt.Fprintln(b.out)
	}
}

// Callback adapts the bar to a Callback. Only the completed count of each
// update is used and updates that arrive out of order are dropped; the bar's
// own total wins.
func (b *Bar) Callback() Callback {
	last := 0
	var mu sync.Mutex
	return func(completed, total int, message string) {
		if total == 0 {
			return
		}
		mu.Lock()
		delta := completed - last
		if delta > 0 {
			last = completed
		}
		mu.Unlock()
		if delta > 0 {
			b.Add(delta)
		}
	}
}

// Completed returns how many units were reported so far
func (b *Bar) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Bar) render() string {
	percentage := 100.0
	if b.total > 0 {
		percentage = float64(b.completed) / float64(b.total) * 100
	}

	numBars := int(percentage / 100 * float64(b.width))
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < b.width; i++ {
		switch {
		case i < numBars:
			sb.WriteString("█")
		case i == numBars:
			sb.WriteString("▓")
		default:
			sb.WriteString("░")
		}
	}
	sb.WriteString("]")

	timing := ""
	if b.completed > 0 {
		elapsed := b.now().Sub(b.startTime)
		remaining := "0s"
		if b.completed < b.total {
			perUnit := elapsed.Seconds() / float64(b.completed)
			remaining = formatSeconds(perUnit * float64(b.total-b.completed))
		}
		timing = fmt.Sprintf(" [%.1fs elapsed | %s remaining]", elapsed.Seconds(), remaining)
	}

	return fmt.Sprintf("%s %s %.1f%% (%d/%d)%s", b.label, sb.String(), percentage, b.completed, b.total, timing)
}

func formatSeconds(s float64) string {
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}
