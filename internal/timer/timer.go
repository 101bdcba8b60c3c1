// Package timer measures named stages of a run and parses the resulting log lines back
// into per-event statistics.
//
// A stopped Timer prints one line:
//
//	[timer] [tag1 tag2] in [12.34] seconds. start: [1700000000.00], end: [1700000012.34]
package timer

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Prefix starts every line written by a Timer.
const Prefix = "[timer]"

// Timer measures a single span of wall-clock time.
type Timer struct {
	w    io.Writer
	tags []string
	now  func() time.Time

	mu      sync.Mutex
	start   time.Time
	stopped bool
}

// New returns a Timer that reports to w. Tags identify the measured stage.
func New(w io.Writer, tags ...string) *Timer {
	return &Timer{w: w, tags: tags, now: time.Now}
}

// Start records the start time and returns t so callers can write
// defer timer.New(w, "x").Start().Stop().
func (t *Timer) Start() *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
	t.stopped = false
	return t
}

// Stop prints the timer line and returns the event. Stopping twice is a no-op that
// returns the zero Stats.
func (t *Timer) Stop() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.start.IsZero() {
		return Stats{}
	}
	t.stopped = true

	end := t.now()
	s := Stats{
		Tags:    append([]string(nil), t.tags...),
		Elapsed: end.Sub(t.start).Seconds(),
		Start:   unixSeconds(t.start),
		End:     unixSeconds(end),
	}
	if t.w != nil {
		fmt.Fprintln(t.w, s.String())
	}
	return s
}

// Stats is one measured event.
type Stats struct {
	Tags    []string
	Elapsed float64 // seconds
	Start   float64 // unix seconds
	End     float64 // unix seconds
}

// String formats s as a timer log line.
func (s Stats) String() string {
	return fmt.Sprintf("%s [%s] in [%.2f] seconds. start: [%.2f], end: [%.2f]",
		Prefix, strings.Join(s.Tags, " "), s.Elapsed, s.Start, s.End)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
