package progress

import (
	"fmt"
	"io"
	"sync"
)

// CompleteStatus is reported by Tracker.Complete.
const CompleteStatus = "Task complete"

// Sink receives progress reports. ratio is in [0, 1].
type Sink interface {
	Report(status string, ratio float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(status string, ratio float64)

func (f SinkFunc) Report(status string, ratio float64) { f(status, ratio) }

// Step is one unit of a plan. Weight is its share of the timeline.
type Step struct {
	Status string
	Weight float64
}

// Tracker walks an ordered list of steps and reports the completion ratio
// after each one. Reported ratios never decrease.
type Tracker struct {
	mu        sync.Mutex
	steps     []Step
	total     float64
	done      float64
	next      int
	last      float64
	sink      Sink
	completed bool
}

// NewTracker gives every status an equal weight, so the ratio reported after
// popping a step is 1 - remaining/total.
func NewTracker(queue []string, sink Sink) *Tracker {
	steps := make([]Step, len(queue))
	for i, s := range queue {
		steps[i] = Step{Status: s, Weight: 1}
	}
	return NewWeightedTracker(steps, sink)
}

func NewWeightedTracker(steps []Step, sink Sink) *Tracker {
	t := &Tracker{steps: steps, sink: sink}
	for _, s := range steps {
		if s.Weight > 0 {
			t.total += s.Weight
		}
	}
	return t
}

// Disabled reports whether the tracker has nothing to report.
func (t *Tracker) Disabled() bool { return t == nil || len(t.steps) == 0 }

// Next pops the next step and reports it. It returns the step's status, or ""
// once the queue is exhausted.
func (t *Tracker) Next() string {
	if t.Disabled() {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next >= len(t.steps) || t.completed {
		return ""
	}
	step := t.steps[t.next]
	t.next++
	if step.Weight > 0 {
		t.done += step.Weight
	}
	ratio := 1.0
	if t.total > 0 {
		ratio = t.done / t.total
	}
	t.report(step.Status, ratio)
	return step.Status
}

// Complete reports 1.0 regardless of the steps left.
func (t *Tracker) Complete() {
	if t.Disabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	t.completed = true
	t.report(CompleteStatus, 1)
}

// Ratio returns the last reported ratio.
func (t *Tracker) Ratio() float64 {
	if t.Disabled() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Remaining returns the number of steps not yet popped.
func (t *Tracker) Remaining() int {
	if t.Disabled() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps) - t.next
}

func (t *Tracker) report(status string, ratio float64) {
	if ratio > 1 {
		ratio = 1
	}
	if ratio < t.last {
		ratio = t.last
	}
	t.last = ratio
	if t.sink != nil {
		t.sink.Report(status, ratio)
	}
}

// ConsoleSink prints one line per report.
type ConsoleSink struct {
	W io.Writer
}

func (c ConsoleSink) Report(status string, ratio float64) {
	fmt.Fprintf(c.W, "[%3.0f%%] %s\n", ratio*100, status)
}

// Update is the message a ChannelSink pushes.
type Update struct {
	Status  string  `json:"status"`
	Current float64 `json:"current"`
}

// ChannelSink pushes updates without blocking; an update is dropped when the
// channel is full.
type ChannelSink struct {
	C chan<- Update
}

func (c ChannelSink) Report(status string, ratio float64) {
	select {
	case c.C <- Update{Status: status, Current: ratio}:
	default:
	}
}

// MultiSink fans a report out to every sink.
type MultiSink []Sink

func (m MultiSink) Report(status string, ratio float64) {
	for _, s := range m {
		if s != nil {
			s.Report(status, ratio)
		}
	}
}
