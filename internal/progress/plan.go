package progress

import "fmt"

// Plan builds a weighted step list whose percentages are fixed before the run
// starts, including for groups whose length is only known at runtime.
type Plan struct {
	steps []Step
}

func NewPlan() *Plan { return &Plan{} }

// Add appends a step worth weight.
func (p *Plan) Add(status string, weight float64) *Plan {
	p.steps = append(p.steps, Step{Status: status, Weight: weight})
	return p
}

// Group reserves weight for the whole group and splits it evenly across items.
// An empty group still consumes its reservation as a single step.
func (p *Plan) Group(format string, items []string, weight float64) *Plan {
	if len(items) == 0 {
		return p.Add(fmt.Sprintf(format, "(none)"), weight)
	}
	each := weight / float64(len(items))
	for _, item := range items {
		p.steps = append(p.steps, Step{Status: fmt.Sprintf(format, item), Weight: each})
	}
	return p
}

func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Tracker returns a tracker over the plan's steps.
func (p *Plan) Tracker(sink Sink) *Tracker {
	return NewWeightedTracker(p.Steps(), sink)
}
