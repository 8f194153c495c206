package profiling

import (
	"context"

	"github.com/chis/chis/internal/platform/metrics"
)

// BeforeAdvance runs after the step guard passed and before the cursor
// moves. An error keeps the wizard on the current step.
type BeforeAdvance func(ctx context.Context, f *Form, from int) error

// NavResult reports where the cursor is after a transition attempt.
type NavResult struct {
	Moved    bool     `json:"moved"`
	Step     int      `json:"step"`
	Progress int      `json:"progress"`
	Errors   []string `json:"errors"`
}

func navResult(f *Form, moved bool, errs []string) NavResult {
	if errs == nil {
		errs = []string{}
	}
	return NavResult{Moved: moved, Step: f.CurrentStep(), Progress: ProgressForStep(f.CurrentStep()), Errors: errs}
}

// Navigator moves the step cursor. Next is guarded by the current step's
// validator; Previous is not.
type Navigator struct {
	before  BeforeAdvance
	metrics *metrics.Metrics
}

func NewNavigator(before BeforeAdvance, m *metrics.Metrics) *Navigator {
	return &Navigator{before: before, metrics: m}
}

// Next validates the current step and advances exactly one step. A failed
// validation is not an error: the result carries the messages and the
// cursor stays put.
func (n *Navigator) Next(ctx context.Context, f *Form) (NavResult, error) {
	cur := f.CurrentStep()
	if cur >= f.Flow().MaxStep() {
		n.metrics.ObserveTransition("next", false)
		return navResult(f, false, nil), ErrNoNextStep
	}
	if v := stepValidator(cur)(f.Snapshot()); !v.IsValid {
		n.metrics.ObserveTransition("next", false)
		return navResult(f, false, v.Errors), nil
	}
	if n.before != nil {
		if err := n.before(ctx, f, cur); err != nil {
			n.metrics.ObserveTransition("next", false)
			return navResult(f, false, nil), err
		}
	}
	f.setStep(cur + 1)
	n.metrics.ObserveTransition("next", true)
	return navResult(f, true, nil), nil
}

// Previous moves back one step without validating or touching any field.
func (n *Navigator) Previous(f *Form) (NavResult, error) {
	cur := f.CurrentStep()
	if cur <= f.Flow().MinStep() {
		n.metrics.ObserveTransition("previous", false)
		return navResult(f, false, nil), ErrNoPreviousStep
	}
	f.setStep(cur - 1)
	n.metrics.ObserveTransition("previous", true)
	return navResult(f, true, nil), nil
}
