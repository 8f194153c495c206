package profiling

import "fmt"

// Step is one entry of the wizard's ordered step registry.
type Step struct {
	Number             int    `json:"number"`
	Key                string `json:"key"`
	Label              string `json:"label"`
	MinProgressPercent int    `json:"min_progress_percent"`
	Icon               string `json:"icon"`
}

const (
	StepDemographics = 1
	StepFamily       = 2
	StepDependents   = 3
	StepHousehold    = 4
	StepSurvey       = 5
)

var registry = []Step{
	{Number: StepDemographics, Key: "demographics", Label: "Demographics", MinProgressPercent: 20, Icon: "home"},
	{Number: StepFamily, Key: "family", Label: "Family Members", MinProgressPercent: 40, Icon: "users"},
	{Number: StepDependents, Key: "dependents", Label: "Dependents", MinProgressPercent: 60, Icon: "child"},
	{Number: StepHousehold, Key: "household", Label: "Household Health", MinProgressPercent: 80, Icon: "heart"},
	{Number: StepSurvey, Key: "survey", Label: "Survey Identification", MinProgressPercent: 100, Icon: "clipboard"},
}

const defaultProgress = 20

var progressTable = map[int]int{
	StepFamily:     40,
	StepDependents: 60,
	StepHousehold:  80,
	StepSurvey:     100,
}

// ProgressForStep returns the completion percentage shown for step. Indices
// outside the table map to the default.
func ProgressForStep(step int) int {
	if p, ok := progressTable[step]; ok {
		return p
	}
	return defaultProgress
}

// Steps returns a copy of the registry in display order.
func Steps() []Step {
	out := make([]Step, len(registry))
	copy(out, registry)
	return out
}

// StepByNumber looks up a registry entry.
func StepByNumber(n int) (Step, bool) {
	for _, s := range registry {
		if s.Number == n {
			return s, true
		}
	}
	return Step{}, false
}

// Flow selects which slice of the registry a session walks through.
type Flow string

const (
	// FlowRegistration creates a new family: demographics through survey.
	FlowRegistration Flow = "registration"
	// FlowContinuation profiles an existing family, starting at its members.
	FlowContinuation Flow = "continuation"
)

func ParseFlow(s string) (Flow, error) {
	switch Flow(s) {
	case FlowRegistration, FlowContinuation:
		return Flow(s), nil
	case "":
		return FlowRegistration, nil
	default:
		return "", fmt.Errorf("unknown flow %q", s)
	}
}

func (f Flow) MinStep() int {
	if f == FlowContinuation {
		return StepFamily
	}
	return StepDemographics
}

func (f Flow) MaxStep() int { return StepSurvey }

// Steps returns the registry entries that belong to the flow.
func (f Flow) Steps() []Step {
	var out []Step
	for _, s := range registry {
		if s.Number >= f.MinStep() && s.Number <= f.MaxStep() {
			out = append(out, s)
		}
	}
	return out
}
