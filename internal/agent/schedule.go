package agent

import "math"

// Phase activates a tool subset up to and including step MaxStep.
type Phase struct {
	MaxStep     int
	ActiveTools []string
}

// Schedule is an ordered list of phases. Steps past the last phase use the
// last phase's tools.
type Schedule []Phase

// PhaseSpec describes one phase by the fraction of maxSteps at which it
// ends. The final spec's fraction is ignored; it runs to the last step.
type PhaseSpec struct {
	Until float64
	Tools []string
}

// NewSchedule partitions steps 0..maxSteps-1 into phases whose boundaries
// are floor(maxSteps * fraction).
func NewSchedule(maxSteps int, specs ...PhaseSpec) Schedule {
	s := make(Schedule, 0, len(specs))
	for i, spec := range specs {
		end := maxSteps - 1
		if i < len(specs)-1 {
			end = int(math.Floor(float64(maxSteps) * spec.Until))
		}
		s = append(s, Phase{MaxStep: end, ActiveTools: spec.Tools})
	}
	return s
}

// ActiveFor returns the tools active at step.
func (s Schedule) ActiveFor(step int) []string {
	if len(s) == 0 {
		return nil
	}
	for _, p := range s {
		if step <= p.MaxStep {
			return p.ActiveTools
		}
	}
	return s[len(s)-1].ActiveTools
}

// PrepareStep adapts the schedule to Config.PrepareStep.
func (s Schedule) PrepareStep() func(step int) StepSettings {
	return func(step int) StepSettings {
		return StepSettings{ActiveTools: s.ActiveFor(step)}
	}
}
