// Package scheduler orders a phase's steps into execution waves based on
// their intra-phase dependencies.
package scheduler

import (
	"log/slog"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// BuildExecutionQueue peels the dependency graph into waves. Each wave holds
// steps whose dependencies are satisfied by earlier waves; steps inside a
// wave may run concurrently. When remaining steps can never become ready
// (cycle or dangling reference) they are emitted as one final wave in
// insertion order, so a malformed plan still makes forward progress.
//
// A step that was already completed or skipped counts as satisfied for its
// dependents and is not scheduled again.
func BuildExecutionQueue(steps []*models.Step) [][]*models.Step {
	if len(steps) == 0 {
		return nil
	}

	done := make(map[string]bool, len(steps))
	var remaining []*models.Step
	for _, s := range steps {
		if s.Status == models.StepCompleted || s.Status == models.StepSkipped {
			done[s.ID] = true
			continue
		}
		remaining = append(remaining, s)
	}

	ready := func(s *models.Step) bool {
		for _, dep := range s.Dependencies {
			if !done[dep] {
				return false
			}
		}
		return true
	}

	var waves [][]*models.Step
	for len(remaining) > 0 {
		var wave, rest []*models.Step
		for _, s := range remaining {
			if ready(s) {
				wave = append(wave, s)
			} else {
				rest = append(rest, s)
			}
		}

		if len(wave) == 0 {
			// No step can become ready. Run the stragglers together rather
			// than stalling the phase.
			ids := make([]string, len(rest))
			for i, s := range rest {
				ids[i] = s.ID
			}
			slog.Warn("unresolvable step dependencies, scheduling as final wave", "step_ids", ids)
			waves = append(waves, rest)
			break
		}

		for _, s := range wave {
			done[s.ID] = true
		}
		waves = append(waves, wave)
		remaining = rest
	}
	return waves
}
