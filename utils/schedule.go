package utils

import (
	"math"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// LRSchedule is the learning rate at a global optimizer step: linear warmup
// to peak over WarmupSteps, then cosine decay over DecaySteps. Pure function
// of the step counter; the step itself lives with the training driver.
func LRSchedule(step int, peak float64) float64 {
	if step <= 0 {
		return 0
	}
	wu := params.Config.WarmupSteps
	dec := params.Config.DecaySteps
	if wu > 0 && step < wu {
		return peak * float64(step) / float64(wu)
	}
	if dec > 0 {
		x := float64(step-wu) / float64(dec)
		if x > 1 {
			x = 1
		} else if x < 0 {
			x = 0
		}
		scale := 0.5 * (1 + math.Cos(math.Pi*x))
		return peak * scale
	}
	return peak
}
