package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// ClipGrads scales all gradients in place so their global L2 norm does not
// exceed maxNorm. Returns the scale applied (1.0 when no clipping happened).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	total := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		total += n * n
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm || norm == 0 {
		return 1.0
	}
	s := maxNorm / norm
	for _, g := range grads {
		if g == nil {
			continue
		}
		g.Scale(s, g)
	}
	return s
}

// Debugf prints only when debug logging is enabled in the training config.
func Debugf(format string, args ...any) {
	if params.Config.Debug {
		fmt.Printf("[debug] "+format+"\n", args...)
	}
}
