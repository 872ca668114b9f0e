package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SmoothedCrossEntropy computes label-smoothed cross-entropy between logits
// (vocab x T) and per-position gold labels, skipping positions whose label
// is the pad id. The target distribution per position is
// (1-eps)*onehot(gold) + eps/vocab.
//
// Returns the mean loss over counted tokens, dLoss/dLogits already divided
// by the token count (so callers backpropagate it unscaled), and the count.
// A batch with only pad labels yields loss 0 and a zero gradient.
func SmoothedCrossEntropy(logits *mat.Dense, labels []int, padIdx int, eps float64) (float64, *mat.Dense, int) {
	v, T := logits.Dims()
	if len(labels) != T {
		panic(fmt.Sprintf("SmoothedCrossEntropy: %d labels for %d logit columns", len(labels), T))
	}
	grad := mat.NewDense(v, T, nil)
	uniform := eps / float64(v)

	total := 0.0
	n := 0
	for t := 0; t < T; t++ {
		gold := labels[t]
		if gold == padIdx {
			continue
		}
		if gold < 0 || gold >= v {
			panic(fmt.Sprintf("SmoothedCrossEntropy: label %d out of range [0,%d)", gold, v))
		}
		n++

		// log-softmax of column t
		mx := logits.At(0, t)
		for i := 1; i < v; i++ {
			if logits.At(i, t) > mx {
				mx = logits.At(i, t)
			}
		}
		sum := 0.0
		for i := 0; i < v; i++ {
			sum += math.Exp(logits.At(i, t) - mx)
		}
		logZ := mx + math.Log(sum)

		loss := 0.0
		for i := 0; i < v; i++ {
			logp := logits.At(i, t) - logZ
			q := uniform
			if i == gold {
				q += 1.0 - eps
			}
			loss -= q * logp
			grad.Set(i, t, math.Exp(logp)-q)
		}
		total += loss
	}

	if n == 0 {
		return 0, grad, 0
	}
	grad.Scale(1.0/float64(n), grad)
	return total / float64(n), grad, n
}
