package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// Masks are 0/1 matrices over (query position x key position). A zero entry
// means the score is replaced with utils.MaskFill before softmax, so the
// masked position ends up with negligible probability. Callers must leave
// at least one valid key per query row.

// PaddingMask derives the 0/1 per-position mask from token ids: 1 for real
// tokens, 0 for pad.
func PaddingMask(ids []int, padIdx int) []float64 {
	mask := make([]float64, len(ids))
	for i, id := range ids {
		if id != padIdx {
			mask[i] = 1
		}
	}
	return mask
}

// SelfAttentionMask is the outer product pad*pad^T: position pair (i,j) is
// valid only when both query i and key j are real tokens.
func SelfAttentionMask(pad []float64) *mat.Dense {
	return CrossAttentionMask(pad, pad)
}

// CrossAttentionMask is the outer product qPad*kPad^T for attention whose
// queries and keys come from different sequences (decoder over encoder
// output).
func CrossAttentionMask(qPad, kPad []float64) *mat.Dense {
	out := mat.NewDense(len(qPad), len(kPad), nil)
	for i, q := range qPad {
		if q == 0 {
			continue
		}
		for j, k := range kPad {
			out.Set(i, j, q*k)
		}
	}
	return out
}

// CausalMask is the (T x T) lower-triangular 0/1 mask: row i permits keys
// 0..i. Derived fresh from T on every decoder call, never cached across
// differing lengths.
func CausalMask(T int) *mat.Dense {
	out := mat.NewDense(T, T, nil)
	for i := 0; i < T; i++ {
		for j := 0; j <= i; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

// CombineMasks multiplies two 0/1 masks elementwise; this is how the causal
// restriction composes with padding.
func CombineMasks(a, b *mat.Dense) *mat.Dense {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("CombineMasks: %dx%d vs %dx%d", ar, ac, br, bc))
	}
	return utils.ToDense(utils.Multiply(a, b))
}
