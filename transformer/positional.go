// Package transformer implements the numerical core of a sequence-to-sequence
// transformer: sinusoidal positional encoding, token embedding, multi-head
// scaled dot-product attention with padding/causal masking, position-wise
// feed-forward sublayers and the residual+layernorm encoder/decoder stacks.
//
// Activations are gonum (hidden x T) matrices; column t is sequence
// position t. Every component pairs Forward with a grads-only Backward that
// accumulates into the component's gradient buffers; parameters are only
// ever mutated by the external optimizer between passes.
package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PositionalEncoding is the fixed sinusoidal table. It is computed once at
// construction, never receives gradient, and is shared read-only by every
// forward pass.
type PositionalEncoding struct {
	hidden int
	maxLen int
	table  *mat.Dense // (hidden x maxLen)
}

// NewPositionalEncoding precomputes the (hidden x maxLen) table with
// table[2i, pos]   = sin(pos / 10000^(2i/hidden))
// table[2i+1, pos] = cos(pos / 10000^(2i/hidden)).
// hidden must be even so sin/cos rows pair up.
func NewPositionalEncoding(maxLen, hidden int) (*PositionalEncoding, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("positional encoding: max_len must be positive, got %d", maxLen)
	}
	if hidden <= 0 || hidden%2 != 0 {
		return nil, fmt.Errorf("positional encoding: hidden_size must be positive and even, got %d", hidden)
	}

	table := mat.NewDense(hidden, maxLen, nil)
	for i := 0; i < hidden/2; i++ {
		// wavelength term shared by the sin/cos pair at rows 2i, 2i+1
		div := math.Pow(10000, float64(2*i)/float64(hidden))
		for pos := 0; pos < maxLen; pos++ {
			angle := float64(pos) / div
			table.Set(2*i, pos, math.Sin(angle))
			table.Set(2*i+1, pos, math.Cos(angle))
		}
	}
	return &PositionalEncoding{hidden: hidden, maxLen: maxLen, table: table}, nil
}

// Table returns the first T columns as a read-only view. Callers must not
// write through it.
func (pe *PositionalEncoding) Table(T int) (*mat.Dense, error) {
	if T <= 0 || T > pe.maxLen {
		return nil, fmt.Errorf("positional encoding: sequence length %d out of range (1..%d)", T, pe.maxLen)
	}
	return pe.table.Slice(0, pe.hidden, 0, T).(*mat.Dense), nil
}

// MaxLen reports the longest sequence the table covers.
func (pe *PositionalEncoding) MaxLen() int { return pe.maxLen }
