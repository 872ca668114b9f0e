package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// TokenEmbedding maps token ids to hidden-size columns and adds the fixed
// positional encoding. The pad column is zero at init and stays zero: its
// gradient is never accumulated, so the optimizer never moves it.
type TokenEmbedding struct {
	hidden int
	vocab  int
	padIdx int

	Weight *mat.Dense // (hidden x vocab), learned
	Grad   *mat.Dense // (hidden x vocab), accumulated by Backward

	pos *PositionalEncoding

	lastIDs []int // ids of the forward pass the next Backward pairs with
}

func NewTokenEmbedding(padIdx, vocabSize, maxLen, hidden int) (*TokenEmbedding, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("embedding: vocab_size must be positive, got %d", vocabSize)
	}
	if padIdx < 0 || padIdx >= vocabSize {
		return nil, fmt.Errorf("embedding: pad_idx %d out of range [0,%d)", padIdx, vocabSize)
	}
	pos, err := NewPositionalEncoding(maxLen, hidden)
	if err != nil {
		return nil, err
	}

	w := mat.NewDense(hidden, vocabSize, utils.RandomArray(hidden*vocabSize, float64(hidden)))
	for i := 0; i < hidden; i++ {
		w.Set(i, padIdx, 0)
	}
	return &TokenEmbedding{
		hidden: hidden,
		vocab:  vocabSize,
		padIdx: padIdx,
		Weight: w,
		Grad:   mat.NewDense(hidden, vocabSize, nil),
		pos:    pos,
	}, nil
}

// Forward returns E[:,ids] + P[:,:T] as a fresh (hidden x T) matrix.
func (e *TokenEmbedding) Forward(ids []int) (*mat.Dense, error) {
	T := len(ids)
	if T == 0 {
		return nil, fmt.Errorf("embedding: empty id sequence")
	}
	pos, err := e.pos.Table(T)
	if err != nil {
		return nil, err
	}

	out := mat.NewDense(e.hidden, T, nil)
	for t, id := range ids {
		if id < 0 || id >= e.vocab {
			return nil, fmt.Errorf("embedding: token id %d at position %d out of range [0,%d)", id, t, e.vocab)
		}
		for i := 0; i < e.hidden; i++ {
			out.Set(i, t, e.Weight.At(i, id)+pos.At(i, t))
		}
	}
	e.lastIDs = ids
	return out, nil
}

// Backward scatters dX columns into the embedding gradient. The positional
// table takes no gradient, and neither does the pad column.
func (e *TokenEmbedding) Backward(dX *mat.Dense) {
	r, c := dX.Dims()
	if r != e.hidden || c != len(e.lastIDs) {
		panic(fmt.Sprintf("TokenEmbedding.Backward: grad %dx%d does not match forward %dx%d",
			r, c, e.hidden, len(e.lastIDs)))
	}
	for t, id := range e.lastIDs {
		if id == e.padIdx {
			continue
		}
		for i := 0; i < e.hidden; i++ {
			e.Grad.Set(i, id, e.Grad.At(i, id)+dX.At(i, t))
		}
	}
}

// Parameters / Gradients expose the learned table to the optimizer.
func (e *TokenEmbedding) Parameters() []*mat.Dense { return []*mat.Dense{e.Weight} }
func (e *TokenEmbedding) Gradients() []*mat.Dense  { return []*mat.Dense{e.Grad} }
