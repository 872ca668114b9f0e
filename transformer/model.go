package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// Transformer is the full encoder-decoder model with the final projection
// to vocabulary logits.
//
// Forward. The decoder consumes the target truncated by its final token
// (which has no next-token label), so logits come back as
// (vocab x len(tgt)-1); column t scores the prediction of tgt[t+1].
// Labels for the loss are ShiftedLabels(tgt).
//
// Backward must directly follow the Forward it pairs with: sublayer caches
// hold the activations of exactly one pass. The training driver therefore
// runs forward -> loss -> backward per example and lets the optimizer
// commit the update before the next forward (no parameter may be read for
// a new pass while an update is in flight).
type Transformer struct {
	Config params.ModelConfig

	Encoder *EncoderStack
	Decoder *DecoderStack

	Proj  *mat.Dense // (vocab x hidden)
	ProjB *mat.Dense // (vocab x 1)
	GProj, GProjB *mat.Dense

	training bool

	decOut *mat.Dense // decoder output of the pass the next Backward pairs with
}

// NewTransformer validates the configuration and builds freshly initialized
// encoder/decoder stacks plus the vocabulary projection.
func NewTransformer(cfg params.ModelConfig) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transformer config: %w", err)
	}
	enc, err := NewEncoderStack(cfg)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoderStack(cfg)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		Config:  cfg,
		Encoder: enc,
		Decoder: dec,
		Proj:    mat.NewDense(cfg.VocabSize, cfg.HiddenSize, utils.RandomArray(cfg.VocabSize*cfg.HiddenSize, float64(cfg.HiddenSize))),
		ProjB:   mat.NewDense(cfg.VocabSize, 1, nil),
		GProj:   mat.NewDense(cfg.VocabSize, cfg.HiddenSize, nil),
		GProjB:  mat.NewDense(cfg.VocabSize, 1, nil),
	}, nil
}

// SetTraining toggles dropout for all layers. Off by default.
func (m *Transformer) SetTraining(training bool) { m.training = training }

// ShiftedLabels returns the per-position gold labels matching the logits of
// Forward: the target sequence shifted left by one.
func ShiftedLabels(tgt []int) []int { return tgt[1:] }

// Forward runs source and target through the stacks and projects to
// (vocab x len(tgt)-1) logits. The padding masks mark real positions with 1
// and pad with 0 and must match their id sequences in length.
func (m *Transformer) Forward(src []int, srcPad []float64, tgt []int, tgtPad []float64) (*mat.Dense, error) {
	if len(src) == 0 || len(tgt) < 2 {
		return nil, fmt.Errorf("transformer: need a non-empty source and a target of at least 2 tokens, got %d and %d", len(src), len(tgt))
	}
	if len(srcPad) != len(src) {
		return nil, fmt.Errorf("transformer: %d source ids but %d source mask entries", len(src), len(srcPad))
	}
	if len(tgtPad) != len(tgt) {
		return nil, fmt.Errorf("transformer: %d target ids but %d target mask entries", len(tgt), len(tgtPad))
	}

	encOut, err := m.Encoder.Forward(src, srcPad, m.training)
	if err != nil {
		return nil, err
	}

	// drop the final target token; it has nothing left to predict
	tgtIn := tgt[:len(tgt)-1]
	tgtInPad := tgtPad[:len(tgt)-1]

	decOut, err := m.Decoder.Forward(tgtIn, tgtInPad, encOut, srcPad, m.training)
	if err != nil {
		return nil, err
	}
	m.decOut = decOut

	_, T := decOut.Dims()
	logits := mat.NewDense(m.Config.VocabSize, T, nil)
	logits.Mul(m.Proj, decOut)
	for t := 0; t < T; t++ {
		for i := 0; i < m.Config.VocabSize; i++ {
			logits.Set(i, t, logits.At(i, t)+m.ProjB.At(i, 0))
		}
	}
	return logits, nil
}

// Backward accumulates gradients for every parameter given dLoss/dLogits.
func (m *Transformer) Backward(dLogits *mat.Dense) {
	if m.decOut == nil {
		panic("Transformer.Backward: no cached forward pass")
	}
	v, T := dLogits.Dims()
	_, decT := m.decOut.Dims()
	if v != m.Config.VocabSize || T != decT {
		panic(fmt.Sprintf("Transformer.Backward: dLogits %dx%d does not match logits %dx%d", v, T, m.Config.VocabSize, decT))
	}

	var gProj mat.Dense
	gProj.Mul(dLogits, m.decOut.T())
	m.GProj.Add(m.GProj, &gProj)
	for i := 0; i < v; i++ {
		s := 0.0
		for t := 0; t < T; t++ {
			s += dLogits.At(i, t)
		}
		m.GProjB.Set(i, 0, m.GProjB.At(i, 0)+s)
	}

	var dDec mat.Dense
	dDec.Mul(m.Proj.T(), dLogits)

	dEnc := m.Decoder.Backward(&dDec)
	m.Encoder.Backward(dEnc)
	m.decOut = nil
}

// Parameters returns every learned matrix in a fixed order; Gradients
// returns the aligned accumulation buffers. The optimizer and the
// checkpoint layer both walk these, so the order is part of the contract.
func (m *Transformer) Parameters() []*mat.Dense {
	out := m.Encoder.Parameters()
	out = append(out, m.Decoder.Parameters()...)
	out = append(out, m.Proj, m.ProjB)
	return out
}

func (m *Transformer) Gradients() []*mat.Dense {
	out := m.Encoder.Gradients()
	out = append(out, m.Decoder.Gradients()...)
	out = append(out, m.GProj, m.GProjB)
	return out
}

// ZeroGrads clears every accumulation buffer before the next batch.
func (m *Transformer) ZeroGrads() {
	for _, g := range m.Gradients() {
		g.Zero()
	}
}
