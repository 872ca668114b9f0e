package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// DecoderLayer runs three post-norm sublayers per call: causal-masked self
// attention over the target state, cross attention of the target state over
// the encoder output, then the feed-forward. The source padding mask is
// applied to cross attention so pad positions of the encoder output are
// never attended into.
type DecoderLayer struct {
	SelfAttn  *MultiHeadAttention
	CrossAttn *MultiHeadAttention
	FF        *PositionWiseFF
	Norm1     *LayerNorm
	Norm2     *LayerNorm
	Norm3     *LayerNorm
	drop1     *Dropout
	drop2     *Dropout
	drop3     *Dropout
}

func NewDecoderLayer(cfg params.ModelConfig) (*DecoderLayer, error) {
	selfAttn, err := NewMultiHeadAttention(cfg.HiddenSize, cfg.NHead)
	if err != nil {
		return nil, err
	}
	crossAttn, err := NewMultiHeadAttention(cfg.HiddenSize, cfg.NHead)
	if err != nil {
		return nil, err
	}
	ff, err := NewPositionWiseFF(cfg.HiddenSize, cfg.FFSize)
	if err != nil {
		return nil, err
	}
	return &DecoderLayer{
		SelfAttn:  selfAttn,
		CrossAttn: crossAttn,
		FF:        ff,
		Norm1:     NewLayerNorm(cfg.HiddenSize, 1e-5),
		Norm2:     NewLayerNorm(cfg.HiddenSize, 1e-5),
		Norm3:     NewLayerNorm(cfg.HiddenSize, 1e-5),
		drop1:     NewDropout(cfg.DropoutProb),
		drop2:     NewDropout(cfg.DropoutProb),
		drop3:     NewDropout(cfg.DropoutProb),
	}, nil
}

// Forward advances the target state y (hidden x Tt) over the encoder output
// encOut (hidden x Ts). selfMask combines the target padding mask with the
// causal mask; crossMask pairs target queries with source keys.
func (l *DecoderLayer) Forward(y, encOut, selfMask, crossMask *mat.Dense, training bool) *mat.Dense {
	attnOut := l.SelfAttn.Forward(y, y, selfMask)
	attnOut = l.drop1.Forward(attnOut, training)
	n1 := l.Norm1.Forward(utils.ToDense(utils.Add(y, attnOut)))

	crossOut := l.CrossAttn.Forward(n1, encOut, crossMask)
	crossOut = l.drop2.Forward(crossOut, training)
	n2 := l.Norm2.Forward(utils.ToDense(utils.Add(n1, crossOut)))

	ffOut := l.FF.Forward(n2)
	ffOut = l.drop3.Forward(ffOut, training)
	return l.Norm3.Forward(utils.ToDense(utils.Add(n2, ffOut)))
}

// Backward returns the gradient w.r.t. the incoming target state and this
// layer's contribution to the encoder-output gradient.
func (l *DecoderLayer) Backward(dOut *mat.Dense) (dY, dEnc *mat.Dense) {
	dR3 := l.Norm3.Backward(dOut)
	dFF := l.FF.Backward(l.drop3.Backward(dR3))
	dN2 := utils.ToDense(utils.Add(dR3, dFF))

	dR2 := l.Norm2.Backward(dN2)
	dCq, dCkv := l.CrossAttn.Backward(l.drop2.Backward(dR2))
	dN1 := utils.ToDense(utils.Add(dR2, dCq))

	dR1 := l.Norm1.Backward(dN1)
	dSq, dSkv := l.SelfAttn.Backward(l.drop1.Backward(dR1))
	dY = utils.ToDense(utils.Add(dR1, utils.Add(dSq, dSkv)))
	return dY, dCkv
}

func (l *DecoderLayer) Parameters() []*mat.Dense {
	out := l.SelfAttn.Parameters()
	out = append(out, l.CrossAttn.Parameters()...)
	out = append(out, l.FF.Parameters()...)
	out = append(out, l.Norm1.Parameters()...)
	out = append(out, l.Norm2.Parameters()...)
	out = append(out, l.Norm3.Parameters()...)
	return out
}

func (l *DecoderLayer) Gradients() []*mat.Dense {
	out := l.SelfAttn.Gradients()
	out = append(out, l.CrossAttn.Gradients()...)
	out = append(out, l.FF.Gradients()...)
	out = append(out, l.Norm1.Gradients()...)
	out = append(out, l.Norm2.Gradients()...)
	out = append(out, l.Norm3.Gradients()...)
	return out
}

// DecoderStack embeds the (already shifted) target ids and applies NLayer
// decoder layers. The causal mask is derived fresh from the target length
// on every call.
type DecoderStack struct {
	Embed  *TokenEmbedding
	Layers []*DecoderLayer
	drop   *Dropout
}

func NewDecoderStack(cfg params.ModelConfig) (*DecoderStack, error) {
	embed, err := NewTokenEmbedding(cfg.PadIdx, cfg.VocabSize, cfg.MaxLen, cfg.HiddenSize)
	if err != nil {
		return nil, err
	}
	layers := make([]*DecoderLayer, cfg.NLayer)
	for i := range layers {
		if layers[i], err = NewDecoderLayer(cfg); err != nil {
			return nil, err
		}
	}
	return &DecoderStack{Embed: embed, Layers: layers, drop: NewDropout(cfg.DropoutProb)}, nil
}

// Forward decodes tgtIn against encOut. tgtPad is the 0/1 padding mask of
// tgtIn; srcPad is the source-side padding mask used for cross attention.
func (s *DecoderStack) Forward(tgtIn []int, tgtPad []float64, encOut *mat.Dense, srcPad []float64, training bool) (*mat.Dense, error) {
	if len(tgtPad) != len(tgtIn) {
		return nil, fmt.Errorf("decoder: %d target ids but %d padding mask entries", len(tgtIn), len(tgtPad))
	}
	if _, Ts := encOut.Dims(); Ts != len(srcPad) {
		return nil, fmt.Errorf("decoder: encoder output has %d positions but source mask has %d", Ts, len(srcPad))
	}
	selfMask := CombineMasks(SelfAttentionMask(tgtPad), CausalMask(len(tgtIn)))
	crossMask := CrossAttentionMask(tgtPad, srcPad)

	y, err := s.Embed.Forward(tgtIn)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	y = s.drop.Forward(y, training)
	for _, l := range s.Layers {
		y = l.Forward(y, encOut, selfMask, crossMask, training)
	}
	return y, nil
}

// Backward runs the layers in reverse, scatters the embedding gradient, and
// returns the summed encoder-output gradient.
func (s *DecoderStack) Backward(dDec *mat.Dense) *mat.Dense {
	var dEncTotal *mat.Dense
	for i := len(s.Layers) - 1; i >= 0; i-- {
		var dEnc *mat.Dense
		dDec, dEnc = s.Layers[i].Backward(dDec)
		if dEncTotal == nil {
			dEncTotal = dEnc
		} else {
			dEncTotal.Add(dEncTotal, dEnc)
		}
	}
	s.Embed.Backward(s.drop.Backward(dDec))
	return dEncTotal
}

func (s *DecoderStack) Parameters() []*mat.Dense {
	out := s.Embed.Parameters()
	for _, l := range s.Layers {
		out = append(out, l.Parameters()...)
	}
	return out
}

func (s *DecoderStack) Gradients() []*mat.Dense {
	out := s.Embed.Gradients()
	for _, l := range s.Layers {
		out = append(out, l.Gradients()...)
	}
	return out
}
