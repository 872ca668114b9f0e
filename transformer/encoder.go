package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// EncoderLayer is one self-attention + feed-forward block with post-norm
// residuals: x -> norm1(x + drop(selfAttn(x))) -> norm2(. + drop(ff(.))).
type EncoderLayer struct {
	SelfAttn *MultiHeadAttention
	FF       *PositionWiseFF
	Norm1    *LayerNorm
	Norm2    *LayerNorm
	drop1    *Dropout
	drop2    *Dropout
}

func NewEncoderLayer(cfg params.ModelConfig) (*EncoderLayer, error) {
	attn, err := NewMultiHeadAttention(cfg.HiddenSize, cfg.NHead)
	if err != nil {
		return nil, err
	}
	ff, err := NewPositionWiseFF(cfg.HiddenSize, cfg.FFSize)
	if err != nil {
		return nil, err
	}
	return &EncoderLayer{
		SelfAttn: attn,
		FF:       ff,
		Norm1:    NewLayerNorm(cfg.HiddenSize, 1e-5),
		Norm2:    NewLayerNorm(cfg.HiddenSize, 1e-5),
		drop1:    NewDropout(cfg.DropoutProb),
		drop2:    NewDropout(cfg.DropoutProb),
	}, nil
}

// Forward runs the block over x (hidden x T) with the combined source
// self-attention mask.
func (l *EncoderLayer) Forward(x, selfMask *mat.Dense, training bool) *mat.Dense {
	attnOut := l.SelfAttn.Forward(x, x, selfMask)
	attnOut = l.drop1.Forward(attnOut, training)
	n1 := l.Norm1.Forward(utils.ToDense(utils.Add(x, attnOut)))

	ffOut := l.FF.Forward(n1)
	ffOut = l.drop2.Forward(ffOut, training)
	return l.Norm2.Forward(utils.ToDense(utils.Add(n1, ffOut)))
}

// Backward walks the block in reverse, accumulating every sublayer's
// parameter gradients, and returns dX.
func (l *EncoderLayer) Backward(dOut *mat.Dense) *mat.Dense {
	dR2 := l.Norm2.Backward(dOut)
	dFF := l.FF.Backward(l.drop2.Backward(dR2))
	dN1 := utils.ToDense(utils.Add(dR2, dFF))

	dR1 := l.Norm1.Backward(dN1)
	dAq, dAkv := l.SelfAttn.Backward(l.drop1.Backward(dR1))
	// self-attention feeds x in as query, key and value
	return utils.ToDense(utils.Add(dR1, utils.Add(dAq, dAkv)))
}

func (l *EncoderLayer) Parameters() []*mat.Dense {
	out := l.SelfAttn.Parameters()
	out = append(out, l.FF.Parameters()...)
	out = append(out, l.Norm1.Parameters()...)
	out = append(out, l.Norm2.Parameters()...)
	return out
}

func (l *EncoderLayer) Gradients() []*mat.Dense {
	out := l.SelfAttn.Gradients()
	out = append(out, l.FF.Gradients()...)
	out = append(out, l.Norm1.Gradients()...)
	out = append(out, l.Norm2.Gradients()...)
	return out
}

// EncoderStack embeds the source ids and threads the activation through
// NLayer identically-shaped, independently-parameterized layers.
type EncoderStack struct {
	Embed  *TokenEmbedding
	Layers []*EncoderLayer
	drop   *Dropout
}

func NewEncoderStack(cfg params.ModelConfig) (*EncoderStack, error) {
	embed, err := NewTokenEmbedding(cfg.PadIdx, cfg.VocabSize, cfg.MaxLen, cfg.HiddenSize)
	if err != nil {
		return nil, err
	}
	layers := make([]*EncoderLayer, cfg.NLayer)
	for i := range layers {
		if layers[i], err = NewEncoderLayer(cfg); err != nil {
			return nil, err
		}
	}
	return &EncoderStack{Embed: embed, Layers: layers, drop: NewDropout(cfg.DropoutProb)}, nil
}

// Forward encodes src ids with their 0/1 padding mask into (hidden x T).
func (s *EncoderStack) Forward(src []int, srcPad []float64, training bool) (*mat.Dense, error) {
	if len(srcPad) != len(src) {
		return nil, fmt.Errorf("encoder: %d source ids but %d padding mask entries", len(src), len(srcPad))
	}
	selfMask := SelfAttentionMask(srcPad)

	x, err := s.Embed.Forward(src)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	x = s.drop.Forward(x, training)
	for _, l := range s.Layers {
		x = l.Forward(x, selfMask, training)
	}
	return x, nil
}

// Backward propagates the encoder-output gradient down to the source
// embedding table.
func (s *EncoderStack) Backward(dEnc *mat.Dense) {
	for i := len(s.Layers) - 1; i >= 0; i-- {
		dEnc = s.Layers[i].Backward(dEnc)
	}
	s.Embed.Backward(s.drop.Backward(dEnc))
}

func (s *EncoderStack) Parameters() []*mat.Dense {
	out := s.Embed.Parameters()
	for _, l := range s.Layers {
		out = append(out, l.Parameters()...)
	}
	return out
}

func (s *EncoderStack) Gradients() []*mat.Dense {
	out := s.Embed.Gradients()
	for _, l := range s.Layers {
		out = append(out, l.Gradients()...)
	}
	return out
}
