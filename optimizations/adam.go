// Package optimizations holds the optimizer. It lives outside the
// transformer package on purpose: forward/attention code never mutates
// parameters, and parameters are only written here, between passes.
package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// Adam updates one aligned (parameters, gradients) slice pair with AdamW
// bias-corrected moments. The step counter advances once per Step call,
// not per tensor.
type Adam struct {
	Params []*mat.Dense
	Grads  []*mat.Dense

	m, v []*mat.Dense
	t    int
}

func NewAdam(ps, gs []*mat.Dense) *Adam {
	if len(ps) != len(gs) {
		panic("adam: parameter/gradient count mismatch")
	}
	m := make([]*mat.Dense, len(ps))
	v := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		m[i] = utils.ZerosLike(p)
		v[i] = utils.ZerosLike(p)
	}
	return &Adam{Params: ps, Grads: gs, m: m, v: v}
}

// Step clips the global gradient norm (when configured), applies one Adam
// update at the given learning rate, and returns the new step count.
func (a *Adam) Step(lr float64) int {
	if params.Config.GradClip > 0 {
		utils.ClipGrads(params.Config.GradClip, a.Grads...)
	}
	a.t++
	for i, p := range a.Params {
		AdamUpdateInPlace(p, a.Grads[i], a.m[i], a.v[i], a.t, lr,
			params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps,
			params.Config.WeightDecay)
	}
	return a.t
}

// StepCount reports how many updates have been applied.
func (a *Adam) StepCount() int { return a.t }

// AdamUpdateInPlace: p -= lr * mhat/(sqrt(vhat)+eps) with bias correction,
// plus decoupled weight decay when wd > 0.
func AdamUpdateInPlace(p, g, m, v *mat.Dense, t int, lr, beta1, beta2, eps, wd float64) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			pij := p.At(i, j) - lr*mhat/(math.Sqrt(vhat)+eps)
			if wd > 0 {
				pij -= lr * wd * p.At(i, j)
			}
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, pij)
		}
	}
}
