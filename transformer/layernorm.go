package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// LayerNorm normalizes each column (sequence position) to zero mean and
// unit variance over the hidden axis, then applies the learned per-feature
// scale and shift.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)

	GGamma, GBeta *mat.Dense

	// caches
	xhat   *mat.Dense // (d x T)
	invStd []float64  // per column
}

func NewLayerNorm(d int, eps float64) *LayerNorm {
	return &LayerNorm{
		D:      d,
		Eps:    eps,
		Gamma:  utils.OnesLike(mat.NewDense(d, 1, nil)),
		Beta:   mat.NewDense(d, 1, nil),
		GGamma: mat.NewDense(d, 1, nil),
		GBeta:  mat.NewDense(d, 1, nil),
	}
}

func (ln *LayerNorm) Forward(x *mat.Dense) *mat.Dense {
	d, T := x.Dims()
	if d != ln.D {
		panic(fmt.Sprintf("LayerNorm: input width %d, expected %d", d, ln.D))
	}
	out := mat.NewDense(d, T, nil)
	xhat := mat.NewDense(d, T, nil)
	inv := make([]float64, T)
	for t := 0; t < T; t++ {
		mu := 0.0
		for i := 0; i < d; i++ {
			mu += x.At(i, t)
		}
		mu /= float64(d)
		var v float64
		for i := 0; i < d; i++ {
			diff := x.At(i, t) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		inv[t] = istd
		for i := 0; i < d; i++ {
			n := (x.At(i, t) - mu) * istd
			xhat.Set(i, t, n)
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	ln.xhat = xhat
	ln.invStd = inv
	return out
}

// Backward accumulates dGamma/dBeta and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	if ln.xhat == nil {
		panic("LayerNorm.Backward: no cached forward pass")
	}
	d, T := dY.Dims()
	if xr, xc := ln.xhat.Dims(); xr != d || xc != T {
		panic(fmt.Sprintf("LayerNorm.Backward: grad %dx%d does not match forward %dx%d", d, T, xr, xc))
	}

	for i := 0; i < d; i++ {
		sumDG := 0.0
		sumDB := 0.0
		for t := 0; t < T; t++ {
			sumDG += dY.At(i, t) * ln.xhat.At(i, t)
			sumDB += dY.At(i, t)
		}
		ln.GGamma.Set(i, 0, ln.GGamma.At(i, 0)+sumDG)
		ln.GBeta.Set(i, 0, ln.GBeta.At(i, 0)+sumDB)
	}

	dX := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		istd := ln.invStd[t]
		sum1 := 0.0
		sum2 := 0.0
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			sum1 += gy
			sum2 += gy * ln.xhat.At(i, t)
		}
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			dxi := (float64(d)*gy - sum1 - ln.xhat.At(i, t)*sum2) * (istd / float64(d))
			dX.Set(i, t, dxi)
		}
	}
	return dX
}

func (ln *LayerNorm) Parameters() []*mat.Dense { return []*mat.Dense{ln.Gamma, ln.Beta} }
func (ln *LayerNorm) Gradients() []*mat.Dense  { return []*mat.Dense{ln.GGamma, ln.GBeta} }
