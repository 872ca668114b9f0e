package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// PositionWiseFF is the two-layer ReLU feed-forward sublayer. Both matmuls
// act on the feature axis only, so every sequence position is transformed
// independently and identically.
type PositionWiseFF struct {
	Hidden int
	FF     int

	W1 *mat.Dense // (ff x hidden)
	B1 *mat.Dense // (ff x 1)
	W2 *mat.Dense // (hidden x ff)
	B2 *mat.Dense // (hidden x 1)

	GW1, GB1, GW2, GB2 *mat.Dense

	// caches
	x *mat.Dense // input (hidden x T)
	z *mat.Dense // pre-activation (ff x T)
}

func NewPositionWiseFF(hidden, ff int) (*PositionWiseFF, error) {
	if ff <= 0 {
		return nil, fmt.Errorf("feed-forward: ff_size must be positive, got %d", ff)
	}
	return &PositionWiseFF{
		Hidden: hidden,
		FF:     ff,
		W1:     mat.NewDense(ff, hidden, utils.RandomArray(ff*hidden, float64(hidden))),
		B1:     mat.NewDense(ff, 1, nil),
		W2:     mat.NewDense(hidden, ff, utils.RandomArray(hidden*ff, float64(ff))),
		B2:     mat.NewDense(hidden, 1, nil),
		GW1:    mat.NewDense(ff, hidden, nil),
		GB1:    mat.NewDense(ff, 1, nil),
		GW2:    mat.NewDense(hidden, ff, nil),
		GB2:    mat.NewDense(hidden, 1, nil),
	}, nil
}

// Forward computes W2*relu(W1*x + b1) + b2 columnwise.
func (f *PositionWiseFF) Forward(x *mat.Dense) *mat.Dense {
	r, T := x.Dims()
	if r != f.Hidden {
		panic(fmt.Sprintf("PositionWiseFF: input width %d, expected hidden %d", r, f.Hidden))
	}

	z := mat.NewDense(f.FF, T, nil)
	z.Mul(f.W1, x)
	for t := 0; t < T; t++ {
		for i := 0; i < f.FF; i++ {
			z.Set(i, t, z.At(i, t)+f.B1.At(i, 0))
		}
	}
	f.x, f.z = x, z

	h := utils.ToDense(utils.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, z))

	y := mat.NewDense(f.Hidden, T, nil)
	y.Mul(f.W2, h)
	for t := 0; t < T; t++ {
		for i := 0; i < f.Hidden; i++ {
			y.Set(i, t, y.At(i, t)+f.B2.At(i, 0))
		}
	}
	return y
}

// Backward accumulates weight/bias gradients and returns dX.
func (f *PositionWiseFF) Backward(dY *mat.Dense) *mat.Dense {
	if f.x == nil {
		panic("PositionWiseFF.Backward: no cached forward pass")
	}
	_, T := f.x.Dims()

	// recompute relu(z) once for the weight gradient
	h := utils.ToDense(utils.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, f.z))

	var gW2 mat.Dense
	gW2.Mul(dY, h.T())
	f.GW2.Add(f.GW2, &gW2)
	for i := 0; i < f.Hidden; i++ {
		s := 0.0
		for t := 0; t < T; t++ {
			s += dY.At(i, t)
		}
		f.GB2.Set(i, 0, f.GB2.At(i, 0)+s)
	}

	var dH mat.Dense
	dH.Mul(f.W2.T(), dY) // (ff x T)

	// relu gate
	dZ := mat.NewDense(f.FF, T, nil)
	for i := 0; i < f.FF; i++ {
		for t := 0; t < T; t++ {
			if f.z.At(i, t) > 0 {
				dZ.Set(i, t, dH.At(i, t))
			}
		}
	}

	var gW1 mat.Dense
	gW1.Mul(dZ, f.x.T())
	f.GW1.Add(f.GW1, &gW1)
	for i := 0; i < f.FF; i++ {
		s := 0.0
		for t := 0; t < T; t++ {
			s += dZ.At(i, t)
		}
		f.GB1.Set(i, 0, f.GB1.At(i, 0)+s)
	}

	var dX mat.Dense
	dX.Mul(f.W1.T(), dZ)
	return &dX
}

func (f *PositionWiseFF) Parameters() []*mat.Dense {
	return []*mat.Dense{f.W1, f.B1, f.W2, f.B2}
}

func (f *PositionWiseFF) Gradients() []*mat.Dense {
	return []*mat.Dense{f.GW1, f.GB1, f.GW2, f.GB2}
}
