package transformer

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout zeroes each activation with probability p during training and
// rescales the survivors by 1/(1-p) (inverted dropout), so evaluation needs
// no correction. Outside training it is the identity.
type Dropout struct {
	Prob float64

	mask *mat.Dense // kept/scaled multiplier of the last training forward
}

func NewDropout(p float64) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout probability %g out of [0,1)", p))
	}
	return &Dropout{Prob: p}
}

func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.Prob == 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	scale := 1.0 / (1.0 - d.Prob)
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rand.Float64() >= d.Prob {
				mask.Set(i, j, scale)
				out.Set(i, j, x.At(i, j)*scale)
			}
		}
	}
	d.mask = mask
	return out
}

// Backward replays the keep mask of the paired Forward.
func (d *Dropout) Backward(dY *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dY
	}
	var dX mat.Dense
	dX.MulElem(dY, d.mask)
	return &dX
}
