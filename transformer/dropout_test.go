package transformer

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

func TestDropoutIdentityOutsideTraining(t *testing.T) {
	rand.Seed(123)
	d := NewDropout(0.5)
	x := mat.NewDense(3, 4, utils.RandomArray(12, 3))

	y := d.Forward(x, false)
	if !mat.Equal(x, y) {
		t.Fatal("eval-mode dropout modified its input")
	}
	dy := mat.NewDense(3, 4, utils.RandomArray(12, 3))
	if !mat.Equal(dy, d.Backward(dy)) {
		t.Fatal("eval-mode dropout modified the gradient")
	}
}

func TestDropoutMaskReplay(t *testing.T) {
	rand.Seed(123)
	d := NewDropout(0.5)
	x := utils.OnesLike(mat.NewDense(4, 5, nil))

	y := d.Forward(x, true)
	g := d.Backward(utils.OnesLike(mat.NewDense(4, 5, nil)))

	// the gradient must pass exactly where the forward kept the unit,
	// scaled by the same 1/(1-p)
	for i := 0; i < 4; i++ {
		for j := 0; j < 5; j++ {
			if y.At(i, j) != g.At(i, j) {
				t.Fatalf("mask replay mismatch at [%d,%d]: fwd %v bwd %v",
					i, j, y.At(i, j), g.At(i, j))
			}
			if v := y.At(i, j); v != 0 && v != 2 {
				t.Fatalf("kept unit at [%d,%d] scaled to %v, want 2", i, j, v)
			}
		}
	}
}

func TestDropoutRejectsBadProb(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for p = 1")
		}
	}()
	NewDropout(1.0)
}
