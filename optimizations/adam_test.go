package optimizations

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// With bias correction the very first update has magnitude lr in the
// direction opposite the gradient: mhat = g, sqrt(vhat) = |g|.
func TestAdamFirstStepMagnitude(t *testing.T) {
	saved := params.Config
	defer func() { params.Config = saved }()
	params.Config.GradClip = 0
	params.Config.WeightDecay = 0
	params.Config.AdamBeta1 = 0.9
	params.Config.AdamBeta2 = 0.999
	params.Config.AdamEps = 1e-8

	p := mat.NewDense(2, 2, []float64{1, -1, 2, -2})
	g := mat.NewDense(2, 2, []float64{0.5, -0.25, 0.0, 1.0})
	opt := NewAdam([]*mat.Dense{p}, []*mat.Dense{g})

	lr := 0.01
	if n := opt.Step(lr); n != 1 {
		t.Fatalf("step count %d, want 1", n)
	}

	expect := func(p0, g0 float64) float64 {
		if g0 == 0 {
			return p0
		}
		return p0 - lr*g0/(math.Abs(g0)+1e-8)
	}
	checks := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	init := []float64{1, -1, 2, -2}
	grads := []float64{0.5, -0.25, 0.0, 1.0}
	for k, pt := range checks {
		i, j := pt[0], pt[1]
		want := expect(init[k], grads[k])
		if math.Abs(p.At(i, j)-want) > 1e-9 {
			t.Fatalf("p[%d,%d] = %.6g, want %.6g", i, j, p.At(i, j), want)
		}
	}
}

func TestAdamStepCounterShared(t *testing.T) {
	saved := params.Config
	defer func() { params.Config = saved }()
	params.Config.GradClip = 0
	params.Config.WeightDecay = 0

	a := mat.NewDense(1, 1, []float64{1})
	ga := mat.NewDense(1, 1, []float64{0.1})
	b := mat.NewDense(1, 1, []float64{1})
	gb := mat.NewDense(1, 1, []float64{0.1})
	opt := NewAdam([]*mat.Dense{a, b}, []*mat.Dense{ga, gb})

	opt.Step(0.01)
	opt.Step(0.01)
	if opt.StepCount() != 2 {
		t.Fatalf("step count %d, want 2", opt.StepCount())
	}
	// both tensors saw identical updates
	if a.At(0, 0) != b.At(0, 0) {
		t.Fatalf("aligned tensors diverged: %.6g vs %.6g", a.At(0, 0), b.At(0, 0))
	}
}

func TestAdamWeightDecayPullsTowardZero(t *testing.T) {
	saved := params.Config
	defer func() { params.Config = saved }()
	params.Config.GradClip = 0
	params.Config.WeightDecay = 0

	// zero gradient, no decay: parameter must not move
	p := mat.NewDense(1, 1, []float64{5})
	g := mat.NewDense(1, 1, nil)
	NewAdam([]*mat.Dense{p}, []*mat.Dense{g}).Step(0.01)
	if p.At(0, 0) != 5 {
		t.Fatalf("parameter moved without gradient or decay: %.6g", p.At(0, 0))
	}

	// zero gradient with decay: decoupled term shrinks the weight
	params.Config.WeightDecay = 0.1
	p2 := mat.NewDense(1, 1, []float64{5})
	g2 := mat.NewDense(1, 1, nil)
	NewAdam([]*mat.Dense{p2}, []*mat.Dense{g2}).Step(0.01)
	want := 5 - 0.01*0.1*5
	if math.Abs(p2.At(0, 0)-want) > 1e-12 {
		t.Fatalf("decayed weight %.6g, want %.6g", p2.At(0, 0), want)
	}
}

func TestAdamRejectsMisalignedSlices(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched slice lengths")
		}
	}()
	NewAdam([]*mat.Dense{mat.NewDense(1, 1, nil)}, nil)
}
