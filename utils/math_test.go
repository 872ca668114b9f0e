package utils

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRowSoftmaxMasked(t *testing.T) {
	scores := mat.NewDense(2, 3, []float64{
		1.0, 2.0, 3.0,
		0.5, 0.5, 0.5,
	})
	mask := mat.NewDense(2, 3, []float64{
		1, 1, 0,
		1, 1, 1,
	})
	A := RowSoftmaxMasked(scores, mask)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += A.At(i, j)
		}
		if math.Abs(sum-1.0) > 1e-12 {
			t.Fatalf("row %d sums to %.6g", i, sum)
		}
	}
	if A.At(0, 2) > 1e-12 {
		t.Fatalf("masked entry has weight %.6g", A.At(0, 2))
	}
	// unmasked uniform row
	for j := 0; j < 3; j++ {
		if math.Abs(A.At(1, j)-1.0/3.0) > 1e-12 {
			t.Fatalf("uniform row entry %d = %.6g", j, A.At(1, j))
		}
	}
}

func TestRowSoftmaxMaskedNilMask(t *testing.T) {
	scores := mat.NewDense(1, 2, []float64{0, 0})
	A := RowSoftmaxMasked(scores, nil)
	if math.Abs(A.At(0, 0)-0.5) > 1e-12 || math.Abs(A.At(0, 1)-0.5) > 1e-12 {
		t.Fatal("nil mask changed the softmax")
	}
}

// Vector-JVP softmax backward against finite differences of the forward.
func TestSoftmaxBackwardFiniteDiff(t *testing.T) {
	rand.Seed(123)
	scores := mat.NewDense(2, 4, RandomArray(8, 4))
	dA := mat.NewDense(2, 4, RandomArray(8, 4))

	A := RowSoftmax(scores)
	dS := SoftmaxBackward(dA, A)

	probe := func() float64 {
		A := RowSoftmax(scores)
		s := 0.0
		for i := 0; i < 2; i++ {
			for j := 0; j < 4; j++ {
				s += A.At(i, j) * dA.At(i, j)
			}
		}
		return s
	}

	eps := 1e-6
	for _, pt := range [][2]int{{0, 0}, {0, 3}, {1, 2}} {
		i, j := pt[0], pt[1]
		w0 := scores.At(i, j)
		scores.Set(i, j, w0+eps)
		lp := probe()
		scores.Set(i, j, w0-eps)
		lm := probe()
		scores.Set(i, j, w0)

		num := (lp - lm) / (2 * eps)
		if math.Abs(num-dS.At(i, j)) > 1e-6 {
			t.Fatalf("dS[%d,%d] mismatch: num=%.6g ana=%.6g", i, j, num, dS.At(i, j))
		}
	}
}

func TestSampleFromProbsTopK1(t *testing.T) {
	rand.Seed(123)
	probs := mat.NewDense(5, 1, []float64{0.1, 0.05, 0.6, 0.2, 0.05})
	for trial := 0; trial < 20; trial++ {
		if got := SampleFromProbs(probs, 1, 0); got != 2 {
			t.Fatalf("topK=1 sampled %d, want argmax 2", got)
		}
	}
}

func TestSampleFromProbsTopP(t *testing.T) {
	rand.Seed(123)
	// nucleus 0.5 keeps only token 2 (0.6 >= 0.5)
	probs := mat.NewDense(5, 1, []float64{0.1, 0.05, 0.6, 0.2, 0.05})
	for trial := 0; trial < 20; trial++ {
		if got := SampleFromProbs(probs, 0, 0.5); got != 2 {
			t.Fatalf("topP=0.5 sampled %d, want 2", got)
		}
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 2, []float64{0, 4})
	// global norm is 5, clip to 1
	s := ClipGrads(1.0, a, b)
	if math.Abs(s-0.2) > 1e-12 {
		t.Fatalf("scale %.6g, want 0.2", s)
	}
	if math.Abs(a.At(0, 0)-0.6) > 1e-12 || math.Abs(b.At(0, 1)-0.8) > 1e-12 {
		t.Fatal("gradients not rescaled to the clip norm")
	}

	// under the limit nothing moves
	c := mat.NewDense(1, 1, []float64{0.5})
	if s := ClipGrads(1.0, c); s != 1.0 || c.At(0, 0) != 0.5 {
		t.Fatal("clip modified a gradient under the limit")
	}
}

func TestLastCol(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 5,
		3, 6,
	})
	last := LastCol(m)
	if r, c := last.Dims(); r != 3 || c != 1 {
		t.Fatalf("last column %dx%d, want 3x1", r, c)
	}
	for i, want := range []float64{4, 5, 6} {
		if last.At(i, 0) != want {
			t.Fatalf("last[%d] = %v, want %v", i, last.At(i, 0), want)
		}
	}
}

func TestArgmaxCol(t *testing.T) {
	v := mat.NewDense(4, 1, []float64{-1, 7, 3, 7})
	if got := ArgmaxCol(v); got != 1 {
		t.Fatalf("argmax %d, want first maximum 1", got)
	}
}
