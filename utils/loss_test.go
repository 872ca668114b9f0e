package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSmoothedCrossEntropyPlain(t *testing.T) {
	// eps=0 reduces to ordinary cross-entropy with a onehot target
	logits := mat.NewDense(3, 1, []float64{1.0, 2.0, 0.5})
	loss, grad, n := SmoothedCrossEntropy(logits, []int{1}, 0, 0)
	if n != 1 {
		t.Fatalf("counted %d tokens, want 1", n)
	}

	mx := 2.0
	z := math.Exp(1.0-mx) + math.Exp(2.0-mx) + math.Exp(0.5-mx)
	want := -(2.0 - mx - math.Log(z))
	if math.Abs(loss-want) > 1e-12 {
		t.Fatalf("loss %.6g, want %.6g", loss, want)
	}

	// grad = softmax - onehot
	target := OneHot(3, 1)
	for i := 0; i < 3; i++ {
		p := math.Exp(logits.At(i, 0)-mx) / z
		wantG := p - target.At(i, 0)
		if math.Abs(grad.At(i, 0)-wantG) > 1e-12 {
			t.Fatalf("grad[%d] %.6g, want %.6g", i, grad.At(i, 0), wantG)
		}
	}
}

func TestSmoothedCrossEntropySkipsPad(t *testing.T) {
	logits := mat.NewDense(4, 3, []float64{
		0.1, 0.3, -0.2,
		0.2, -0.1, 0.4,
		-0.3, 0.5, 0.1,
		0.4, 0.2, -0.5,
	})
	loss, grad, n := SmoothedCrossEntropy(logits, []int{2, 0, 3}, 0, 0.1)
	if n != 2 {
		t.Fatalf("counted %d tokens, want 2", n)
	}
	if loss <= 0 {
		t.Fatalf("loss %.6g, want positive", loss)
	}
	// the pad column carries no gradient at all
	for i := 0; i < 4; i++ {
		if grad.At(i, 1) != 0 {
			t.Fatalf("pad column gradient row %d = %.6g", i, grad.At(i, 1))
		}
	}
}

// Each counted column of the gradient sums to zero: sum(p) = sum(q) = 1.
func TestSmoothedCrossEntropyGradSumsZero(t *testing.T) {
	logits := mat.NewDense(5, 2, []float64{
		0.3, -1.2,
		-0.7, 0.8,
		1.1, 0.2,
		-0.4, -0.6,
		0.9, 1.5,
	})
	_, grad, _ := SmoothedCrossEntropy(logits, []int{4, 2}, 0, 0.1)
	for c := 0; c < 2; c++ {
		s := 0.0
		for i := 0; i < 5; i++ {
			s += grad.At(i, c)
		}
		if math.Abs(s) > 1e-12 {
			t.Fatalf("gradient column %d sums to %.6g", c, s)
		}
	}
}

func TestSmoothedCrossEntropyAllPad(t *testing.T) {
	logits := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	loss, grad, n := SmoothedCrossEntropy(logits, []int{0, 0}, 0, 0.1)
	if n != 0 || loss != 0 {
		t.Fatalf("all-pad batch gave loss %.6g count %d", loss, n)
	}
	for i := 0; i < 3; i++ {
		for c := 0; c < 2; c++ {
			if grad.At(i, c) != 0 {
				t.Fatal("all-pad batch gave nonzero gradient")
			}
		}
	}
}

// Smoothing strictly raises the loss of a confident correct prediction:
// mass eps is moved onto low-probability tokens.
func TestSmoothingRaisesConfidentLoss(t *testing.T) {
	logits := mat.NewDense(3, 1, []float64{8.0, 0.0, 0.0})
	plain, _, _ := SmoothedCrossEntropy(logits, []int{0}, 2, 0)
	smoothed, _, _ := SmoothedCrossEntropy(logits, []int{0}, 2, 0.1)
	if smoothed <= plain {
		t.Fatalf("smoothed loss %.6g not above plain %.6g", smoothed, plain)
	}
}

func TestSmoothedCrossEntropyFiniteDiff(t *testing.T) {
	logits := mat.NewDense(4, 2, []float64{
		0.2, -0.5,
		-0.8, 0.3,
		0.6, 1.1,
		-0.1, -0.9,
	})
	labels := []int{2, 1}
	_, grad, _ := SmoothedCrossEntropy(logits, labels, 0, 0.1)

	eps := 1e-6
	for _, pt := range [][2]int{{0, 0}, {2, 0}, {1, 1}, {3, 1}} {
		i, c := pt[0], pt[1]
		w0 := logits.At(i, c)
		logits.Set(i, c, w0+eps)
		lp, _, _ := SmoothedCrossEntropy(logits, labels, 0, 0.1)
		logits.Set(i, c, w0-eps)
		lm, _, _ := SmoothedCrossEntropy(logits, labels, 0, 0.1)
		logits.Set(i, c, w0)

		num := (lp - lm) / (2 * eps)
		if math.Abs(num-grad.At(i, c)) > 1e-6 {
			t.Fatalf("grad[%d,%d] mismatch: num=%.6g ana=%.6g", i, c, num, grad.At(i, c))
		}
	}
}
