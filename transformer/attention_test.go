package transformer

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

func TestScaledDotProductAttentionMask(t *testing.T) {
	rand.Seed(123)
	dk, Tq, Tk := 4, 3, 5
	Q := mat.NewDense(dk, Tq, utils.RandomArray(dk*Tq, float64(dk)))
	K := mat.NewDense(dk, Tk, utils.RandomArray(dk*Tk, float64(dk)))
	V := mat.NewDense(dk, Tk, utils.RandomArray(dk*Tk, float64(dk)))

	// keys 3 and 4 are pad
	mask := mat.NewDense(Tq, Tk, nil)
	for i := 0; i < Tq; i++ {
		for j := 0; j < 3; j++ {
			mask.Set(i, j, 1)
		}
	}

	O, A := ScaledDotProductAttention(Q, K, V, mask)

	ar, ac := A.Dims()
	if ar != Tq || ac != Tk {
		t.Fatalf("attention weights %dx%d, want %dx%d", ar, ac, Tq, Tk)
	}
	if or, oc := O.Dims(); or != dk || oc != Tq {
		t.Fatalf("output %dx%d, want %dx%d", or, oc, dk, Tq)
	}
	for i, sum := range utils.RowSums(A) {
		if math.Abs(sum-1.0) > 1e-9 {
			t.Fatalf("row %d of attention sums to %.6g", i, sum)
		}
		for j := 3; j < Tk; j++ {
			if A.At(i, j) > 1e-12 {
				t.Fatalf("masked weight A[%d,%d] = %.6g", i, j, A.At(i, j))
			}
		}
	}
}

// A single-head instance must be numerically the unsplit primitive wrapped
// in the four projections.
func TestSingleHeadMatchesPrimitive(t *testing.T) {
	rand.Seed(123)
	hidden, T := 6, 4
	attn, err := NewMultiHeadAttention(hidden, 1)
	if err != nil {
		t.Fatalf("NewMultiHeadAttention: %v", err)
	}
	x := mat.NewDense(hidden, T, utils.RandomArray(hidden*T, float64(hidden)))

	got := attn.Forward(x, x, nil)

	var Q, K, V mat.Dense
	Q.Mul(attn.Wq, x)
	K.Mul(attn.Wk, x)
	V.Mul(attn.Wv, x)
	O, _ := ScaledDotProductAttention(&Q, &K, &V, nil)
	var want mat.Dense
	want.Mul(attn.Wo, O)

	if !mat.EqualApprox(got, &want, 1e-12) {
		t.Fatal("single-head output disagrees with the primitive")
	}
}

// With Wo pinned to identity the concatenated output must carry head h's
// attention in feature rows [h*dHead, (h+1)*dHead).
func TestHeadSplitPreservesOrder(t *testing.T) {
	rand.Seed(123)
	hidden, nHead, T := 8, 2, 3
	attn, err := NewMultiHeadAttention(hidden, nHead)
	if err != nil {
		t.Fatalf("NewMultiHeadAttention: %v", err)
	}
	for i := 0; i < hidden; i++ {
		for j := 0; j < hidden; j++ {
			if i == j {
				attn.Wo.Set(i, j, 1)
			} else {
				attn.Wo.Set(i, j, 0)
			}
		}
	}
	x := mat.NewDense(hidden, T, utils.RandomArray(hidden*T, float64(hidden)))

	got := attn.Forward(x, x, nil)

	var qf, kf, vf mat.Dense
	qf.Mul(attn.Wq, x)
	kf.Mul(attn.Wk, x)
	vf.Mul(attn.Wv, x)
	dHead := hidden / nHead
	for h := 0; h < nHead; h++ {
		base := h * dHead
		Qh := qf.Slice(base, base+dHead, 0, T).(*mat.Dense)
		Kh := kf.Slice(base, base+dHead, 0, T).(*mat.Dense)
		Vh := vf.Slice(base, base+dHead, 0, T).(*mat.Dense)
		Oh, _ := ScaledDotProductAttention(Qh, Kh, Vh, nil)

		gotH := got.Slice(base, base+dHead, 0, T)
		if !mat.EqualApprox(gotH, Oh, 1e-12) {
			t.Fatalf("head %d output not in rows [%d,%d)", h, base, base+dHead)
		}
	}
}

func TestMultiHeadRejectsBadShape(t *testing.T) {
	if _, err := NewMultiHeadAttention(6, 4); err == nil {
		t.Fatal("expected divisibility error for hidden=6 heads=4")
	}
	if _, err := NewMultiHeadAttention(8, 0); err == nil {
		t.Fatal("expected error for zero heads")
	}
}

func TestAttentionGradCheck(t *testing.T) {
	rand.Seed(123)
	hidden, T := 8, 3
	attn, err := NewMultiHeadAttention(hidden, 2)
	if err != nil {
		t.Fatalf("NewMultiHeadAttention: %v", err)
	}
	x := mat.NewDense(hidden, T, utils.RandomArray(hidden*T, float64(hidden)))
	R := mat.NewDense(hidden, T, utils.RandomArray(hidden*T, float64(hidden)))

	// scalar probe loss L = <Y, R>, so dL/dY = R
	forward := func() float64 {
		Y := attn.Forward(x, x, nil)
		s := 0.0
		for i := 0; i < hidden; i++ {
			for j := 0; j < T; j++ {
				s += Y.At(i, j) * R.At(i, j)
			}
		}
		return s
	}

	forward()
	attn.Backward(R)

	finiteDiffCheck(t, "Wq", attn.Wq, attn.GWq, forward, 0, 0)
	finiteDiffCheck(t, "Wk", attn.Wk, attn.GWk, forward, 1, 3)
	finiteDiffCheck(t, "Wv", attn.Wv, attn.GWv, forward, 5, 2)
	finiteDiffCheck(t, "Wo", attn.Wo, attn.GWo, forward, 2, 6)
}

// Cross-attention input gradients: dXq flows from the query side only and
// dXkv from the key/value side only.
func TestCrossAttentionInputGrads(t *testing.T) {
	rand.Seed(123)
	hidden, Tq, Tk := 8, 2, 4
	attn, err := NewMultiHeadAttention(hidden, 2)
	if err != nil {
		t.Fatalf("NewMultiHeadAttention: %v", err)
	}
	xQ := mat.NewDense(hidden, Tq, utils.RandomArray(hidden*Tq, float64(hidden)))
	xKV := mat.NewDense(hidden, Tk, utils.RandomArray(hidden*Tk, float64(hidden)))
	R := mat.NewDense(hidden, Tq, utils.RandomArray(hidden*Tq, float64(hidden)))

	forward := func() float64 {
		Y := attn.Forward(xQ, xKV, nil)
		s := 0.0
		for i := 0; i < hidden; i++ {
			for j := 0; j < Tq; j++ {
				s += Y.At(i, j) * R.At(i, j)
			}
		}
		return s
	}

	forward()
	dXq, dXkv := attn.Backward(R)

	if r, c := dXq.Dims(); r != hidden || c != Tq {
		t.Fatalf("dXq %dx%d, want %dx%d", r, c, hidden, Tq)
	}
	if r, c := dXkv.Dims(); r != hidden || c != Tk {
		t.Fatalf("dXkv %dx%d, want %dx%d", r, c, hidden, Tk)
	}

	finiteDiffCheck(t, "xQ", xQ, dXq, forward, 3, 1)
	finiteDiffCheck(t, "xKV", xKV, dXkv, forward, 6, 2)
}
