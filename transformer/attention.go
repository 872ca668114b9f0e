package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// ScaledDotProductAttention computes softmax(Q^T K / sqrt(d_k)) V^T for one
// head. Q is (d_k x Tq), K is (d_k x Tk), V is (d_v x Tk); mask is a 0/1
// (Tq x Tk) matrix or nil. Returns the output (d_v x Tq) and the attention
// weights (Tq x Tk). The primitive has no learned parameters.
func ScaledDotProductAttention(Q, K, V, mask *mat.Dense) (*mat.Dense, *mat.Dense) {
	dk, Tq := Q.Dims()
	dk2, Tk := K.Dims()
	if dk != dk2 {
		panic(fmt.Sprintf("ScaledDotProductAttention: Q depth %d vs K depth %d", dk, dk2))
	}
	if _, vc := V.Dims(); vc != Tk {
		panic(fmt.Sprintf("ScaledDotProductAttention: V has %d positions, K has %d", vc, Tk))
	}
	if mask != nil {
		if mr, mc := mask.Dims(); mr != Tq || mc != Tk {
			panic(fmt.Sprintf("ScaledDotProductAttention: mask %dx%d for scores %dx%d", mr, mc, Tq, Tk))
		}
	}

	rescale := 1.0 / math.Sqrt(float64(dk))
	scores := utils.ToDense(utils.Scale(rescale, utils.Dot(Q.T(), K))) // (Tq x Tk)

	A := utils.RowSoftmaxMasked(scores, mask)

	var O mat.Dense
	O.Mul(V, A.T()) // (d_v x Tq)
	return &O, A
}

// MultiHeadAttention projects its inputs through four square (hidden x
// hidden) matrices, runs scaled dot-product attention per head on the
// row-sliced projections, and recombines. Head h owns feature rows
// [h*dHead, (h+1)*dHead), so a single-head instance is numerically the
// unsplit computation.
type MultiHeadAttention struct {
	Hidden int
	NHead  int
	DHead  int

	Wq, Wk, Wv, Wo *mat.Dense // (hidden x hidden)
	GWq, GWk, GWv, GWo *mat.Dense

	// forward caches consumed by the next Backward
	xQ, xKV    *mat.Dense
	qf, kf, vf *mat.Dense
	attn       []*mat.Dense // per head (Tq x Tk)
	ocat       *mat.Dense
}

func NewMultiHeadAttention(hidden, nHead int) (*MultiHeadAttention, error) {
	if nHead <= 0 {
		return nil, fmt.Errorf("attention: n_head must be positive, got %d", nHead)
	}
	if hidden%nHead != 0 {
		return nil, fmt.Errorf("attention: hidden_size (%d) must be divisible by n_head (%d)", hidden, nHead)
	}
	newW := func() *mat.Dense {
		return mat.NewDense(hidden, hidden, utils.RandomArray(hidden*hidden, float64(hidden)))
	}
	return &MultiHeadAttention{
		Hidden: hidden,
		NHead:  nHead,
		DHead:  hidden / nHead,
		Wq:     newW(), Wk: newW(), Wv: newW(), Wo: newW(),
		GWq: mat.NewDense(hidden, hidden, nil),
		GWk: mat.NewDense(hidden, hidden, nil),
		GWv: mat.NewDense(hidden, hidden, nil),
		GWo: mat.NewDense(hidden, hidden, nil),
		attn: make([]*mat.Dense, nHead),
	}, nil
}

// Forward attends queries xQ (hidden x Tq) over keys/values xKV (hidden x
// Tk). Self-attention passes the same matrix for both; cross-attention
// passes the decoder state and the encoder output. mask is the combined 0/1
// (Tq x Tk) mask or nil.
func (a *MultiHeadAttention) Forward(xQ, xKV, mask *mat.Dense) *mat.Dense {
	if r, _ := xQ.Dims(); r != a.Hidden {
		panic(fmt.Sprintf("MultiHeadAttention: query width %d, expected hidden %d", r, a.Hidden))
	}
	if r, _ := xKV.Dims(); r != a.Hidden {
		panic(fmt.Sprintf("MultiHeadAttention: key/value width %d, expected hidden %d", r, a.Hidden))
	}
	_, Tq := xQ.Dims()

	var qf, kf, vf mat.Dense
	qf.Mul(a.Wq, xQ)
	kf.Mul(a.Wk, xKV)
	vf.Mul(a.Wv, xKV)

	ocat := mat.NewDense(a.Hidden, Tq, nil)
	for h := 0; h < a.NHead; h++ {
		base := h * a.DHead
		Qh := sliceRows(&qf, base, base+a.DHead)
		Kh := sliceRows(&kf, base, base+a.DHead)
		Vh := sliceRows(&vf, base, base+a.DHead)

		Oh, Ah := ScaledDotProductAttention(Qh, Kh, Vh, mask)
		a.attn[h] = Ah
		sliceRows(ocat, base, base+a.DHead).Copy(Oh)
	}

	var Y mat.Dense
	Y.Mul(a.Wo, ocat)

	a.xQ, a.xKV = xQ, xKV
	a.qf, a.kf, a.vf = &qf, &kf, &vf
	a.ocat = ocat
	return &Y
}

// Backward accumulates the projection gradients and returns the gradients
// w.r.t. the query input and the key/value input. For self-attention the
// caller sums the two.
func (a *MultiHeadAttention) Backward(dY *mat.Dense) (dXq, dXkv *mat.Dense) {
	if a.ocat == nil {
		panic("MultiHeadAttention.Backward: no cached forward pass")
	}
	_, Tq := a.xQ.Dims()
	_, Tk := a.xKV.Dims()

	// Y = Wo * Ocat
	var gWo mat.Dense
	gWo.Mul(dY, a.ocat.T())
	a.GWo.Add(a.GWo, &gWo)
	var dOcat mat.Dense
	dOcat.Mul(a.Wo.T(), dY)

	dQf := mat.NewDense(a.Hidden, Tq, nil)
	dKf := mat.NewDense(a.Hidden, Tk, nil)
	dVf := mat.NewDense(a.Hidden, Tk, nil)

	rescale := 1.0 / math.Sqrt(float64(a.DHead))
	for h := 0; h < a.NHead; h++ {
		base := h * a.DHead
		dO := sliceRows(&dOcat, base, base+a.DHead) // (dHead x Tq)
		Qh := sliceRows(a.qf, base, base+a.DHead)
		Kh := sliceRows(a.kf, base, base+a.DHead)
		Vh := sliceRows(a.vf, base, base+a.DHead)
		Ah := a.attn[h] // (Tq x Tk)

		// O = V * A^T
		var dV mat.Dense
		dV.Mul(dO, Ah) // (dHead x Tk)
		var dA mat.Dense
		dA.Mul(dO.T(), Vh) // (Tq x Tk)

		// A = softmax_row(S); masked entries carry ~zero weight and grad
		dS := utils.SoftmaxBackward(&dA, Ah)

		// S = Q^T K / sqrt(dHead)
		var dQ, dK mat.Dense
		dQ.Mul(Kh, dS.T()) // (dHead x Tq)
		dQ.Scale(rescale, &dQ)
		dK.Mul(Qh, dS) // (dHead x Tk)
		dK.Scale(rescale, &dK)

		sliceRows(dQf, base, base+a.DHead).Copy(&dQ)
		sliceRows(dKf, base, base+a.DHead).Copy(&dK)
		sliceRows(dVf, base, base+a.DHead).Copy(&dV)
	}

	var gWq, gWk, gWv mat.Dense
	gWq.Mul(dQf, a.xQ.T())
	gWk.Mul(dKf, a.xKV.T())
	gWv.Mul(dVf, a.xKV.T())
	a.GWq.Add(a.GWq, &gWq)
	a.GWk.Add(a.GWk, &gWk)
	a.GWv.Add(a.GWv, &gWv)

	var dxq, dxk, dxv mat.Dense
	dxq.Mul(a.Wq.T(), dQf)
	dxk.Mul(a.Wk.T(), dKf)
	dxv.Mul(a.Wv.T(), dVf)
	var dxkv mat.Dense
	dxkv.Add(&dxk, &dxv)
	return &dxq, &dxkv
}

func (a *MultiHeadAttention) Parameters() []*mat.Dense {
	return []*mat.Dense{a.Wq, a.Wk, a.Wv, a.Wo}
}

func (a *MultiHeadAttention) Gradients() []*mat.Dense {
	return []*mat.Dense{a.GWq, a.GWk, a.GWv, a.GWo}
}

func sliceRows(m *mat.Dense, r0, r1 int) *mat.Dense {
	_, c := m.Dims()
	return m.Slice(r0, r1, 0, c).(*mat.Dense)
}
