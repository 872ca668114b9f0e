package utils

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Thin wrappers over gonum mat so call sites stay one-liners.

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func Subtract(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Sub(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func OnesLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

// RandomArray returns uniform values in [-1/sqrt(v), 1/sqrt(v)], the usual
// fan-in scaled init.
func RandomArray(size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rand.Float64()
	}
	return out
}

func MatrixNorm(m *mat.Dense) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			s += v * v
		}
	}
	return math.Sqrt(s)
}

// RowSums returns per-row sums for a mat.Dense.
func RowSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			sum += m.At(i, j)
		}
		out[i] = sum
	}
	return out
}

func LastCol(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, m.At(i, c-1))
	}
	return out
}

func OneHot(n, idx int) *mat.Dense {
	v := make([]float64, n)
	if idx >= 0 && idx < n {
		v[idx] = 1.0
	}
	return mat.NewDense(n, 1, v)
}

// MaskFill replaces a score wherever the 0/1 mask is zero. Large-magnitude
// negative so the masked probability underflows to zero after softmax, but
// finite so a fully masked row yields uniform junk instead of NaN.
const MaskFill = -1e9

// ---------- Softmax variants ----------

// RowSoftmaxMasked writes row softmax of scores into a new matrix, treating
// entries whose mask value is zero as MaskFill. mask may be nil for the
// unmasked case.
func RowSoftmaxMasked(scores, mask *mat.Dense) *mat.Dense {
	r, c := scores.Dims()
	if mask != nil {
		if mr, mc := mask.Dims(); mr != r || mc != c {
			panic(fmt.Sprintf("RowSoftmaxMasked: mask %dx%d does not match scores %dx%d", mr, mc, r, c))
		}
	}
	at := func(i, j int) float64 {
		if mask != nil && mask.At(i, j) == 0 {
			return MaskFill
		}
		return scores.At(i, j)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		mx := at(i, 0)
		for j := 1; j < c; j++ {
			if v := at(i, j); v > mx {
				mx = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(at(i, j) - mx)
			out.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)*inv)
		}
	}
	return out
}

// RowSoftmax applies softmax independently to each row across columns.
func RowSoftmax(m mat.Matrix) *mat.Dense {
	return RowSoftmaxMasked(ToDense(m), nil)
}

// ColVectorSoftmax applies softmax across the single column of a (r x 1)
// vector. Used for logits -> probabilities during decoding.
func ColVectorSoftmax(v *mat.Dense) *mat.Dense {
	r, c := v.Dims()
	if c != 1 {
		panic("ColVectorSoftmax expects a (r x 1) column vector")
	}
	out := mat.NewDense(r, 1, nil)
	mx := v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > mx {
			mx = v.At(i, 0)
		}
	}
	sum := 0.0
	for i := 0; i < r; i++ {
		e := math.Exp(v.At(i, 0) - mx)
		out.Set(i, 0, e)
		sum += e
	}
	for i := 0; i < r; i++ {
		out.Set(i, 0, out.At(i, 0)/sum)
	}
	return out
}

// SoftmaxBackward is the vector-JVP form for row-wise softmax:
// for each row i, s = sum_k dA[i,k]*A[i,k]; dS[i,j] = A[i,j]*(dA[i,j] - s).
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// SampleFromProbs draws a token id from a (V x 1) probability column with
// optional top-k and top-p (nucleus) filtering. topK <= 0 and topP outside
// (0,1) disable the respective filter.
func SampleFromProbs(probs *mat.Dense, topK int, topP float64) int {
	r, c := probs.Dims()
	if c != 1 {
		panic("SampleFromProbs expects column vector")
	}
	type kv struct {
		id  int
		val float64
	}
	arr := make([]kv, r)
	sum := 0.0
	for i := 0; i < r; i++ {
		p := probs.At(i, 0)
		arr[i] = kv{id: i, val: p}
		sum += p
	}
	for i := range arr {
		arr[i].val /= sum
	}

	// sort descending by prob
	sort.Slice(arr, func(i, j int) bool { return arr[i].val > arr[j].val })

	if topK > 0 && topK < len(arr) {
		arr = arr[:topK]
	}
	if topP > 0 && topP < 1 {
		cum := 0.0
		cut := len(arr)
		for i, e := range arr {
			cum += e.val
			if cum >= topP {
				cut = i + 1
				break
			}
		}
		arr = arr[:cut]
	}

	sum = 0.0
	for _, e := range arr {
		sum += e.val
	}
	rnd := rand.Float64() * sum
	cum := 0.0
	for _, e := range arr {
		cum += e.val
		if rnd < cum {
			return e.id
		}
	}
	return arr[len(arr)-1].id
}

// ArgmaxCol returns the row index of the largest entry in a (r x 1) column.
func ArgmaxCol(v *mat.Dense) int {
	r, _ := v.Dims()
	best, bestV := 0, v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > bestV {
			best, bestV = i, v.At(i, 0)
		}
	}
	return best
}
