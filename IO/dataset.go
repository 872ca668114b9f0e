package IO

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// Pair is one encoded source/target sentence pair.
type Pair struct {
	Src []int
	Tgt []int
}

// Batch holds padded id sequences and their 0/1 keep masks. All rows in a
// side share the same length.
type Batch struct {
	Src     [][]int
	SrcMask [][]float64
	Tgt     [][]int
	TgtMask [][]float64
}

// LoadParallelCorpus reads aligned line files and encodes both sides with the
// shared tokenizer. Pairs where either side is empty, shorter than two tokens,
// or longer than maxLen are skipped.
func LoadParallelCorpus(srcPath, tgtPath string, maxLen int) ([]Pair, error) {
	srcLines, err := readLines(srcPath)
	if err != nil {
		return nil, err
	}
	tgtLines, err := readLines(tgtPath)
	if err != nil {
		return nil, err
	}
	if len(srcLines) != len(tgtLines) {
		return nil, fmt.Errorf("corpus mismatch: %d source lines vs %d target lines", len(srcLines), len(tgtLines))
	}

	var pairs []Pair
	for i := range srcLines {
		src, err := EncodeBPE(srcLines[i])
		if err != nil {
			return nil, err
		}
		tgt, err := EncodeBPE(tgtLines[i])
		if err != nil {
			return nil, err
		}
		if len(src) < 2 || len(tgt) < 2 {
			continue
		}
		if len(src) > maxLen || len(tgt) > maxLen {
			continue
		}
		pairs = append(pairs, Pair{Src: src, Tgt: tgt})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no usable pairs in %s / %s", srcPath, tgtPath)
	}
	return pairs, nil
}

// SplitPairs carves off a validation set. frac is the validation fraction and
// the split is deterministic given the shuffle seed applied before the call.
func SplitPairs(pairs []Pair, frac float64) (train, valid []Pair) {
	n := int(float64(len(pairs)) * frac)
	if n < 1 {
		n = 1
	}
	if n >= len(pairs) {
		n = len(pairs) - 1
	}
	return pairs[n:], pairs[:n]
}

// ShufflePairs permutes pairs in place.
func ShufflePairs(rng *rand.Rand, pairs []Pair) {
	rng.Shuffle(len(pairs), func(i, j int) {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	})
}

// MakeBatches groups pairs into fixed-size batches, padding each side to the
// longest sequence within the batch.
func MakeBatches(pairs []Pair, batchSize, padIdx int) []Batch {
	var batches []Batch
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		group := pairs[start:end]

		srcLen, tgtLen := 0, 0
		for _, p := range group {
			if len(p.Src) > srcLen {
				srcLen = len(p.Src)
			}
			if len(p.Tgt) > tgtLen {
				tgtLen = len(p.Tgt)
			}
		}

		b := Batch{
			Src:     make([][]int, len(group)),
			SrcMask: make([][]float64, len(group)),
			Tgt:     make([][]int, len(group)),
			TgtMask: make([][]float64, len(group)),
		}
		for i, p := range group {
			b.Src[i], b.SrcMask[i] = PadTo(p.Src, srcLen, padIdx)
			b.Tgt[i], b.TgtMask[i] = PadTo(p.Tgt, tgtLen, padIdx)
		}
		batches = append(batches, b)
	}
	return batches
}

// PadTo right-pads ids to length n with padIdx and returns the ids together
// with their 0/1 keep mask.
func PadTo(ids []int, n, padIdx int) ([]int, []float64) {
	out := make([]int, n)
	mask := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < len(ids) {
			out[i] = ids[i]
			mask[i] = 1
		} else {
			out[i] = padIdx
		}
	}
	return out, mask
}

// PaddingMaskOf rebuilds the keep mask from padded ids. Mostly used by the
// decode loop where no Batch exists.
func PaddingMaskOf(ids []int, padIdx int) []float64 {
	mask := make([]float64, len(ids))
	for i, id := range ids {
		if id != padIdx {
			mask[i] = 1
		}
	}
	return mask
}

// BOSID and EOSID resolve the sequence delimiters from the loaded vocab.
func BOSID() int { return VocabLookup(params.Vocab, "<bos>") }
func EOSID() int { return VocabLookup(params.Vocab, "<eos>") }

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
