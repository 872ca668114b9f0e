// Package IO is the data-side collaborator of the model: tokenizer
// training/loading, parallel-corpus reading and padded batch construction.
// Nothing in here is visible to the numerical core.
package IO

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/processors"
	"github.com/sugarme/tokenizer/trainers"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// Special tokens kept at the start of the vocab: pad must sit at id 0 so it
// matches ModelConfig.PadIdx.
var special = []string{"<pad>", "<bos>", "<eos>", "<unk>"}

// Shared BPE tokenizer for both language sides.
var bpeTokenizer *tk.Tokenizer

// LoadBPE loads a previously trained tokenizer from tokPath and fills
// params.Vocab. Encoding is impossible without one, so callers that cannot
// retrain (translate mode) must fail on error rather than fall back.
func LoadBPE(tokPath string) error {
	t, err := tk.FromFile(tokPath)
	if err != nil {
		return err
	}
	bpeTokenizer = t
	return fillParamsVocabFromTokenizer()
}

// TrainOrLoadBPE loads tokPath if it exists, otherwise trains a joint BPE
// tokenizer over the given corpus files and saves it. Either way it fills
// params.Vocab.
func TrainOrLoadBPE(tokPath string, vocabSize int, corpusPaths ...string) error {
	if fileExists(tokPath) {
		return LoadBPE(tokPath)
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)

	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	// every encoded sequence carries <bos>/<eos>; the pad id stays 0
	proc := processors.NewTemplateProcessing(
		"<bos> $A <eos>",
		"$A",
		map[string]int{
			"<bos>": 1,
			"<eos>": 2,
		},
	)
	t.WithPostProcessor(proc)

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = special

	if err := t.Train(tr, corpusPaths); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tokPath), 0o755); err != nil {
		return err
	}
	if err := t.Save(tokPath); err != nil {
		return err
	}
	bpeTokenizer = t
	return fillParamsVocabFromTokenizer()
}

func fillParamsVocabFromTokenizer() error {
	if bpeTokenizer == nil {
		return fmt.Errorf("tokenizer not initialized")
	}
	vocab := bpeTokenizer.GetVocab(true)
	id2tok := make([]string, len(vocab))
	tok2id := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		tok2id[tok] = id
		id2tok[id] = tok
	}
	params.Vocab = params.Vocabulary{TokenToID: tok2id, IDToToken: id2tok}
	return nil
}

// EncodeBPE encodes raw text into token ids, including <bos>/<eos> from the
// template processor.
func EncodeBPE(text string) ([]int, error) {
	if bpeTokenizer == nil {
		return nil, fmt.Errorf("tokenizer not initialized")
	}
	enc, err := bpeTokenizer.EncodeSingle(text)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		out[i] = int(v)
	}
	return out, nil
}

// DecodeIDs renders token ids back to text, dropping special tokens.
func DecodeIDs(ids []int) string {
	var parts []string
	for _, id := range ids {
		if id < 0 || id >= len(params.Vocab.IDToToken) {
			continue
		}
		tok := params.Vocab.IDToToken[id]
		if isSpecial(tok) {
			continue
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, " ")
}

func isSpecial(tok string) bool {
	for _, s := range special {
		if tok == s {
			return true
		}
	}
	return false
}

// VocabLookup maps a token to its id, falling back to <unk>.
func VocabLookup(v params.Vocabulary, tok string) int {
	if id, ok := v.TokenToID[tok]; ok {
		return id
	}
	return v.TokenToID["<unk>"]
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
