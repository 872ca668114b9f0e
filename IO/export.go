package IO

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// ExportVocabJSON writes TokenToID/IDToToken from the loaded tokenizer so
// other tools can read the mapping without the tokenizer file.
func ExportVocabJSON(path string) error {
	if bpeTokenizer == nil {
		return fmt.Errorf("tokenizer not initialized")
	}
	data := map[string]any{
		"TokenToID": params.Vocab.TokenToID,
		"IDToToken": params.Vocab.IDToToken,
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ImportVocabJSON restores params.Vocab from a previous export. Used when
// translating with a checkpoint but without retraining the tokenizer.
func ImportVocabJSON(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var data struct {
		TokenToID map[string]int `json:"TokenToID"`
		IDToToken []string       `json:"IDToToken"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	if len(data.IDToToken) == 0 {
		return fmt.Errorf("vocab file %s has no tokens", path)
	}
	params.Vocab = params.Vocabulary{TokenToID: data.TokenToID, IDToToken: data.IDToToken}
	return nil
}
