package IO

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

func TestImportVocabJSON(t *testing.T) {
	saved := params.Vocab
	defer func() { params.Vocab = saved }()

	path := filepath.Join(t.TempDir(), "vocab.json")
	raw := `{
  "TokenToID": {"<pad>": 0, "<bos>": 1, "<eos>": 2, "<unk>": 3, "hello": 4},
  "IDToToken": ["<pad>", "<bos>", "<eos>", "<unk>", "hello"]
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := ImportVocabJSON(path); err != nil {
		t.Fatalf("ImportVocabJSON: %v", err)
	}
	if got := params.Vocab.TokenToID["hello"]; got != 4 {
		t.Fatalf("TokenToID[hello] = %d, want 4", got)
	}
	if got := params.Vocab.IDToToken[0]; got != "<pad>" {
		t.Fatalf("IDToToken[0] = %q, want <pad>", got)
	}
	if got := VocabLookup(params.Vocab, "absent"); got != params.Vocab.TokenToID["<unk>"] {
		t.Fatalf("unknown token resolved to %d, want the <unk> id", got)
	}
}

func TestImportVocabJSONRejectsEmpty(t *testing.T) {
	saved := params.Vocab
	defer func() { params.Vocab = saved }()

	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, []byte(`{"TokenToID": {}, "IDToToken": []}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ImportVocabJSON(path); err == nil {
		t.Fatal("expected error for a vocab file with no tokens")
	}
	if err := ImportVocabJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadBPERequiresFile(t *testing.T) {
	if err := LoadBPE(filepath.Join(t.TempDir(), "tokenizer.json")); err == nil {
		t.Fatal("expected error when the tokenizer file does not exist")
	}
}
