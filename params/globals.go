package params

import "fmt"

// Vocabulary maps between tokens and integer ids. Filled by the IO layer
// from the trained tokenizer; id 0 is always <pad>.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
}

// Global vocabulary, initialized on first tokenizer load.
var Vocab Vocabulary

// ModelConfig holds the architecture parameters of the seq2seq transformer.
// Invariant: NHead * DHead == HiddenSize.
type ModelConfig struct {
	HiddenSize  int     // model width
	NHead       int     // attention heads
	DHead       int     // width per head (HiddenSize / NHead)
	FFSize      int     // position-wise feed-forward hidden width
	DropoutProb float64 // dropout after each sublayer and embedding
	NLayer      int     // encoder and decoder depth
	PadIdx      int     // reserved pad token id
	VocabSize   int     // |V|, shared between source and target
	MaxLen      int     // longest supported sequence
}

// Validate fails fast on any inconsistent architecture parameter so a bad
// config never reaches the numerical core.
func (c ModelConfig) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.HiddenSize%2 != 0 {
		return fmt.Errorf("hidden_size must be even for sinusoidal positional encoding, got %d", c.HiddenSize)
	}
	if c.NHead <= 0 {
		return fmt.Errorf("n_head must be positive, got %d", c.NHead)
	}
	if c.HiddenSize%c.NHead != 0 {
		return fmt.Errorf("hidden_size (%d) must be divisible by n_head (%d)", c.HiddenSize, c.NHead)
	}
	if c.DHead != c.HiddenSize/c.NHead {
		return fmt.Errorf("d_head (%d) must equal hidden_size/n_head (%d)", c.DHead, c.HiddenSize/c.NHead)
	}
	if c.FFSize <= 0 {
		return fmt.Errorf("ff_size must be positive, got %d", c.FFSize)
	}
	if c.DropoutProb < 0 || c.DropoutProb >= 1 {
		return fmt.Errorf("dropout_prob must be in [0,1), got %g", c.DropoutProb)
	}
	if c.NLayer <= 0 {
		return fmt.Errorf("n_layer must be positive, got %d", c.NLayer)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.PadIdx < 0 || c.PadIdx >= c.VocabSize {
		return fmt.Errorf("pad_idx %d out of range [0,%d)", c.PadIdx, c.VocabSize)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("max_len must be positive, got %d", c.MaxLen)
	}
	return nil
}

// TrainingConfig holds everything the loop driver and optimizer need.
// None of it is visible to the numerical core.
type TrainingConfig struct {
	LR             float64 // peak learning rate after warmup
	WarmupSteps    int     // linear warmup steps
	DecaySteps     int     // cosine decay steps after warmup (0 = none)
	AdamBeta1      float64
	AdamBeta2      float64
	AdamEps        float64
	WeightDecay    float64 // AdamW-style, 0 disables
	GradClip       float64 // global grad-norm clip, <=0 disables
	LabelSmoothing float64 // epsilon mixed into the target distribution

	MaxEpochs            int
	BatchSize            int
	Patience             int     // early stopping patience (epochs)
	Epsilon              float64 // stop if train loss < epsilon
	ImprovementThreshold float64 // min eval gain before a new best checkpoint
	SaveEpochNumber      int     // periodic checkpoint every N epochs

	Debug      bool
	DebugEvery int // print every N optimizer steps when Debug is set
}

// Model and Config are the process-wide defaults, overridable from flags.
var Model = ModelConfig{
	HiddenSize:  256,
	NHead:       8,
	DHead:       32,
	FFSize:      1024,
	DropoutProb: 0.1,
	NLayer:      4,
	PadIdx:      0,
	VocabSize:   16384,
	MaxLen:      128,
}

var Config = TrainingConfig{
	LR:             0.0003,
	WarmupSteps:    4000,
	DecaySteps:     100_000,
	AdamBeta1:      0.9,
	AdamBeta2:      0.999,
	AdamEps:        1e-8,
	WeightDecay:    0.01,
	GradClip:       1.0,
	LabelSmoothing: 0.1,

	MaxEpochs:            200,
	BatchSize:            64,
	Patience:             10,
	Epsilon:              1e-4,
	ImprovementThreshold: 0.005,
	SaveEpochNumber:      10,

	Debug:      false,
	DebugEvery: 1000,
}
