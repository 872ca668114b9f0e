package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/qicqock/Transformer-Reimplementation/IO"
	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/transformer"
)

var (
	modeFlag   = flag.String("mode", "train", "train or translate")
	srcFlag    = flag.String("src", "data/train.src", "source-language corpus")
	tgtFlag    = flag.String("tgt", "data/train.tgt", "target-language corpus")
	tokFlag    = flag.String("tokenizer", "models/tokenizer.json", "BPE tokenizer file")
	vocabFlag  = flag.String("vocab", "models/vocab.json", "vocab export path")
	ckptFlag   = flag.String("checkpoint", "models/best_model.gob", "checkpoint path")
	seedFlag   = flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	greedyFlag = flag.Bool("greedy", false, "argmax decoding instead of top-k sampling")
)

func main() {
	flag.Parse()

	seed := *seedFlag
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	rand.Seed(seed)

	if err := params.Model.Validate(); err != nil {
		fmt.Println("bad model config:", err)
		os.Exit(1)
	}

	switch *modeFlag {
	case "train":
		if err := runTraining(); err != nil {
			fmt.Println("training failed:", err)
			os.Exit(1)
		}
	case "translate":
		if err := runTranslate(); err != nil {
			fmt.Println("translate failed:", err)
			os.Exit(1)
		}
	default:
		fmt.Println("unknown mode:", *modeFlag)
		os.Exit(1)
	}
}

func runTraining() error {
	if err := IO.TrainOrLoadBPE(*tokFlag, params.Model.VocabSize, *srcFlag, *tgtFlag); err != nil {
		return err
	}
	if err := IO.ExportVocabJSON(*vocabFlag); err != nil {
		return err
	}
	// the trained BPE may end up smaller than the requested size
	params.Model.VocabSize = len(params.Vocab.IDToToken)

	pairs, err := IO.LoadParallelCorpus(*srcFlag, *tgtFlag, params.Model.MaxLen)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d sentence pairs.\n", len(pairs))

	model, err := transformer.NewTransformer(params.Model)
	if err != nil {
		return err
	}

	t1 := time.Now()
	best := TrainTranslator(model, pairs)
	fmt.Printf("\nTime taken to train: %s\n", time.Since(t1))

	if err := transformer.Save(best, *ckptFlag); err != nil {
		fmt.Println("Error saving model:", err)
		return err
	}
	fmt.Println("Saved the best performing model.")
	return nil
}

func runTranslate() error {
	// a vocab export alone cannot encode input text, so the trained
	// tokenizer file is mandatory here
	if err := IO.LoadBPE(*tokFlag); err != nil {
		return fmt.Errorf("translate mode needs the trained tokenizer at %s: %w", *tokFlag, err)
	}

	model, err := transformer.Load(*ckptFlag)
	if err != nil {
		return err
	}
	params.Model = model.Config

	TranslateCLI(model, *greedyFlag)
	return nil
}
