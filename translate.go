package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/qicqock/Transformer-Reimplementation/IO"
	"github.com/qicqock/Transformer-Reimplementation/transformer"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

const (
	decodeTopK = 15
	decodeTopP = 0.9
)

// Translate decodes one source sentence autoregressively. Greedy picks the
// argmax at every step; otherwise top-k/top-p sampling.
func Translate(model *transformer.Transformer, src []int, greedy bool) []int {
	model.SetTraining(false)

	padIdx := model.Config.PadIdx
	srcPad := IO.PaddingMaskOf(src, padIdx)
	bos, eos := IO.BOSID(), IO.EOSID()

	ys := []int{bos}
	for len(ys) < model.Config.MaxLen {
		// the last slot is sliced off inside Forward, only ys feeds the decoder
		tgt := append(append([]int{}, ys...), padIdx)
		tgtPad := make([]float64, len(tgt))
		for i := range tgtPad {
			tgtPad[i] = 1
		}

		logits, err := model.Forward(src, srcPad, tgt, tgtPad)
		if err != nil {
			fmt.Println("decode error:", err)
			break
		}
		last := utils.LastCol(logits)

		var next int
		if greedy {
			next = utils.ArgmaxCol(last)
		} else {
			probs := utils.ColVectorSoftmax(last)
			next = utils.SampleFromProbs(probs, decodeTopK, decodeTopP)
		}

		ys = append(ys, next)
		if next == eos {
			break
		}
	}
	return ys
}

// TranslateCLI is a stdin loop around Translate. Type 'exit' to quit.
func TranslateCLI(model *transformer.Transformer, greedy bool) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Translator ready. Type 'exit' to quit.")
	for {
		fmt.Print("You: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		input = strings.TrimSpace(input)
		if input == "exit" {
			break
		}
		if input == "" {
			continue
		}

		src, err := IO.EncodeBPE(input)
		if err != nil {
			fmt.Println("Encode error:", err)
			continue
		}
		if len(src) > model.Config.MaxLen {
			src = src[:model.Config.MaxLen]
		}

		out := Translate(model, src, greedy)
		fmt.Println("Bot:", IO.DecodeIDs(out))
	}
}
