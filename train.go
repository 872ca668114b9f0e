package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/IO"
	"github.com/qicqock/Transformer-Reimplementation/optimizations"
	"github.com/qicqock/Transformer-Reimplementation/params"
	"github.com/qicqock/Transformer-Reimplementation/transformer"
	"github.com/qicqock/Transformer-Reimplementation/utils"
)

// TrainTranslator runs the epoch loop and returns the model state with the
// best validation accuracy. Gradients accumulate across a batch; one Adam
// step per batch.
func TrainTranslator(model *transformer.Transformer, pairs []IO.Pair) *transformer.Transformer {
	rng := rand.New(rand.NewSource(rand.Int63()))
	IO.ShufflePairs(rng, pairs)
	trainPairs, validPairs := IO.SplitPairs(pairs, 0.1)
	padIdx := model.Config.PadIdx

	opt := optimizations.NewAdam(model.Parameters(), model.Gradients())

	var bestAccuracy float64 = -1.0
	var noImprovementCount int

	fmt.Printf("Train pairs: %d  Valid pairs: %d\n", len(trainPairs), len(validPairs))

	logFile, err := os.Create("training_log.csv")
	if err != nil {
		fmt.Println("Error creating log file:", err)
		return model
	}
	defer logFile.Close()
	logWriter := csv.NewWriter(logFile)
	logWriter.Write([]string{"epoch", "accuracy", "tok_loss", "train_ppl", "valid_ppl"})
	defer logWriter.Flush()

	for e := 0; e < params.Config.MaxEpochs; e++ {
		epochTime := time.Now()

		IO.ShufflePairs(rng, trainPairs)
		batches := IO.MakeBatches(trainPairs, params.Config.BatchSize, padIdx)

		model.SetTraining(true)
		var totalTokenLoss float64
		var tokenCounter int

		for _, b := range batches {
			model.ZeroGrads()
			invB := 1.0 / float64(len(b.Src))

			for i := range b.Src {
				logits, err := model.Forward(b.Src[i], b.SrcMask[i], b.Tgt[i], b.TgtMask[i])
				if err != nil {
					fmt.Println("skipping pair:", err)
					continue
				}
				labels := transformer.ShiftedLabels(b.Tgt[i])
				loss, dLogits, n := utils.SmoothedCrossEntropy(logits, labels, padIdx, params.Config.LabelSmoothing)
				if n == 0 {
					continue
				}
				dLogits.Scale(invB, dLogits)
				model.Backward(dLogits)

				totalTokenLoss += loss * float64(n)
				tokenCounter += n
			}

			lr := utils.LRSchedule(opt.StepCount()+1, params.Config.LR)
			opt.Step(lr)

			if params.Config.Debug && opt.StepCount()%params.Config.DebugEvery == 0 {
				utils.Debugf("step %d lr=%.6g enc.Wq norm=%.6g",
					opt.StepCount(), lr,
					utils.MatrixNorm(model.Encoder.Layers[0].SelfAttn.Wq))
			}
		}

		avgTokLoss := 0.0
		trainPPL := 0.0
		if tokenCounter > 0 {
			avgTokLoss = totalTokenLoss / float64(tokenCounter)
			trainPPL = math.Exp(avgTokLoss)
		}

		accuracy, validPPL := evaluateMetrics(model, validPairs, padIdx)

		fmt.Printf("Epoch %d - Acc: %.4f, TrainTokLoss: %.4f, TrainPPL: %.1f, ValidPPL: %.1f, Time: %v\n",
			e+1, accuracy, avgTokLoss, trainPPL, validPPL, time.Since(epochTime))

		logWriter.Write([]string{
			strconv.Itoa(e + 1),
			strconv.FormatFloat(accuracy, 'f', 4, 64),
			strconv.FormatFloat(avgTokLoss, 'f', 4, 64),
			strconv.FormatFloat(trainPPL, 'f', 2, 64),
			strconv.FormatFloat(validPPL, 'f', 2, 64),
		})
		logWriter.Flush()

		// --- Early stopping based on validation accuracy ---
		alreadySaved := false
		if accuracy > bestAccuracy+params.Config.ImprovementThreshold {
			bestAccuracy = accuracy
			if err := transformer.Save(model, "models/best_model.gob"); err != nil {
				fmt.Println("Error saving best model:", err)
			}
			noImprovementCount = 0
			alreadySaved = true
		} else {
			noImprovementCount++
		}

		if (e+1)%params.Config.SaveEpochNumber == 0 && !alreadySaved {
			if err := transformer.Save(model, "models/last_epoch.gob"); err == nil {
				fmt.Printf("Saved checkpoint at epoch %d\n", e+1)
			}
		}

		if noImprovementCount >= params.Config.Patience {
			fmt.Println("\nStopping training early due to lack of improvement in accuracy.")
			break
		}
		if tokenCounter > 0 && avgTokLoss < params.Config.Epsilon {
			fmt.Println("\nStopping training early due to loss being too small.")
			break
		}
	}

	// prefer the checkpointed best over whatever the last epoch left behind
	if best, err := transformer.Load("models/best_model.gob"); err == nil {
		return best
	}
	return model
}

// evaluateMetrics scores teacher-forced next-token accuracy and perplexity
// on the held-out pairs.
func evaluateMetrics(model *transformer.Transformer, pairs []IO.Pair, padIdx int) (float64, float64) {
	model.SetTraining(false)
	defer model.SetTraining(true)

	var correct, total int
	var ceSum float64

	for _, p := range pairs {
		srcPad := IO.PaddingMaskOf(p.Src, padIdx)
		tgtPad := IO.PaddingMaskOf(p.Tgt, padIdx)
		logits, err := model.Forward(p.Src, srcPad, p.Tgt, tgtPad)
		if err != nil {
			continue
		}
		labels := transformer.ShiftedLabels(p.Tgt)
		loss, _, n := utils.SmoothedCrossEntropy(logits, labels, padIdx, 0)
		if n == 0 {
			continue
		}
		ceSum += loss * float64(n)
		total += n

		rows, cols := logits.Dims()
		for t := 0; t < cols; t++ {
			if labels[t] == padIdx {
				continue
			}
			col := logits.Slice(0, rows, t, t+1).(*mat.Dense)
			if utils.ArgmaxCol(col) == labels[t] {
				correct++
			}
		}
	}

	if total == 0 {
		return 0, 0
	}
	return float64(correct) / float64(total), math.Exp(ceSum / float64(total))
}
