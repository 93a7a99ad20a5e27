package core

import (
	"math"

	"trainpipe/internal/dataset"
	"trainpipe/internal/trial"
)

// Tensor names every simulated job records, one value per epoch step.
var SimulatedTensors = []string{"loss", "val_loss", "accuracy", "val_accuracy"}

// simulateTraining produces a deterministic per-step metric trajectory for a
// job. The curve is a decaying cross-entropy loss seeded from the dataset
// contents, so identical inputs yield identical telemetry.
func simulateTraining(train, valid *dataset.Split, epochs int, learningRate float64) map[string][]trial.Record {
	seed := datasetSeed(train) ^ datasetSeed(valid)
	jitter := func(step int) float64 {
		// Cheap deterministic noise in [0, 0.02).
		h := seed ^ uint64(step)*0x9e3779b97f4a7c15
		h ^= h >> 33
		return float64(h%1000) / 50000.0
	}

	// A tiny validation split relative to train drifts val_loss upward,
	// giving the overfit rule something real to measure.
	drift := 0.03
	if train.Count() > 0 && valid.Count() > 0 && valid.Count()*20 < train.Count() {
		drift = 0.15
	}

	const initialLoss = 2.303 // -ln(1/10), uniform over the ten classes

	tensors := make(map[string][]trial.Record, len(SimulatedTensors))
	for step := 0; step < epochs; step++ {
		progress := float64(step)
		loss := initialLoss*math.Exp(-learningRate*progress) + jitter(step)
		valLoss := loss*(1+drift*progress/float64(epochs)) + jitter(step+epochs)

		accuracy := clamp01(1 - loss/initialLoss + 0.05)
		valAccuracy := clamp01(1 - valLoss/initialLoss + 0.05)

		tensors["loss"] = append(tensors["loss"], trial.Record{Step: step, Value: round6(loss)})
		tensors["val_loss"] = append(tensors["val_loss"], trial.Record{Step: step, Value: round6(valLoss)})
		tensors["accuracy"] = append(tensors["accuracy"], trial.Record{Step: step, Value: round6(accuracy)})
		tensors["val_accuracy"] = append(tensors["val_accuracy"], trial.Record{Step: step, Value: round6(valAccuracy)})
	}
	return tensors
}

func datasetSeed(split *dataset.Split) uint64 {
	var seed uint64 = 1469598103934665603 // FNV offset basis
	for _, label := range split.Labels {
		seed ^= uint64(label)
		seed *= 1099511628211
	}
	return seed ^ uint64(split.Count())
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
