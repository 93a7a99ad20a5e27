package core

import (
	"fmt"
	"strconv"

	"trainpipe/internal/trial"
	"trainpipe/pkg/api"
)

// RuleResult is the verdict of one monitoring rule evaluated against the
// tensors a job emitted.
type RuleResult struct {
	Status  string
	Details string
}

// EvaluateRule applies one monitoring rule to the recorded tensor series.
// Unknown rule types fail the rule, not the job.
func EvaluateRule(cfg api.RuleConfig, tensors map[string][]trial.Record) RuleResult {
	switch cfg.RuleType {
	case api.RuleTypeLossNotDecreasing:
		return evaluateLossNotDecreasing(cfg.Parameters, tensors)
	case api.RuleTypeOverfit:
		return evaluateOverfit(cfg.Parameters, tensors)
	default:
		return RuleResult{
			Status:  api.RuleError,
			Details: fmt.Sprintf("unknown rule type %q", cfg.RuleType),
		}
	}
}

func intParam(params map[string]string, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %s=%q: %w", key, raw, err)
	}
	return value, nil
}

func floatParam(params map[string]string, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %s=%q: %w", key, raw, err)
	}
	return value, nil
}

// evaluateLossNotDecreasing compares the mean loss of successive windows;
// any window whose mean fails to drop below the previous one's raises an
// issue.
func evaluateLossNotDecreasing(params map[string]string, tensors map[string][]trial.Record) RuleResult {
	tensorName := params["tensor_name"]
	if tensorName == "" {
		tensorName = "loss"
	}
	window, err := intParam(params, "window", 5)
	if err != nil {
		return RuleResult{Status: api.RuleError, Details: err.Error()}
	}
	if window < 1 {
		return RuleResult{Status: api.RuleError, Details: fmt.Sprintf("window must be positive, got %d", window)}
	}

	series, ok := tensors[tensorName]
	if !ok {
		return RuleResult{Status: api.RuleError, Details: fmt.Sprintf("tensor %q was not recorded", tensorName)}
	}
	if len(series) < 2*window {
		return RuleResult{
			Status:  api.RuleNoIssuesFound,
			Details: fmt.Sprintf("only %d steps recorded, need %d for two windows", len(series), 2*window),
		}
	}

	violations := 0
	prev := windowMean(series[:window])
	for start := window; start+window <= len(series); start += window {
		mean := windowMean(series[start : start+window])
		if mean >= prev {
			violations++
		}
		prev = mean
	}

	if violations > 0 {
		return RuleResult{
			Status:  api.RuleIssuesFound,
			Details: fmt.Sprintf("%s stopped decreasing in %d of %d windows", tensorName, violations, len(series)/window-1),
		}
	}
	return RuleResult{Status: api.RuleNoIssuesFound}
}

// evaluateOverfit compares the final validation loss against the final
// training loss; a relative gap above the threshold raises an issue.
func evaluateOverfit(params map[string]string, tensors map[string][]trial.Record) RuleResult {
	threshold, err := floatParam(params, "ratio_threshold", 0.1)
	if err != nil {
		return RuleResult{Status: api.RuleError, Details: err.Error()}
	}

	loss, ok := tensors["loss"]
	if !ok || len(loss) == 0 {
		return RuleResult{Status: api.RuleError, Details: `tensor "loss" was not recorded`}
	}
	valLoss, ok := tensors["val_loss"]
	if !ok || len(valLoss) == 0 {
		return RuleResult{Status: api.RuleError, Details: `tensor "val_loss" was not recorded`}
	}

	final := loss[len(loss)-1].Value
	finalVal := valLoss[len(valLoss)-1].Value
	if final <= 0 {
		return RuleResult{Status: api.RuleError, Details: fmt.Sprintf("non-positive final loss %g", final)}
	}

	gap := (finalVal - final) / final
	if gap > threshold {
		return RuleResult{
			Status:  api.RuleIssuesFound,
			Details: fmt.Sprintf("validation loss diverged from training loss by %.1f%% (threshold %.1f%%)", gap*100, threshold*100),
		}
	}
	return RuleResult{Status: api.RuleNoIssuesFound}
}

func windowMean(records []trial.Record) float64 {
	var sum float64
	for _, r := range records {
		sum += r.Value
	}
	return sum / float64(len(records))
}
