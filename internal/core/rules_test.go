package core

import (
	"testing"

	"trainpipe/internal/trial"
	"trainpipe/pkg/api"

	"github.com/stretchr/testify/assert"
)

func series(values ...float64) []trial.Record {
	records := make([]trial.Record, len(values))
	for i, v := range values {
		records[i] = trial.Record{Step: i, Value: v}
	}
	return records
}

func TestLossNotDecreasingHealthy(t *testing.T) {
	tensors := map[string][]trial.Record{
		"loss": series(2.3, 2.1, 1.8, 1.5, 1.1, 0.9, 0.7, 0.5),
	}
	result := EvaluateRule(api.RuleConfig{
		RuleName:   "loss-check",
		RuleType:   api.RuleTypeLossNotDecreasing,
		Parameters: map[string]string{"window": "2"},
	}, tensors)

	assert.Equal(t, api.RuleNoIssuesFound, result.Status)
}

func TestLossNotDecreasingPlateau(t *testing.T) {
	tensors := map[string][]trial.Record{
		"loss": series(2.3, 2.2, 2.2, 2.2, 2.2, 2.2, 2.2, 2.2),
	}
	result := EvaluateRule(api.RuleConfig{
		RuleName:   "loss-check",
		RuleType:   api.RuleTypeLossNotDecreasing,
		Parameters: map[string]string{"window": "2"},
	}, tensors)

	assert.Equal(t, api.RuleIssuesFound, result.Status)
	assert.Contains(t, result.Details, "stopped decreasing")
}

func TestLossNotDecreasingTooFewSteps(t *testing.T) {
	tensors := map[string][]trial.Record{"loss": series(2.3, 2.2)}
	result := EvaluateRule(api.RuleConfig{
		RuleName: "loss-check",
		RuleType: api.RuleTypeLossNotDecreasing,
	}, tensors)

	assert.Equal(t, api.RuleNoIssuesFound, result.Status)
	assert.Contains(t, result.Details, "only 2 steps recorded")
}

func TestLossNotDecreasingMissingTensor(t *testing.T) {
	result := EvaluateRule(api.RuleConfig{
		RuleName:   "grad-check",
		RuleType:   api.RuleTypeLossNotDecreasing,
		Parameters: map[string]string{"tensor_name": "gradients"},
	}, map[string][]trial.Record{"loss": series(1, 2)})

	assert.Equal(t, api.RuleError, result.Status)
	assert.Contains(t, result.Details, `tensor "gradients" was not recorded`)
}

func TestLossNotDecreasingBadParameter(t *testing.T) {
	result := EvaluateRule(api.RuleConfig{
		RuleName:   "loss-check",
		RuleType:   api.RuleTypeLossNotDecreasing,
		Parameters: map[string]string{"window": "many"},
	}, map[string][]trial.Record{"loss": series(1, 2)})

	assert.Equal(t, api.RuleError, result.Status)
}

func TestOverfitRule(t *testing.T) {
	healthy := map[string][]trial.Record{
		"loss":     series(2.3, 1.0, 0.5),
		"val_loss": series(2.3, 1.05, 0.52),
	}
	result := EvaluateRule(api.RuleConfig{RuleName: "overfit", RuleType: api.RuleTypeOverfit}, healthy)
	assert.Equal(t, api.RuleNoIssuesFound, result.Status)

	diverged := map[string][]trial.Record{
		"loss":     series(2.3, 1.0, 0.2),
		"val_loss": series(2.3, 1.4, 1.3),
	}
	result = EvaluateRule(api.RuleConfig{RuleName: "overfit", RuleType: api.RuleTypeOverfit}, diverged)
	assert.Equal(t, api.RuleIssuesFound, result.Status)
	assert.Contains(t, result.Details, "diverged")
}

func TestUnknownRuleTypeFailsRuleOnly(t *testing.T) {
	result := EvaluateRule(api.RuleConfig{RuleName: "exotic", RuleType: "VanishingGradient"}, nil)
	assert.Equal(t, api.RuleError, result.Status)
	assert.Contains(t, result.Details, `unknown rule type "VanishingGradient"`)
}
