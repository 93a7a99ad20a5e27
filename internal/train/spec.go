// Package train is the client side of the managed training backend: job
// specification, fail-fast validation, submission, and the blocking wait for
// a terminal state.
package train

import (
	"fmt"
	"regexp"

	"trainpipe/internal/storage"
	"trainpipe/pkg/api"
)

// Compute resource classes follow the managed service's "ml.<family>.<size>"
// form, e.g. "ml.m5.xlarge".
var instanceTypeRegex = regexp.MustCompile(`^ml\.[a-z][a-z0-9-]*\.[a-z0-9]+$`)

// JobSpec is the immutable configuration of one training job. Validate is
// called before any remote call so malformed specs never reach the wire.
type JobSpec struct {
	JobName          string
	EntryPoint       string
	InstanceType     string
	InstanceCount    int
	FrameworkVersion string
	ScriptMode       bool
	Hyperparameters  map[string]string
	InputChannels    map[string]string
	OutputPath       string
	Rules            []api.RuleConfig
}

func (s *JobSpec) Validate() error {
	if s.EntryPoint == "" {
		return fmt.Errorf("job spec is missing an entry point")
	}
	if !instanceTypeRegex.MatchString(s.InstanceType) {
		return fmt.Errorf("invalid instance type %q, expected the ml.<family>.<size> form", s.InstanceType)
	}
	if s.InstanceCount < 1 {
		return fmt.Errorf("instance count must be at least 1, got %d", s.InstanceCount)
	}
	if s.FrameworkVersion == "" {
		return fmt.Errorf("job spec is missing a framework version")
	}

	if len(s.InputChannels) == 0 {
		return fmt.Errorf("job spec has no input channels")
	}
	for name, addr := range s.InputChannels {
		if _, _, err := storage.ParsePath(addr); err != nil {
			return fmt.Errorf("invalid address for input channel %q: %w", name, err)
		}
	}
	if _, _, err := storage.ParsePath(s.OutputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	seen := make(map[string]bool, len(s.Rules))
	for _, rule := range s.Rules {
		if rule.RuleName == "" || rule.RuleType == "" {
			return fmt.Errorf("monitoring rules require both a name and a rule type")
		}
		if seen[rule.RuleName] {
			return fmt.Errorf("duplicate monitoring rule name %q", rule.RuleName)
		}
		seen[rule.RuleName] = true
	}

	return nil
}

func (s *JobSpec) toRequest() api.SubmitJobRequest {
	return api.SubmitJobRequest{
		JobName:          s.JobName,
		EntryPoint:       s.EntryPoint,
		InstanceType:     s.InstanceType,
		InstanceCount:    s.InstanceCount,
		FrameworkVersion: s.FrameworkVersion,
		ScriptMode:       s.ScriptMode,
		Hyperparameters:  s.Hyperparameters,
		InputChannels:    s.InputChannels,
		OutputPath:       s.OutputPath,
		Rules:            s.Rules,
	}
}
