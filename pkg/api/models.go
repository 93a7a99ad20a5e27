package api

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses reported by the training backend.
const (
	JobQueued     string = "QUEUED"
	JobInProgress string = "IN_PROGRESS"
	JobCompleted  string = "COMPLETED"
	JobFailed     string = "FAILED"
)

// IsTerminal reports whether a job status will no longer change.
func IsTerminal(status string) bool {
	return status == JobCompleted || status == JobFailed
}

// Rule evaluation statuses, mirroring the verdicts the backend attaches to a
// job's status record.
const (
	RuleInProgress    string = "IN_PROGRESS"
	RuleNoIssuesFound string = "NO_ISSUES_FOUND"
	RuleIssuesFound   string = "ISSUES_FOUND"
	RuleError         string = "ERROR"
)

// Built-in monitoring rule identifiers.
const (
	RuleTypeLossNotDecreasing string = "LossNotDecreasing"
	RuleTypeOverfit           string = "Overfit"
)

type RuleConfig struct {
	RuleName   string            `json:"rule_name"`
	RuleType   string            `json:"rule_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type RuleVerdict struct {
	RuleName string `json:"rule_name"`
	Status   string `json:"status"`
	Details  string `json:"details,omitempty"`
}

type SubmitJobRequest struct {
	JobName          string            `json:"job_name"`
	EntryPoint       string            `json:"entry_point"`
	InstanceType     string            `json:"instance_type"`
	InstanceCount    int               `json:"instance_count"`
	FrameworkVersion string            `json:"framework_version"`
	ScriptMode       bool              `json:"script_mode"`
	Hyperparameters  map[string]string `json:"hyperparameters,omitempty"`
	InputChannels    map[string]string `json:"input_channels"`
	OutputPath       string            `json:"output_path"`
	Rules            []RuleConfig      `json:"rules,omitempty"`
}

type SubmitJobResponse struct {
	Message string    `json:"message"`
	JobId   uuid.UUID `json:"job_id"`
}

// JobStatus is the metadata snapshot returned by a describe call. The
// TensorOutputPath field is empty until the backend has started recording
// tensors for the job.
type JobStatus struct {
	JobId            uuid.UUID     `json:"job_id"`
	JobName          string        `json:"job_name"`
	Status           string        `json:"status"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	RuleVerdicts     []RuleVerdict `json:"rule_verdicts,omitempty"`
	TensorOutputPath string        `json:"tensor_output_path,omitempty"`
	CreationTime     time.Time     `json:"creation_time"`
	StartTime        *time.Time    `json:"start_time,omitempty"`
	CompletionTime   *time.Time    `json:"completion_time,omitempty"`
}

type JobSummary struct {
	JobId        uuid.UUID `json:"job_id"`
	JobName      string    `json:"job_name"`
	Status       string    `json:"status"`
	CreationTime time.Time `json:"creation_time"`
}
