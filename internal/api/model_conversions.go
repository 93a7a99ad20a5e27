package api

import (
	"time"

	"trainpipe/internal/database"
	"trainpipe/pkg/api"
)

func ToJobStatus(job database.TrainingJob) api.JobStatus {
	status := api.JobStatus{
		JobId:            job.Id,
		JobName:          job.Name,
		Status:           job.Status,
		FailureReason:    job.FailureReason.String,
		TensorOutputPath: job.TensorPath.String,
		CreationTime:     job.CreationTime,
		StartTime:        nullableTime(job.StartTime.Time, job.StartTime.Valid),
		CompletionTime:   nullableTime(job.CompletionTime.Time, job.CompletionTime.Valid),
	}

	for _, rule := range job.Rules {
		status.RuleVerdicts = append(status.RuleVerdicts, api.RuleVerdict{
			RuleName: rule.RuleName,
			Status:   rule.Status,
			Details:  rule.Details,
		})
	}

	return status
}

func ToJobSummary(job database.TrainingJob) api.JobSummary {
	return api.JobSummary{
		JobId:        job.Id,
		JobName:      job.Name,
		Status:       job.Status,
		CreationTime: job.CreationTime,
	}
}

func nullableTime(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	return &t
}
