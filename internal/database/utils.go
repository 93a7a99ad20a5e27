package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobInProgress {
		updates["start_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func FailJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, reason string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"failure_reason":  sql.NullString{String: reason, Valid: reason != ""},
		"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking job failed", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func SetJobTensorPath(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, tensorPath string) error {
	update := map[string]any{"tensor_path": sql.NullString{String: tensorPath, Valid: true}}
	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(update).Error; err != nil {
		slog.Error("error setting job tensor path", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func UpdateRuleEvaluation(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, ruleName, status, details string) error {
	updates := map[string]any{"status": status, "details": details}
	if err := txn.WithContext(ctx).
		Model(&RuleEvaluation{JobId: jobId, RuleName: ruleName}).
		Updates(updates).Error; err != nil {
		slog.Error("error updating rule evaluation", "job_id", jobId, "rule", ruleName, "error", err)
		return err
	}
	return nil
}
