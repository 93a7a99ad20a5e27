package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"trainpipe/internal/archive"
	"trainpipe/internal/database"
	"trainpipe/internal/dataset"
	"trainpipe/internal/messaging"
	"trainpipe/internal/storage"
	"trainpipe/internal/trial"
	"trainpipe/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TrainChannel      = "train"
	ValidationChannel = "validation"

	defaultEpochs       = 10
	defaultLearningRate = 0.3
)

// Runner consumes training tasks and executes them: it downloads the job's
// input archives, runs the simulated training loop, records per-step tensors
// to object storage, and evaluates the job's monitoring rules.
type Runner struct {
	db          *gorm.DB
	store       storage.Provider
	concurrency int
	wg          sync.WaitGroup
}

func NewRunner(db *gorm.DB, store storage.Provider, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{db: db, store: store, concurrency: concurrency}
}

// Start launches the worker goroutines. They exit when the receiver's task
// channel is closed; Wait blocks until then.
func (r *Runner) Start(ctx context.Context, receiver messaging.Receiver) {
	r.wg.Add(r.concurrency)
	for i := 0; i < r.concurrency; i++ {
		go func(worker int) {
			defer r.wg.Done()
			for task := range receiver.Tasks() {
				r.handleTask(ctx, worker, task)
			}
		}(i)
	}
	slog.Info("training workers started", "concurrency", r.concurrency)
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) handleTask(ctx context.Context, worker int, task messaging.Task) {
	var payload messaging.TrainingTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("discarding malformed training task", "worker", worker, "error", err)
		task.Reject() //nolint:errcheck
		return
	}

	slog.Info("executing training job", "worker", worker, "job_id", payload.JobId)
	if err := r.runJob(ctx, payload.JobId); err != nil {
		slog.Error("training job failed", "worker", worker, "job_id", payload.JobId, "error", err)
		task.Nack() //nolint:errcheck
		return
	}
	task.Ack() //nolint:errcheck
}

func (r *Runner) runJob(ctx context.Context, jobId uuid.UUID) error {
	var job database.TrainingJob
	if err := r.db.WithContext(ctx).Preload("Rules").First(&job, "id = ?", jobId).Error; err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobId, err)
	}

	if err := database.UpdateJobStatus(ctx, r.db, job.Id, database.JobInProgress); err != nil {
		return err
	}

	tensors, err := r.executeJob(ctx, &job)
	if err != nil {
		database.FailJob(ctx, r.db, job.Id, err.Error()) //nolint:errcheck
		return err
	}

	for _, rule := range job.Rules {
		result := EvaluateRule(ruleConfig(rule), tensors)
		if err := database.UpdateRuleEvaluation(ctx, r.db, job.Id, rule.RuleName, result.Status, result.Details); err != nil {
			database.FailJob(ctx, r.db, job.Id, fmt.Sprintf("failed to record verdict for rule %s", rule.RuleName)) //nolint:errcheck
			return err
		}
		slog.Info("evaluated monitoring rule", "job_id", job.Id, "rule", rule.RuleName, "status", result.Status)
	}

	return database.UpdateJobStatus(ctx, r.db, job.Id, database.JobCompleted)
}

func (r *Runner) executeJob(ctx context.Context, job *database.TrainingJob) (map[string][]trial.Record, error) {
	slog.Info("starting training", "job_id", job.Id, "entry_point", job.EntryPoint,
		"instance_type", job.InstanceType, "instance_count", job.InstanceCount)

	splits, err := r.downloadInputs(ctx, job)
	if err != nil {
		return nil, err
	}
	train, valid := splits[TrainChannel], splits[ValidationChannel]

	epochs, learningRate, err := trainingParams(job.Hyperparameters)
	if err != nil {
		return nil, err
	}

	outBucket, outPrefix, err := storage.ParsePath(job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid output path for job %s: %w", job.Id, err)
	}
	tensorPrefix := path.Join(outPrefix, job.Id.String(), "tensors")
	if err := database.SetJobTensorPath(ctx, r.db, job.Id, storage.ObjectPath(outBucket, tensorPrefix)); err != nil {
		return nil, err
	}

	tensors := simulateTraining(train, valid, epochs, learningRate)
	for name, records := range tensors {
		for _, record := range records {
			if err := trial.WriteRecord(ctx, r.store, outBucket, tensorPrefix, name, record); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("training finished", "job_id", job.Id, "epochs", epochs,
		"train_samples", train.Count(), "validation_samples", valid.Count())
	return tensors, nil
}

func (r *Runner) downloadInputs(ctx context.Context, job *database.TrainingJob) (map[string]*dataset.Split, error) {
	var channels map[string]string
	if err := json.Unmarshal(job.InputChannels, &channels); err != nil {
		return nil, fmt.Errorf("invalid input channels for job %s: %w", job.Id, err)
	}

	for _, required := range []string{TrainChannel, ValidationChannel} {
		if channels[required] == "" {
			return nil, fmt.Errorf("job %s is missing required input channel %q", job.Id, required)
		}
	}

	workDir, err := os.MkdirTemp("", "trainpipe-job-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	splits := make(map[string]*dataset.Split, len(channels))
	for channel, addr := range channels {
		bucket, key, err := storage.ParsePath(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address for channel %q: %w", channel, err)
		}

		local := filepath.Join(workDir, channel+".npz")
		if err := r.store.DownloadObject(ctx, bucket, key, local); err != nil {
			return nil, fmt.Errorf("failed to download channel %q: %w", channel, err)
		}

		split, err := archive.ReadSplit(local)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive for channel %q: %w", channel, err)
		}
		splits[channel] = split
	}
	return splits, nil
}

func trainingParams(raw []byte) (epochs int, learningRate float64, err error) {
	epochs, learningRate = defaultEpochs, defaultLearningRate

	if len(raw) == 0 {
		return epochs, learningRate, nil
	}
	var params map[string]string
	if err := json.Unmarshal(raw, &params); err != nil {
		return 0, 0, fmt.Errorf("invalid hyperparameters: %w", err)
	}

	if v, ok := params["epochs"]; ok {
		epochs, err = strconv.Atoi(v)
		if err != nil || epochs < 1 {
			return 0, 0, fmt.Errorf("invalid hyperparameter epochs=%q", v)
		}
	}
	if v, ok := params["learning_rate"]; ok {
		learningRate, err = strconv.ParseFloat(v, 64)
		if err != nil || learningRate <= 0 {
			return 0, 0, fmt.Errorf("invalid hyperparameter learning_rate=%q", v)
		}
	}
	return epochs, learningRate, nil
}

func ruleConfig(rule database.RuleEvaluation) api.RuleConfig {
	cfg := api.RuleConfig{RuleName: rule.RuleName, RuleType: rule.RuleType}
	if len(rule.Parameters) > 0 {
		// A decode failure leaves the rule with default parameters; the
		// backend validated the JSON at submission time.
		json.Unmarshal(rule.Parameters, &cfg.Parameters) //nolint:errcheck
	}
	return cfg
}
