// Package pipeline runs the tutorial workflow end to end: stage the dataset,
// archive and upload it, run a managed training job, then read back the
// job's verdicts and recorded telemetry.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"trainpipe/internal/archive"
	"trainpipe/internal/core"
	"trainpipe/internal/dataset"
	"trainpipe/internal/storage"
	"trainpipe/internal/train"
	"trainpipe/internal/trial"
	"trainpipe/pkg/api"
)

type Config struct {
	// Bucket and KeyPrefix locate the uploaded archives; the job's input
	// channels point at the resulting addresses.
	Bucket    string
	KeyPrefix string

	// WorkDir holds the intermediate archive files. A temp directory is
	// used when empty.
	WorkDir string

	// Spec is the job to run. The pipeline fills in the input channels
	// after uploading; everything else is the caller's.
	Spec train.JobSpec

	// Tensor is the series fetched at the end. Defaults to "loss".
	Tensor string
}

// Result collects everything the workflow produced: the terminal status
// snapshot, the tensors the job recorded, and one full tensor series.
type Result struct {
	TrainAddress      string
	ValidationAddress string

	Status      *api.JobStatus
	TensorNames []string
	Tensor      string
	Series      []trial.Record
}

type Pipeline struct {
	source *dataset.Source
	store  storage.Provider
	client *train.Client
	cfg    Config
}

func New(source *dataset.Source, store storage.Provider, client *train.Client, cfg Config) *Pipeline {
	if cfg.Tensor == "" {
		cfg.Tensor = "loss"
	}
	return &Pipeline{source: source, store: store, client: client, cfg: cfg}
}

// Run executes the stages sequentially. The first error aborts the rest;
// nothing is retried. The only long suspension is the wait for the job to
// reach a terminal state, which honors ctx.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	trainSplit, validSplit, err := p.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stage dataset: %w", err)
	}
	slog.Info("dataset staged", "train_samples", trainSplit.Count(), "validation_samples", validSplit.Count())

	workDir := p.cfg.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "trainpipe-upload-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(workDir)
	}

	trainPath := filepath.Join(workDir, "train.npz")
	validPath := filepath.Join(workDir, "valid.npz")
	if err := archive.WriteSplit(trainPath, trainSplit); err != nil {
		return nil, fmt.Errorf("failed to archive train split: %w", err)
	}
	if err := archive.WriteSplit(validPath, validSplit); err != nil {
		return nil, fmt.Errorf("failed to archive validation split: %w", err)
	}

	if err := p.store.CreateBucket(ctx, p.cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", p.cfg.Bucket, err)
	}
	trainAddr, err := storage.UploadFile(ctx, p.store, trainPath, p.cfg.Bucket, p.cfg.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to upload train archive: %w", err)
	}
	validAddr, err := storage.UploadFile(ctx, p.store, validPath, p.cfg.Bucket, p.cfg.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to upload validation archive: %w", err)
	}
	slog.Info("archives uploaded", "train", trainAddr, "validation", validAddr)

	spec := p.cfg.Spec
	spec.InputChannels = map[string]string{
		core.TrainChannel:      trainAddr,
		core.ValidationChannel: validAddr,
	}

	status, err := p.client.RunJob(ctx, &spec)
	if err != nil {
		return nil, err
	}

	result := &Result{
		TrainAddress:      trainAddr,
		ValidationAddress: validAddr,
		Status:            status,
		Tensor:            p.cfg.Tensor,
	}

	if status.Status == api.JobFailed {
		return result, fmt.Errorf("training job %s failed: %s", status.JobId, status.FailureReason)
	}

	tr, err := trial.ForJob(p.store, status)
	if err != nil {
		return result, err
	}
	result.TensorNames, err = tr.TensorNames(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list recorded tensors: %w", err)
	}
	result.Series, err = tr.Tensor(ctx, p.cfg.Tensor)
	if err != nil {
		return result, fmt.Errorf("failed to read tensor %q: %w", p.cfg.Tensor, err)
	}

	slog.Info("workflow finished", "job_id", status.JobId, "status", status.Status,
		"tensors", len(result.TensorNames), "steps", len(result.Series))
	return result, nil
}
