package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"syscall"

	"trainpipe/cmd"
	"trainpipe/internal/dataset"
	"trainpipe/internal/pipeline"
	"trainpipe/internal/storage"
	"trainpipe/internal/train"
	"trainpipe/pkg/api"

	"github.com/caarlos0/env/v11"
)

type PipelineConfig struct {
	BackendURL string `env:"BACKEND_URL" envDefault:"http://localhost:8001"`

	Bucket       string `env:"BUCKET" envDefault:"training-data"`
	KeyPrefix    string `env:"KEY_PREFIX" envDefault:"mnist/data"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	MNISTBaseURL string `env:"MNIST_BASE_URL" envDefault:""`

	JobName          string  `env:"JOB_NAME" envDefault:"mnist-tutorial"`
	EntryPoint       string  `env:"ENTRY_POINT" envDefault:"train.py"`
	InstanceType     string  `env:"INSTANCE_TYPE" envDefault:"ml.m5.xlarge"`
	InstanceCount    int     `env:"INSTANCE_COUNT" envDefault:"1"`
	FrameworkVersion string  `env:"FRAMEWORK_VERSION" envDefault:"2.1"`
	Epochs           int     `env:"EPOCHS" envDefault:"10"`
	LearningRate     float64 `env:"LEARNING_RATE" envDefault:"0.3"`

	OutputPath string `env:"OUTPUT_PATH" envDefault:""`
	Tensor     string `env:"TENSOR" envDefault:"loss"`

	Storage cmd.StorageConfig
}

func main() {
	cmd.LoadEnvFile()

	var cfg PipelineConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.MNISTBaseURL == "" {
		cfg.MNISTBaseURL = dataset.DefaultBaseURL
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = storage.ObjectPath(cfg.Bucket, "output")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := dataset.NewSource(cfg.MNISTBaseURL, cfg.DataDir, dataset.WithProgress())
	store := cmd.CreateObjectStore(cfg.Storage)
	client := train.NewClient(cfg.BackendURL)

	p := pipeline.New(source, store, client, pipeline.Config{
		Bucket:    cfg.Bucket,
		KeyPrefix: cfg.KeyPrefix,
		Tensor:    cfg.Tensor,
		Spec: train.JobSpec{
			JobName:          cfg.JobName,
			EntryPoint:       cfg.EntryPoint,
			InstanceType:     cfg.InstanceType,
			InstanceCount:    cfg.InstanceCount,
			FrameworkVersion: cfg.FrameworkVersion,
			ScriptMode:       true,
			Hyperparameters: map[string]string{
				"epochs":        strconv.Itoa(cfg.Epochs),
				"learning_rate": strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
			},
			OutputPath: cfg.OutputPath,
			Rules: []api.RuleConfig{
				{RuleName: "loss-not-decreasing", RuleType: api.RuleTypeLossNotDecreasing},
				{RuleName: "overfit", RuleType: api.RuleTypeOverfit},
			},
		},
	})

	result, err := p.Run(ctx)
	if result != nil && result.Status != nil {
		printResult(result)
	}
	if err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}
}

func printResult(result *pipeline.Result) {
	status := result.Status

	fmt.Printf("Job %s (%s) finished with status %s\n", status.JobName, status.JobId, status.Status)
	if status.FailureReason != "" {
		fmt.Printf("Failure reason: %s\n", status.FailureReason)
	}

	for _, verdict := range status.RuleVerdicts {
		fmt.Printf("Rule %-24s %s", verdict.RuleName, verdict.Status)
		if verdict.Details != "" {
			fmt.Printf(" (%s)", verdict.Details)
		}
		fmt.Println()
	}

	if len(result.TensorNames) > 0 {
		fmt.Printf("Recorded tensors: %v\n", result.TensorNames)
	}
	for _, record := range result.Series {
		fmt.Printf("%s[%d] = %g\n", result.Tensor, record.Step, record.Value)
	}
}
