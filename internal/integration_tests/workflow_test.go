package integrationtests

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "trainpipe/internal/api"
	"trainpipe/internal/core"
	"trainpipe/internal/dataset"
	"trainpipe/internal/messaging"
	"trainpipe/internal/pipeline"
	"trainpipe/internal/storage"
	"trainpipe/internal/train"
	"trainpipe/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrainingWorkflow runs the whole tutorial path against a live backend:
// stage a small dataset from a local mirror, upload the archives, submit a
// job, wait for it, and read back the verdicts and telemetry.
func TestTrainingWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	runner := core.NewRunner(db, store, 1)
	runner.Start(ctx, queue)

	router := chi.NewRouter()
	backend.NewBackendService(db, queue, store).AddRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	mirror := datasetServer(t, 40, 10)
	source := dataset.NewSource(mirror.URL, t.TempDir(), dataset.WithoutDigestCheck())

	client := train.NewClient(server.URL, train.WithPollInterval(50*time.Millisecond))

	p := pipeline.New(source, store, client, pipeline.Config{
		Bucket:    "training-data",
		KeyPrefix: "mnist/data",
		Spec: train.JobSpec{
			JobName:          "mnist-tutorial",
			EntryPoint:       "train.py",
			InstanceType:     "ml.m5.xlarge",
			InstanceCount:    1,
			FrameworkVersion: "2.1",
			ScriptMode:       true,
			Hyperparameters:  map[string]string{"epochs": "5"},
			OutputPath:       storage.ObjectPath("training-data", "output"),
			Rules: []api.RuleConfig{
				{RuleName: "loss-not-decreasing", RuleType: api.RuleTypeLossNotDecreasing, Parameters: map[string]string{"window": "2"}},
				{RuleName: "overfit", RuleType: api.RuleTypeOverfit},
			},
		},
	})

	result, err := p.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Status)

	assert.Equal(t, "s3://training-data/mnist/data/train.npz", result.TrainAddress)
	assert.Equal(t, "s3://training-data/mnist/data/valid.npz", result.ValidationAddress)

	status := result.Status
	assert.Equal(t, api.JobCompleted, status.Status)
	assert.Empty(t, status.FailureReason)
	assert.NotNil(t, status.StartTime)
	assert.NotNil(t, status.CompletionTime)
	assert.NotEmpty(t, status.TensorOutputPath)

	require.Len(t, status.RuleVerdicts, 2)
	for _, verdict := range status.RuleVerdicts {
		assert.Contains(t, []string{api.RuleNoIssuesFound, api.RuleIssuesFound}, verdict.Status,
			"rule %s: %s", verdict.RuleName, verdict.Details)
	}

	assert.ElementsMatch(t, core.SimulatedTensors, result.TensorNames)
	require.Len(t, result.Series, 5)
	for i, record := range result.Series {
		assert.Equal(t, i, record.Step)
	}
	assert.Less(t, result.Series[4].Value, result.Series[0].Value)
}

// TestTrainingWorkflowFailure submits a job whose input archives are corrupt
// and checks the failure is reported through the status snapshot.
func TestTrainingWorkflowFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateBucket(ctx, "training-data"))
	for _, key := range []string{"mnist/data/train.npz", "mnist/data/valid.npz"} {
		require.NoError(t, store.PutObject(ctx, "training-data", key, strings.NewReader("not an archive")))
	}

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	runner := core.NewRunner(db, store, 1)
	runner.Start(ctx, queue)

	router := chi.NewRouter()
	backend.NewBackendService(db, queue, store).AddRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := train.NewClient(server.URL, train.WithPollInterval(50*time.Millisecond))

	status, err := client.RunJob(ctx, &train.JobSpec{
		JobName:          "broken",
		EntryPoint:       "train.py",
		InstanceType:     "ml.m5.xlarge",
		InstanceCount:    1,
		FrameworkVersion: "2.1",
		InputChannels: map[string]string{
			core.TrainChannel:      "s3://training-data/mnist/data/train.npz",
			core.ValidationChannel: "s3://training-data/mnist/data/valid.npz",
		},
		OutputPath: storage.ObjectPath("training-data", "output"),
	})
	require.NoError(t, err)

	assert.Equal(t, api.JobFailed, status.Status)
	assert.NotEmpty(t, status.FailureReason)
	assert.NotNil(t, status.CompletionTime)
}
