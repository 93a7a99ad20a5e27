package core

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"trainpipe/internal/archive"
	"trainpipe/internal/database"
	"trainpipe/internal/dataset"
	"trainpipe/internal/messaging"
	"trainpipe/internal/storage"
	"trainpipe/internal/trial"
	"trainpipe/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

func makeSplit(n int) *dataset.Split {
	split := &dataset.Split{
		Images: make([][]byte, n),
		Labels: make([]byte, n),
	}
	for i := range split.Images {
		pixels := make([]byte, dataset.ImageSize*dataset.ImageSize)
		for j := range pixels {
			pixels[j] = byte((i*31 + j) % 256)
		}
		split.Images[i] = pixels
		split.Labels[i] = byte(i % dataset.NumClasses)
	}
	return split
}

// stageInputs archives two splits and uploads them, returning the channel
// addresses a submitted job would carry.
func stageInputs(t *testing.T, store storage.Provider, bucket string) (string, string) {
	ctx := context.Background()
	require.NoError(t, store.CreateBucket(ctx, bucket))

	dir := t.TempDir()
	trainPath := filepath.Join(dir, "train.npz")
	validPath := filepath.Join(dir, "valid.npz")
	require.NoError(t, archive.WriteSplit(trainPath, makeSplit(32)))
	require.NoError(t, archive.WriteSplit(validPath, makeSplit(8)))

	trainAddr, err := storage.UploadFile(ctx, store, trainPath, bucket, "mnist/data")
	require.NoError(t, err)
	validAddr, err := storage.UploadFile(ctx, store, validPath, bucket, "mnist/data")
	require.NoError(t, err)

	return trainAddr, validAddr
}

func mustJSON(t *testing.T, v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

func insertJob(t *testing.T, db *gorm.DB, channels map[string]string, outputPath string, hyperparameters map[string]string) uuid.UUID {
	jobId := uuid.New()
	job := database.TrainingJob{
		Id:               jobId,
		Name:             "mnist-tutorial",
		EntryPoint:       "train.py",
		InstanceType:     "ml.m5.xlarge",
		InstanceCount:    1,
		FrameworkVersion: "2.1",
		ScriptMode:       true,
		Hyperparameters:  mustJSON(t, hyperparameters),
		InputChannels:    mustJSON(t, channels),
		OutputPath:       outputPath,
		Status:           database.JobQueued,
		CreationTime:     time.Now().UTC(),
		Rules: []database.RuleEvaluation{
			{
				JobId:      jobId,
				RuleName:   "loss-not-decreasing",
				RuleType:   api.RuleTypeLossNotDecreasing,
				Parameters: mustJSON(t, map[string]string{"window": "3"}),
				Status:     api.RuleInProgress,
			},
			{
				JobId:    jobId,
				RuleName: "overfit",
				RuleType: api.RuleTypeOverfit,
				Status:   api.RuleInProgress,
			},
		},
	}
	require.NoError(t, db.Create(&job).Error)
	return jobId
}

func waitForTerminal(t *testing.T, db *gorm.DB, jobId uuid.UUID) database.TrainingJob {
	var job database.TrainingJob
	require.Eventually(t, func() bool {
		if err := db.Preload("Rules").First(&job, "id = ?", jobId).Error; err != nil {
			return false
		}
		return job.Status == database.JobCompleted || job.Status == database.JobFailed
	}, 20*time.Second, 50*time.Millisecond)
	return job
}

func TestRunnerExecutesQueuedJob(t *testing.T) {
	db := createDB(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	trainAddr, validAddr := stageInputs(t, store, "training-data")
	jobId := insertJob(t, db,
		map[string]string{TrainChannel: trainAddr, ValidationChannel: validAddr},
		storage.ObjectPath("training-data", "output"),
		map[string]string{"epochs": "6"},
	)

	queue := messaging.NewInMemoryQueue()
	require.NoError(t, queue.PublishTrainingTask(context.Background(), messaging.TrainingTaskPayload{JobId: jobId}))

	runner := NewRunner(db, store, 2)
	runner.Start(context.Background(), queue)

	job := waitForTerminal(t, db, jobId)
	queue.Close()
	runner.Wait()

	require.Equal(t, database.JobCompleted, job.Status)
	assert.True(t, job.StartTime.Valid)
	assert.True(t, job.CompletionTime.Valid)
	assert.False(t, job.FailureReason.Valid)
	require.True(t, job.TensorPath.Valid)

	require.Len(t, job.Rules, 2)
	for _, rule := range job.Rules {
		assert.NotEqual(t, api.RuleInProgress, rule.Status, "rule %s was not evaluated", rule.RuleName)
		assert.NotEqual(t, api.RuleError, rule.Status, "rule %s: %s", rule.RuleName, rule.Details)
	}

	tr, err := trial.New(store, job.TensorPath.String)
	require.NoError(t, err)

	names, err := tr.TensorNames(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, SimulatedTensors, names)

	loss, err := tr.Tensor(context.Background(), "loss")
	require.NoError(t, err)
	require.Len(t, loss, 6)
	for i, record := range loss {
		assert.Equal(t, i, record.Step)
	}
	assert.Less(t, loss[5].Value, loss[0].Value, "loss should decay over training")
}

func TestRunnerFailsJobMissingChannel(t *testing.T) {
	db := createDB(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	jobId := insertJob(t, db,
		map[string]string{TrainChannel: storage.ObjectPath("training-data", "mnist/data/train.npz")},
		storage.ObjectPath("training-data", "output"),
		nil,
	)

	queue := messaging.NewInMemoryQueue()
	require.NoError(t, queue.PublishTrainingTask(context.Background(), messaging.TrainingTaskPayload{JobId: jobId}))

	runner := NewRunner(db, store, 1)
	runner.Start(context.Background(), queue)

	job := waitForTerminal(t, db, jobId)
	queue.Close()
	runner.Wait()

	require.Equal(t, database.JobFailed, job.Status)
	require.True(t, job.FailureReason.Valid)
	assert.Contains(t, job.FailureReason.String, `missing required input channel "validation"`)
}

func TestRunnerFailsJobBadHyperparameters(t *testing.T) {
	db := createDB(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	trainAddr, validAddr := stageInputs(t, store, "training-data")
	jobId := insertJob(t, db,
		map[string]string{TrainChannel: trainAddr, ValidationChannel: validAddr},
		storage.ObjectPath("training-data", "output"),
		map[string]string{"epochs": "zero"},
	)

	queue := messaging.NewInMemoryQueue()
	require.NoError(t, queue.PublishTrainingTask(context.Background(), messaging.TrainingTaskPayload{JobId: jobId}))

	runner := NewRunner(db, store, 1)
	runner.Start(context.Background(), queue)

	job := waitForTerminal(t, db, jobId)
	queue.Close()
	runner.Wait()

	require.Equal(t, database.JobFailed, job.Status)
	require.True(t, job.FailureReason.Valid)
	assert.Contains(t, job.FailureReason.String, `invalid hyperparameter epochs="zero"`)
}
