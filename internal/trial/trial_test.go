package trial

import (
	"context"
	"testing"

	"trainpipe/internal/storage"
	"trainpipe/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTrial(t *testing.T) (*storage.LocalObjectStore, *Trial) {
	t.Helper()
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	tr, err := New(store, "s3://output/job-1/tensors")
	require.NoError(t, err)
	return store, tr
}

func TestTensorNamesAndValues(t *testing.T) {
	ctx := context.Background()
	store, tr := setupTrial(t)

	// Written out of order on purpose: reads must come back step-ordered.
	for _, rec := range []Record{{Step: 20, Value: 0.5}, {Step: 0, Value: 2.3}, {Step: 10, Value: 1.1}} {
		require.NoError(t, WriteRecord(ctx, store, "output", "job-1/tensors", "loss", rec))
	}
	require.NoError(t, WriteRecord(ctx, store, "output", "job-1/tensors", "accuracy", Record{Step: 0, Value: 0.1}))

	names, err := tr.TensorNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "loss"}, names)

	loss, err := tr.Tensor(ctx, "loss")
	require.NoError(t, err)
	assert.Equal(t, []Record{{Step: 0, Value: 2.3}, {Step: 10, Value: 1.1}, {Step: 20, Value: 0.5}}, loss)
}

func TestTensorNotFound(t *testing.T) {
	ctx := context.Background()
	store, tr := setupTrial(t)

	require.NoError(t, WriteRecord(ctx, store, "output", "job-1/tensors", "loss", Record{Step: 0, Value: 1}))

	_, err := tr.Tensor(ctx, "gradients")
	require.Error(t, err)
	assert.ErrorContains(t, err, `tensor "gradients" not found`)
}

func TestForJobRequiresTensorPath(t *testing.T) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	status := &api.JobStatus{JobId: uuid.New(), Status: api.JobFailed}
	_, err = ForJob(store, status)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no tensor output path")

	status.TensorOutputPath = "s3://output/job/tensors"
	_, err = ForJob(store, status)
	assert.NoError(t, err)
}

func TestTrialIsolatedPerJob(t *testing.T) {
	ctx := context.Background()
	store, tr := setupTrial(t)

	require.NoError(t, WriteRecord(ctx, store, "output", "job-1/tensors", "loss", Record{Step: 0, Value: 1}))
	require.NoError(t, WriteRecord(ctx, store, "output", "job-2/tensors", "val_loss", Record{Step: 0, Value: 1}))

	names, err := tr.TensorNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"loss"}, names)
}
