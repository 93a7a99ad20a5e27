// Package trial reads the per-step tensor values a training job records in
// object storage. A trial is a lazy read-only handle: names and values are
// fetched on demand, nothing is cached locally.
package trial

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"trainpipe/internal/storage"
	"trainpipe/pkg/api"
)

// Record is one recorded tensor value. Jobs write one object per (tensor,
// step) pair under <prefix>/<tensor>/steps/<step>.json.
type Record struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// RecordKey returns the object key for one tensor step record.
func RecordKey(prefix, tensor string, step int) string {
	return path.Join(prefix, tensor, "steps", fmt.Sprintf("%010d.json", step))
}

// WriteRecord stores one tensor step record. Used by the training side; the
// trial itself only reads.
func WriteRecord(ctx context.Context, provider storage.Provider, bucket, prefix, tensor string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record for tensor %s: %w", tensor, err)
	}
	key := RecordKey(prefix, tensor, record.Step)
	if err := provider.PutObject(ctx, bucket, key, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("failed to write record for tensor %s step %d: %w", tensor, record.Step, err)
	}
	return nil
}

type Trial struct {
	provider storage.Provider
	bucket   string
	prefix   string
}

// New opens a trial over a tensor output path ("s3://bucket/prefix").
func New(provider storage.Provider, tensorPath string) (*Trial, error) {
	bucket, prefix, err := storage.ParsePath(tensorPath)
	if err != nil {
		return nil, fmt.Errorf("invalid tensor output path: %w", err)
	}
	return &Trial{provider: provider, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

// ForJob opens a trial for a job status snapshot. Fails clearly when the
// snapshot carries no tensor output path, e.g. for a job that never started.
func ForJob(provider storage.Provider, status *api.JobStatus) (*Trial, error) {
	if status.TensorOutputPath == "" {
		return nil, fmt.Errorf("job %s status snapshot has no tensor output path", status.JobId)
	}
	return New(provider, status.TensorOutputPath)
}

// TensorNames lists the names of all tensors the job has recorded so far.
func (t *Trial) TensorNames(ctx context.Context) ([]string, error) {
	objects, err := t.provider.ListObjects(ctx, t.bucket, t.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list tensors under %s: %w", storage.ObjectPath(t.bucket, t.prefix), err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Name, t.prefix+"/")
		name, _, ok := strings.Cut(rel, "/")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Tensor fetches the recorded value sequence of one tensor, ordered by step.
func (t *Trial) Tensor(ctx context.Context, name string) ([]Record, error) {
	stepPrefix := path.Join(t.prefix, name, "steps") + "/"
	objects, err := t.provider.ListObjects(ctx, t.bucket, stepPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps for tensor %s: %w", name, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("tensor %q not found under %s", name, storage.ObjectPath(t.bucket, t.prefix))
	}

	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		data, err := t.provider.GetObject(ctx, t.bucket, obj.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read tensor %s record %s: %w", name, obj.Name, err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to parse tensor %s record %s: %w", name, obj.Name, err)
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Step < records[j].Step })
	return records, nil
}
