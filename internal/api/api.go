package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"trainpipe/internal/database"
	"trainpipe/internal/messaging"
	"trainpipe/internal/storage"
	"trainpipe/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var instanceTypeRegex = regexp.MustCompile(`^ml\.[a-z][a-z0-9-]*\.[a-z0-9]+$`)

// BackendService is the managed training control plane: it accepts job
// submissions, hands them to the workers through the task queue, and serves
// status snapshots.
type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	store     storage.Provider
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher, store storage.Provider) *BackendService {
	return &BackendService{db: db, publisher: pub, store: store}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTrainingJob))
		r.Get("/", RestHandler(s.ListTrainingJobs))
		r.Get("/{job_id}", RestHandler(s.GetTrainingJob))
	})
}

func validateSubmitRequest(req api.SubmitJobRequest) error {
	if req.EntryPoint == "" {
		return CodedErrorf(http.StatusUnprocessableEntity, "entry_point is required")
	}
	if !instanceTypeRegex.MatchString(req.InstanceType) {
		return CodedErrorf(http.StatusUnprocessableEntity, "invalid instance_type %q, expected the ml.<family>.<size> form", req.InstanceType)
	}
	if req.InstanceCount < 1 {
		return CodedErrorf(http.StatusUnprocessableEntity, "instance_count must be at least 1, got %d", req.InstanceCount)
	}
	if req.FrameworkVersion == "" {
		return CodedErrorf(http.StatusUnprocessableEntity, "framework_version is required")
	}

	if len(req.InputChannels) == 0 {
		return CodedErrorf(http.StatusUnprocessableEntity, "at least one input channel is required")
	}
	for name, addr := range req.InputChannels {
		if _, _, err := storage.ParsePath(addr); err != nil {
			return CodedErrorf(http.StatusUnprocessableEntity, "invalid address for input channel %q: %v", name, err)
		}
	}
	if _, _, err := storage.ParsePath(req.OutputPath); err != nil {
		return CodedErrorf(http.StatusUnprocessableEntity, "invalid output_path: %v", err)
	}

	seen := make(map[string]bool, len(req.Rules))
	for _, rule := range req.Rules {
		if rule.RuleName == "" || rule.RuleType == "" {
			return CodedErrorf(http.StatusUnprocessableEntity, "monitoring rules require both rule_name and rule_type")
		}
		if seen[rule.RuleName] {
			return CodedErrorf(http.StatusUnprocessableEntity, "duplicate monitoring rule name %q", rule.RuleName)
		}
		seen[rule.RuleName] = true
	}

	return nil
}

func (s *BackendService) SubmitTrainingJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitJobRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	ctx := r.Context()

	// Reject jobs whose inputs are not in the object store yet; a queued job
	// would only fail later in the worker with the same problem.
	for name, addr := range req.InputChannels {
		bucket, key, _ := storage.ParsePath(addr)
		objs, err := s.store.ListObjects(ctx, bucket, key)
		if err != nil {
			slog.Error("error checking input channel", "channel", name, "address", addr, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to check input channel %q", name)
		}
		if len(objs) == 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "input channel %q points at no object: %s", name, addr)
		}
	}

	hyperparameters, err := json.Marshal(req.Hyperparameters)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid hyperparameters: %v", err)
	}
	channels, err := json.Marshal(req.InputChannels)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid input channels: %v", err)
	}

	jobId := uuid.New()
	rules := make([]database.RuleEvaluation, 0, len(req.Rules))
	for _, rule := range req.Rules {
		parameters, err := json.Marshal(rule.Parameters)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid parameters for rule %q: %v", rule.RuleName, err)
		}
		rules = append(rules, database.RuleEvaluation{
			JobId:      jobId,
			RuleName:   rule.RuleName,
			RuleType:   rule.RuleType,
			Parameters: datatypes.JSON(parameters),
			Status:     api.RuleInProgress,
		})
	}

	job := &database.TrainingJob{
		Id:               jobId,
		Name:             req.JobName,
		EntryPoint:       req.EntryPoint,
		InstanceType:     req.InstanceType,
		InstanceCount:    req.InstanceCount,
		FrameworkVersion: req.FrameworkVersion,
		ScriptMode:       req.ScriptMode,
		Hyperparameters:  datatypes.JSON(hyperparameters),
		InputChannels:    datatypes.JSON(channels),
		OutputPath:       req.OutputPath,
		Status:           database.JobQueued,
		CreationTime:     time.Now().UTC(),
		Rules:            rules,
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating training job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create training job entry")
	}

	if err := s.publisher.PublishTrainingTask(ctx, messaging.TrainingTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing training task", "job_id", job.Id, "error", err)
		database.FailJob(ctx, s.db, job.Id, "failed to queue training task") //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training job", "job_id", job.Id, "job_name", job.Name)
	return api.SubmitJobResponse{Message: "Training job submitted", JobId: job.Id}, nil
}

func (s *BackendService) GetTrainingJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var job database.TrainingJob
	if err := s.db.WithContext(ctx).Preload("Rules").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "training job not found")
		}
		slog.Error("error getting training job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training job record")
	}

	return ToJobStatus(job), nil
}

type listJobsQuery struct {
	Status string `schema:"status"`
}

func (s *BackendService) ListTrainingJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listJobsQuery](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	query := s.db.WithContext(ctx).Model(&database.TrainingJob{}).Order("creation_time desc")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var jobs []database.TrainingJob
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing training jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing training jobs")
	}

	summaries := make([]api.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, ToJobSummary(job))
	}
	return summaries, nil
}
