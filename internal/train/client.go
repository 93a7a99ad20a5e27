package train

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trainpipe/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const DefaultPollInterval = 5 * time.Second

type Client struct {
	client       *resty.Client
	pollInterval time.Duration
}

type ClientOption func(*Client)

func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) { c.pollInterval = interval }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		client:       resty.New().SetBaseURL(baseURL),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitJob validates the spec and submits it, returning the backend's job
// identifier. Validation failures are returned before any remote call.
func (c *Client) SubmitJob(ctx context.Context, spec *JobSpec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid job spec: %w", err)
	}

	var res api.SubmitJobResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(spec.toRequest()).
		SetResult(&res).
		Post("/jobs")
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if resp.IsError() {
		return uuid.Nil, fmt.Errorf("job submission rejected: %s: %s", resp.Status(), resp.String())
	}

	slog.Info("submitted training job", "job_id", res.JobId, "job_name", spec.JobName)
	return res.JobId, nil
}

// DescribeJob fetches one metadata snapshot for the job. No polling, no
// staleness handling: callers get whatever the backend reports at call time.
func (c *Client) DescribeJob(ctx context.Context, jobId uuid.UUID) (*api.JobStatus, error) {
	var status api.JobStatus
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/jobs/" + jobId.String())
	if err != nil {
		return nil, fmt.Errorf("failed to describe job %s: %w", jobId, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to describe job %s: %s: %s", jobId, resp.Status(), resp.String())
	}
	return &status, nil
}

// WaitForCompletion polls the job until it reaches a terminal state,
// returning the final snapshot. The poll loop honors context cancellation.
func (c *Client) WaitForCompletion(ctx context.Context, jobId uuid.UUID) (*api.JobStatus, error) {
	for {
		status, err := c.DescribeJob(ctx, jobId)
		if err != nil {
			return nil, err
		}
		if api.IsTerminal(status.Status) {
			slog.Info("training job reached terminal state", "job_id", jobId, "status", status.Status)
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for job %s: %w", jobId, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// RunJob submits the spec and blocks until the job is terminal.
func (c *Client) RunJob(ctx context.Context, spec *JobSpec) (*api.JobStatus, error) {
	jobId, err := c.SubmitJob(ctx, spec)
	if err != nil {
		return nil, err
	}
	return c.WaitForCompletion(ctx, jobId)
}
