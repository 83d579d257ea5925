// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package services contains the business logic behind the API and the task
// listeners. This file defines the OrchestrationService, which owns the
// job and video state machines.
//
// Job lifecycle:
//
//	PENDING  -> RUNNING -> COMPLETED | FAILED
//	FAILED | CANCELLED -> RETRYING -> RUNNING   (while retry_count < max_retries)
//	PENDING | RUNNING | RETRYING -> CANCELLED
//
// Every transition is a compare-and-set on the stored status, so a task
// delivered twice, or a cancel racing a completion, resolves to exactly one
// outcome.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// Dispatcher hands tasks to the task-execution layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, task model.Task) error
}

// Options tune the service. Zero values fall back to the defaults below.
type Options struct {
	MaxRetries int
	// DefaultCostLimit applies to submissions without a cost_limit. Zero
	// means unlimited.
	DefaultCostLimit float64
	// SecondsPerChunkEstimate is the expected wall-clock time to analyse one
	// chunk, used for estimated_duration.
	SecondsPerChunkEstimate float64
	ChunkWorkers            int
}

const (
	DefaultMaxRetries              = 3
	DefaultSecondsPerChunkEstimate = 20.0
)

// OrchestrationService is the top-level coordinator.
type OrchestrationService struct {
	repo       store.Repository
	planner    *planner.Planner
	registry   *providers.Registry
	workflow   cor.Command
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	// running holds the ids of jobs executing in this process.
	running sync.Map
}

// NewOrchestrationService creates the service.
//
// Inputs:
//   - repo: The document store.
//   - planner, registry: Used to plan and validate submissions.
//   - workflow: The analysis workflow run by Execute.
//   - dispatcher: The task-execution layer. Nil runs tasks in-process.
//   - opts: Tuning; see Options.
//   - logger: Nil means slog.Default().
func NewOrchestrationService(
	repo store.Repository,
	planner *planner.Planner,
	registry *providers.Registry,
	workflow cor.Command,
	dispatcher Dispatcher,
	opts Options,
	logger *slog.Logger,
) *OrchestrationService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.SecondsPerChunkEstimate <= 0 {
		opts.SecondsPerChunkEstimate = DefaultSecondsPerChunkEstimate
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &OrchestrationService{
		repo:       repo,
		planner:    planner,
		registry:   registry,
		workflow:   workflow,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.dispatcher == nil {
		s.dispatcher = NewLocalDispatcher(s)
	}
	return s
}

// Submit validates and plans an intent submission, creates the PENDING job
// and hands it to the task-execution layer.
//
// Outputs:
//   - *model.SubmitResponse: The job id, plan and estimates.
//   - error: A validation error (model.IsValidation), model.ErrNotFound for
//     an unknown video id, or the dispatch failure. A job whose dispatch
//     failed is left FAILED so it can be retried.
func (s *OrchestrationService) Submit(ctx context.Context, req model.AnalysisRequest) (*model.SubmitResponse, error) {
	job, video, err := s.createJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "analysis submitted", "job_id", job.ID, "video_id", video.ID,
		"goals", job.Plan.Goals, "adapters", job.Plan.Adapters(), "cost_estimate", job.Plan.CostEstimate)
	return s.response(job), nil
}

// Process is Submit followed by a synchronous Execute of the new job.
func (s *OrchestrationService) Process(ctx context.Context, req model.AnalysisRequest) (*model.ProcessingSummary, error) {
	job, _, err := s.createJob(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, model.Task{JobID: job.ID, Attempt: job.RetryCount})
}

func (s *OrchestrationService) response(job *model.Job) *model.SubmitResponse {
	chunks := job.Plan.ChunkCount(job.Plan.DurationSeconds)
	workers := max(s.opts.ChunkWorkers, 1)
	return &model.SubmitResponse{
		JobID:                    job.ID,
		VideoID:                  job.VideoID,
		Status:                   job.Status,
		Plan:                     job.Plan,
		EstimatedCost:            job.Plan.CostEstimate,
		EstimatedDurationSeconds: math.Ceil(float64(chunks)/float64(workers)) * s.opts.SecondsPerChunkEstimate,
	}
}

func (s *OrchestrationService) createJob(ctx context.Context, req model.AnalysisRequest) (*model.Job, *model.Video, error) {
	req.UserIntent = strings.TrimSpace(req.UserIntent)
	req.MediaRef = strings.TrimSpace(req.MediaRef)
	if err := s.validate(req); err != nil {
		return nil, nil, err
	}

	video, err := s.resolveVideo(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	req.VideoID = video.ID
	req.MediaRef = video.MediaRef

	// A video held by a running job is reported as such, whatever else is
	// wrong with the new request.
	if active, err := s.repo.FindActiveJob(ctx, video.ID); err == nil {
		return nil, nil, &model.ConcurrentJobError{VideoID: video.ID, JobID: active.ID}
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = video.DurationSeconds
	}
	plan := s.planner.PlanRequest(req, duration)
	if err := media.ValidateChunking(plan.ChunkDuration, plan.ChunkOverlap); err != nil {
		return nil, nil, err
	}
	if len(plan.Adapters()) == 0 {
		return nil, nil, fmt.Errorf("%w: no available adapter can serve %q: %w", model.ErrInvalidRequest, req.UserIntent, model.ErrProviderUnavailable)
	}
	if req.CostLimit == nil && s.opts.DefaultCostLimit > 0 {
		limit := s.opts.DefaultCostLimit
		req.CostLimit = &limit
	}
	if req.CostLimit != nil && plan.CostEstimate > *req.CostLimit {
		return nil, nil, &model.CostLimitError{Estimate: plan.CostEstimate, Limit: *req.CostLimit}
	}

	if err := s.repo.SaveVideo(ctx, video); err != nil {
		return nil, nil, err
	}
	job := model.NewJob(video.ID, req, plan, s.opts.MaxRetries, s.now())
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, nil, err
	}
	return job, video, nil
}

func (s *OrchestrationService) validate(req model.AnalysisRequest) error {
	switch {
	case req.UserIntent == "":
		return fmt.Errorf("%w: user_intent is required", model.ErrInvalidRequest)
	case req.MediaRef == "" && req.VideoID == "":
		return fmt.Errorf("%w: media_ref or video_id is required", model.ErrInvalidRequest)
	case req.DurationSeconds < 0:
		return fmt.Errorf("%w: duration_seconds must not be negative", model.ErrInvalidRequest)
	case req.MaxFramesPerChunk != nil && *req.MaxFramesPerChunk <= 0:
		return fmt.Errorf("%w: max_frames_per_chunk must be positive", model.ErrInvalidRequest)
	case req.CostLimit != nil && *req.CostLimit < 0:
		return fmt.Errorf("%w: cost_limit must not be negative", model.ErrInvalidRequest)
	}
	available := s.registry.Available()
	for _, name := range req.SelectedAdapters {
		if !slices.Contains(available, name) {
			return fmt.Errorf("%w: adapter %q is not available", model.ErrInvalidRequest, name)
		}
	}
	return nil
}

func (s *OrchestrationService) resolveVideo(ctx context.Context, req model.AnalysisRequest) (*model.Video, error) {
	id := req.VideoID
	if id == "" {
		id = model.NewVideoID(req.MediaRef)
	}
	video, err := s.repo.GetVideo(ctx, id)
	switch {
	case err == nil:
		if req.MediaRef != "" && req.MediaRef != video.MediaRef {
			return nil, fmt.Errorf("%w: video %s already refers to %s", model.ErrInvalidRequest, id, video.MediaRef)
		}
		return video, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	case req.MediaRef == "":
		return nil, fmt.Errorf("video %s: %w", id, model.ErrNotFound)
	}
	return model.NewVideo(id, req.MediaRef, s.now()), nil
}

// dispatch hands the job's current attempt to the task-execution layer. A
// job that cannot be dispatched is failed so that it does not hold its video.
func (s *OrchestrationService) dispatch(ctx context.Context, job *model.Job) error {
	err := s.dispatcher.Dispatch(ctx, model.Task{JobID: job.ID, Attempt: job.RetryCount})
	if err == nil {
		return nil
	}
	from := job.Status
	job.SetStatus(model.JobFailed, s.now())
	job.Error = fmt.Sprintf("dispatch failed: %v", err)
	if uErr := s.repo.UpdateJob(context.WithoutCancel(ctx), job, from); uErr != nil {
		s.logger.ErrorContext(ctx, "failed to record dispatch failure", "job_id", job.ID, "error", uErr)
	}
	return fmt.Errorf("dispatching job %s: %w", job.ID, err)
}

// Execute runs one delivery of a task.
//
// Logic Flow:
//  1. A terminal job is not run again: a completed job returns its stored
//     summary, a cancelled one model.ErrJobCancelled, a failed one nothing.
//     A task for an older attempt than the job's retry count is ignored.
//  2. The job moves to RUNNING (a RUNNING job left by an interrupted
//     delivery is resumed) and its video to PROCESSING.
//  3. The analysis workflow runs with the job, video and a progress tracker.
//     Its temporary files are removed however it ends.
//  4. Success completes the job and video. A failure fails both with the
//     originating message, unless the job was cancelled meanwhile or the
//     process is shutting down, in which case the job is left for
//     redelivery.
func (s *OrchestrationService) Execute(ctx context.Context, task model.Task) (*model.ProcessingSummary, error) {
	job, err := s.repo.GetJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("job_id", job.ID, "video_id", job.VideoID, "attempt", task.Attempt)

	switch {
	case job.Status == model.JobCompleted:
		logger.InfoContext(ctx, "job already completed")
		return job.Result, nil
	case job.Status == model.JobCancelled:
		return nil, fmt.Errorf("job %s: %w", job.ID, model.ErrJobCancelled)
	case job.Status == model.JobFailed:
		logger.InfoContext(ctx, "job already failed; ignoring delivery", "error", job.Error)
		return nil, nil
	case task.Attempt < job.RetryCount:
		logger.InfoContext(ctx, "stale task ignored", "retry_count", job.RetryCount)
		return nil, nil
	}
	if _, busy := s.running.LoadOrStore(job.ID, struct{}{}); busy {
		logger.InfoContext(ctx, "job already running in this process")
		return nil, nil
	}
	defer s.running.Delete(job.ID)

	video, err := s.repo.GetVideo(ctx, job.VideoID)
	if err != nil {
		return nil, err
	}

	from := job.Status
	job.SetStatus(model.JobRunning, s.now())
	job.CurrentStep = model.StepPlanning
	job.Error = ""
	if err := s.repo.UpdateJob(ctx, job, model.JobPending, model.JobRetrying, model.JobRunning); err != nil {
		return nil, fmt.Errorf("starting job %s from %s: %w", job.ID, from, err)
	}
	video.Status = model.VideoProcessing
	video.LastJobID = job.ID
	video.Error = ""
	video.UpdatedAt = s.now()
	if err := s.repo.SaveVideo(ctx, video); err != nil {
		return nil, s.fail(ctx, job, video, err)
	}
	logger.InfoContext(ctx, "job started", "from", from)

	tracker := newJobTracker(s.repo, job.ID, logger)
	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetContext(ctx)
	chCtx.Add(commands.ParamJob, job)
	chCtx.Add(commands.ParamVideo, video)
	chCtx.Add(commands.ParamTracker, tracker)

	if !s.workflow.IsExecutable(chCtx) {
		return nil, s.fail(ctx, job, video, fmt.Errorf("%w: workflow %s not executable", model.ErrInvalidRequest, s.workflow.GetName()))
	}
	s.workflow.Execute(chCtx)

	if chCtx.HasErrors() {
		cause := chCtx.FirstError()
		if errors.Is(cause, model.ErrJobCancelled) || tracker.Cancelled(context.WithoutCancel(ctx)) {
			logger.InfoContext(ctx, "job cancelled; results discarded")
			return nil, fmt.Errorf("job %s: %w", job.ID, model.ErrJobCancelled)
		}
		if errors.Is(cause, context.Canceled) && ctx.Err() != nil {
			logger.WarnContext(ctx, "job interrupted; left for redelivery", "error", cause)
			return nil, cause
		}
		return nil, s.fail(ctx, job, video, cause)
	}

	summary, _ := chCtx.Get(commands.ParamSummary).(*model.ProcessingSummary)
	return s.complete(ctx, job, video, summary)
}

func (s *OrchestrationService) complete(ctx context.Context, job *model.Job, video *model.Video, summary *model.ProcessingSummary) (*model.ProcessingSummary, error) {
	if summary == nil {
		summary = &model.ProcessingSummary{JobID: job.ID, VideoID: video.ID, DurationSeconds: video.DurationSeconds}
	}
	writeCtx := context.WithoutCancel(ctx)
	now := s.now()
	job.SetStatus(model.JobCompleted, now)
	job.Progress = 100
	job.CurrentStep = model.StepCompleted
	job.Result = summary
	if err := s.repo.UpdateJob(writeCtx, job, model.JobRunning); err != nil {
		if errors.Is(err, model.ErrStaleWrite) && s.isCancelled(writeCtx, job.ID) {
			return nil, fmt.Errorf("job %s: %w", job.ID, model.ErrJobCancelled)
		}
		return nil, fmt.Errorf("completing job %s: %w", job.ID, err)
	}

	video.Status = model.VideoCompleted
	video.UpdatedAt = now
	if err := s.repo.SaveVideo(writeCtx, video); err != nil {
		return nil, fmt.Errorf("completing video %s: %w", video.ID, err)
	}
	s.logger.InfoContext(ctx, "job completed", "job_id", job.ID, "video_id", video.ID,
		"chunks", summary.ChunkCount, "scenes", summary.SceneCount, "cost", summary.TotalCost)
	return summary, nil
}

// fail records cause on the job and its video and returns it wrapped. A
// cost limit breach found once the duration is probed is final: retrying
// the same request would breach it again.
func (s *OrchestrationService) fail(ctx context.Context, job *model.Job, video *model.Video, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	now := s.now()
	job.SetStatus(model.JobFailed, now)
	job.Error = cause.Error()
	job.NonRetryable = errors.Is(cause, model.ErrCostLimitExceeded)
	if err := s.repo.UpdateJob(writeCtx, job, model.JobRunning); err != nil {
		if errors.Is(err, model.ErrStaleWrite) && s.isCancelled(writeCtx, job.ID) {
			return fmt.Errorf("job %s: %w", job.ID, model.ErrJobCancelled)
		}
		s.logger.ErrorContext(ctx, "failed to record job failure", "job_id", job.ID, "cause", cause, "error", err)
		return errors.Join(cause, err)
	}

	video.Status = model.VideoFailed
	video.Error = cause.Error()
	video.UpdatedAt = now
	if err := s.repo.SaveVideo(writeCtx, video); err != nil {
		s.logger.ErrorContext(ctx, "failed to record video failure", "video_id", video.ID, "error", err)
	}
	s.logger.ErrorContext(ctx, "job failed", "job_id", job.ID, "video_id", video.ID, "error", cause)
	return fmt.Errorf("job %s failed: %w", job.ID, cause)
}

func (s *OrchestrationService) isCancelled(ctx context.Context, jobID string) bool {
	job, err := s.repo.GetJob(ctx, jobID)
	return err == nil && job.Status == model.JobCancelled
}

// Retry re-enters a FAILED or CANCELLED job with its stored plan.
//
// Outputs:
//   - *model.Job: The job in RETRYING state with retry_count raised by one.
//   - error: model.ErrInvalidTransition for other statuses, a
//     *model.CostLimitError for a job that failed on its cost limit, a
//     *model.RetryLimitError once retry_count has reached max_retries, or a
//     *model.ConcurrentJobError when the video is held by another job.
func (s *OrchestrationService) Retry(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(model.JobRetrying) {
		return nil, fmt.Errorf("%w: cannot retry a %s job", model.ErrInvalidTransition, job.Status)
	}
	if job.NonRetryable {
		return nil, nonRetryableError(job)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, &model.RetryLimitError{JobID: job.ID, RetryCount: job.RetryCount, MaxRetries: job.MaxRetries}
	}

	from := job.Status
	job.RetryCount++
	job.SetStatus(model.JobRetrying, s.now())
	job.Progress = 0
	job.CurrentStep = model.StepQueued
	job.Error = ""
	job.Result = nil
	job.FinishedAt = nil
	job.FailedProviders = make(map[string]string)
	if err := s.repo.UpdateJob(ctx, job, from); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job retrying", "job_id", job.ID, "retry_count", job.RetryCount, "max_retries", job.MaxRetries)

	if err := s.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func nonRetryableError(job *model.Job) error {
	if job.Plan != nil && job.Request.CostLimit != nil {
		return &model.CostLimitError{Estimate: job.Plan.CostEstimate, Limit: *job.Request.CostLimit}
	}
	return fmt.Errorf("job %s cannot be retried: %w", job.ID, model.ErrCostLimitExceeded)
}

// Cancel moves a non-terminal job to CANCELLED. A running job notices
// between chunks and before persisting, and discards its results. The
// video returns to UPLOADED.
func (s *OrchestrationService) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	// A job may move between read and write; retry the compare-and-set on
	// the fresh status a bounded number of times.
	for range 3 {
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !job.Status.CanTransition(model.JobCancelled) {
			return nil, fmt.Errorf("%w: cannot cancel a %s job", model.ErrInvalidTransition, job.Status)
		}
		from := job.Status
		job.SetStatus(model.JobCancelled, s.now())
		err = s.repo.UpdateJob(ctx, job, from)
		if errors.Is(err, model.ErrStaleWrite) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if video, vErr := s.repo.GetVideo(ctx, job.VideoID); vErr == nil && video.Status == model.VideoProcessing {
			video.Status = model.VideoUploaded
			video.UpdatedAt = s.now()
			if vErr := s.repo.SaveVideo(ctx, video); vErr != nil {
				s.logger.WarnContext(ctx, "failed to release video", "video_id", video.ID, "error", vErr)
			}
		}
		s.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID, "from", from)
		return job, nil
	}
	return nil, fmt.Errorf("cancelling job %s: %w", jobID, model.ErrStaleWrite)
}

// FailTask is the task-execution layer's failure callback, used when a task
// can no longer run (delivery attempts exhausted, wall-clock limit). Stale
// tasks and terminal jobs are left alone.
func (s *OrchestrationService) FailTask(ctx context.Context, task model.Task, cause error) error {
	job, err := s.repo.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() || task.Attempt < job.RetryCount {
		return nil
	}
	video, err := s.repo.GetVideo(ctx, job.VideoID)
	if err != nil {
		return err
	}

	from := job.Status
	job.SetStatus(model.JobFailed, s.now())
	job.Error = cause.Error()
	if err := s.repo.UpdateJob(ctx, job, from); err != nil {
		if errors.Is(err, model.ErrStaleWrite) {
			return nil
		}
		return err
	}
	video.Status = model.VideoFailed
	video.Error = cause.Error()
	video.UpdatedAt = s.now()
	return s.repo.SaveVideo(ctx, video)
}

// Wait blocks until tasks running in this process have finished. It returns
// at once when tasks are dispatched elsewhere.
func (s *OrchestrationService) Wait() {
	if d, ok := s.dispatcher.(*LocalDispatcher); ok {
		d.Wait()
	}
}

// JobStatusView is the job status query result.
type JobStatusView struct {
	JobID           string                   `json:"job_id"`
	VideoID         string                   `json:"video_id"`
	Status          model.JobStatus          `json:"status"`
	Progress        int                      `json:"progress"`
	CurrentStep     string                   `json:"current_step"`
	RetryCount      int                      `json:"retry_count"`
	MaxRetries      int                      `json:"max_retries"`
	Error           string                   `json:"error,omitempty"`
	FailedProviders map[string]string        `json:"failed_providers,omitempty"`
	Result          *model.ProcessingSummary `json:"result,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	FinishedAt      *time.Time               `json:"finished_at,omitempty"`
}

// Status returns the current state of a job.
func (s *OrchestrationService) Status(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatusView{
		JobID:           job.ID,
		VideoID:         job.VideoID,
		Status:          job.Status,
		Progress:        job.Progress,
		CurrentStep:     job.CurrentStep,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		Error:           job.Error,
		FailedProviders: job.FailedProviders,
		Result:          job.Result,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}, nil
}
