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

// Package model defines the data structures for the application. This file
// describes the two state machines the orchestration service drives: the Job
// (one processing run) and the Video it belongs to.
//
// Job transitions:
//
//	PENDING  -> RUNNING | FAILED | CANCELLED
//	RUNNING  -> COMPLETED | FAILED | CANCELLED
//	FAILED   -> RETRYING
//	CANCELLED-> RETRYING
//	RETRYING -> RUNNING | FAILED | CANCELLED
//
// COMPLETED has no outgoing transitions.
package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobRetrying  JobStatus = "RETRYING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobRunning, JobFailed, JobCancelled},
	JobRunning:   {JobCompleted, JobFailed, JobCancelled},
	JobFailed:    {JobRetrying},
	JobCancelled: {JobRetrying},
	JobRetrying:  {JobRunning, JobFailed, JobCancelled},
	JobCompleted: {},
}

// CanTransition reports whether the job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the status counts toward the single active job
// per video rule.
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobRunning || s == JobRetrying
}

// IsTerminal reports whether no further work will happen without an explicit
// retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ActiveJobStatuses lists the statuses that hold the per-video lock.
var ActiveJobStatuses = []JobStatus{JobPending, JobRunning, JobRetrying}

// Step names reported through Job.CurrentStep.
const (
	StepQueued        = "queued"
	StepPlanning      = "planning"
	StepChunking      = "chunking"
	StepAnalyzing     = "analyzing"
	StepMergingScenes = "merging_scenes"
	StepBuildMemory   = "building_memory"
	StepPersisting    = "persisting"
	StepCompleted     = "completed"
)

// Job is the unit of work and state machine tracking one video's processing
// run. Progress is within [0,100] and only moves backwards on retry.
type Job struct {
	ID              string             `json:"job_id" bson:"_id"`
	VideoID         string             `json:"video_id" bson:"video_id"`
	Status          JobStatus          `json:"status" bson:"status"`
	Active          bool               `json:"-" bson:"active"`
	Progress        int                `json:"progress" bson:"progress"`
	CurrentStep     string             `json:"current_step" bson:"current_step"`
	RetryCount      int                `json:"retry_count" bson:"retry_count"`
	MaxRetries      int                `json:"max_retries" bson:"max_retries"`
	Request         AnalysisRequest    `json:"request" bson:"request"`
	Plan            *AnalysisPlan      `json:"plan,omitempty" bson:"plan,omitempty"`
	Result          *ProcessingSummary `json:"result,omitempty" bson:"result,omitempty"`
	Error           string             `json:"error,omitempty" bson:"error,omitempty"`
	FailedProviders map[string]string  `json:"failed_providers,omitempty" bson:"failed_providers,omitempty"`
	// NonRetryable marks a failure that the same request would hit again,
	// such as the probed duration pushing the estimate over the cost limit.
	NonRetryable    bool               `json:"non_retryable,omitempty" bson:"non_retryable,omitempty"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" bson:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// NewJob creates a PENDING job for the video.
func NewJob(videoID string, request AnalysisRequest, plan *AnalysisPlan, maxRetries int, now time.Time) *Job {
	return &Job{
		ID:              uuid.New().String(),
		VideoID:         videoID,
		Status:          JobPending,
		Active:          true,
		CurrentStep:     StepQueued,
		MaxRetries:      maxRetries,
		Request:         request,
		Plan:            plan,
		FailedProviders: make(map[string]string),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// SetStatus moves the job to next and keeps the derived Active flag in sync.
// It does not validate the transition; callers check CanTransition first.
func (j *Job) SetStatus(next JobStatus, now time.Time) {
	j.Status = next
	j.Active = next.IsActive()
	j.UpdatedAt = now
	switch next {
	case JobRunning:
		if j.StartedAt == nil {
			started := now
			j.StartedAt = &started
		}
	case JobCompleted, JobFailed, JobCancelled:
		finished := now
		j.FinishedAt = &finished
	}
}

// AnalysisRequest is the intent submission accepted from the API layer.
type AnalysisRequest struct {
	VideoID           string   `json:"video_id,omitempty" bson:"video_id,omitempty"`
	MediaRef          string   `json:"media_ref" bson:"media_ref"`
	UserIntent        string   `json:"user_intent" bson:"user_intent"`
	ContentType       string   `json:"content_type,omitempty" bson:"content_type,omitempty"`
	DurationSeconds   float64  `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty"`
	ChunkDuration     *float64 `json:"chunk_duration,omitempty" bson:"chunk_duration,omitempty"`
	ChunkOverlap      *float64 `json:"chunk_overlap,omitempty" bson:"chunk_overlap,omitempty"`
	MaxFramesPerChunk *int     `json:"max_frames_per_chunk,omitempty" bson:"max_frames_per_chunk,omitempty"`
	SelectedAdapters  []string `json:"selected_adapters,omitempty" bson:"selected_adapters,omitempty"`
	CostLimit         *float64 `json:"cost_limit,omitempty" bson:"cost_limit,omitempty"`
}

// ProcessingSummary is recorded on a completed job.
type ProcessingSummary struct {
	JobID           string            `json:"job_id" bson:"job_id"`
	VideoID         string            `json:"video_id" bson:"video_id"`
	ChunkCount      int               `json:"chunk_count" bson:"chunk_count"`
	SceneCount      int               `json:"scene_count" bson:"scene_count"`
	ObjectCount     int               `json:"object_count" bson:"object_count"`
	TotalCost       float64           `json:"total_cost" bson:"total_cost"`
	DurationSeconds float64           `json:"duration_seconds" bson:"duration_seconds"`
	ProvidersUsed   []string          `json:"providers_used" bson:"providers_used"`
	FailedProviders map[string]string `json:"failed_providers,omitempty" bson:"failed_providers,omitempty"`
	ProcessingTime  time.Duration     `json:"processing_time" bson:"processing_time"`
}

// SubmitResponse acknowledges an accepted intent submission.
// EstimatedDurationSeconds is a rough wall-clock estimate for the whole job.
type SubmitResponse struct {
	JobID                    string        `json:"job_id"`
	VideoID                  string        `json:"video_id"`
	Status                   JobStatus     `json:"status"`
	Plan                     *AnalysisPlan `json:"plan"`
	EstimatedCost            float64       `json:"estimated_cost"`
	EstimatedDurationSeconds float64       `json:"estimated_duration"`
}

// Task is the unit of work handed to the task-execution layer. Attempt is
// the job's retry count at dispatch time; deliveries of an older attempt are
// stale and ignored.
type Task struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
}
