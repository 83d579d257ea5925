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

// Package store persists videos, jobs, chunks, scenes and video memories.
//
// Every write is safe to repeat: records are keyed by deterministic ids and
// saved with upsert semantics, job status changes are compare-and-set on the
// current status, and progress only moves forward. Two implementations share
// this contract: MongoRepository for deployments and MemoryRepository for
// tests and local runs.
package store

import (
	"context"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Repository is the document store the orchestration service owns.
type Repository interface {
	// GetVideo returns model.ErrNotFound for an unknown id.
	GetVideo(ctx context.Context, id string) (*model.Video, error)
	// SaveVideo inserts or replaces the video.
	SaveVideo(ctx context.Context, video *model.Video) error

	// CreateJob inserts a new job. It fails with *model.ConcurrentJobError
	// when the job is active and another active job already holds its video.
	CreateJob(ctx context.Context, job *model.Job) error
	// GetJob returns model.ErrNotFound for an unknown id.
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// FindActiveJob returns the active job of a video or model.ErrNotFound.
	FindActiveJob(ctx context.Context, videoID string) (*model.Job, error)
	// ListJobs returns a video's jobs, newest first.
	ListJobs(ctx context.Context, videoID string) ([]*model.Job, error)
	// UpdateJob replaces the stored job if its current status is one of
	// from, and fails with model.ErrStaleWrite otherwise. Progress is kept
	// at the higher of the stored and new values, except when the job
	// enters RETRYING, which resets it. Activating a job whose video is
	// already held fails with *model.ConcurrentJobError.
	UpdateJob(ctx context.Context, job *model.Job, from ...model.JobStatus) error
	// UpdateJobProgress raises progress to at least update.Progress, records
	// the step and merges the failed providers, but only while the job is
	// RUNNING.
	UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error

	// SaveChunks upserts chunk descriptors by chunk id.
	SaveChunks(ctx context.Context, chunks []model.ChunkDescriptor) error
	// ListChunks returns a video's chunks ordered by index.
	ListChunks(ctx context.Context, videoID string) ([]model.ChunkDescriptor, error)

	// SaveScenes replaces the scene set of a video.
	SaveScenes(ctx context.Context, videoID string, scenes []model.Scene) error
	// ListScenes returns a video's scenes ordered by start time.
	ListScenes(ctx context.Context, videoID string) ([]model.Scene, error)

	// SaveMemory inserts or replaces the memory snapshot of a video.
	SaveMemory(ctx context.Context, memory *model.VideoMemory) error
	// GetMemory returns model.ErrNotFound when no job has completed yet.
	GetMemory(ctx context.Context, videoID string) (*model.VideoMemory, error)
}

// ProgressUpdate is the partial job write made while a job runs.
type ProgressUpdate struct {
	Progress int
	// Step is left unchanged when empty.
	Step string
	// FailedProviders are merged into the stored map, keyed by adapter name.
	FailedProviders map[string]string
}

// SceneExporter publishes completed scenes to an analytics sink.
type SceneExporter interface {
	ExportScenes(ctx context.Context, video *model.Video, scenes []model.Scene) error
}

// mergeProgress applies the progress rule of UpdateJob.
func mergeProgress(stored, next *model.Job) int {
	if next.Status == model.JobRetrying {
		return next.Progress
	}
	return max(stored.Progress, next.Progress)
}
