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

package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// MemoryRepository is a Repository held in process memory. Values are copied
// on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	videos   map[string]model.Video
	jobs     map[string]model.Job
	chunks   map[string]model.ChunkDescriptor
	scenes   map[string][]model.Scene
	memories map[string]model.VideoMemory
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		videos:   make(map[string]model.Video),
		jobs:     make(map[string]model.Job),
		chunks:   make(map[string]model.ChunkDescriptor),
		scenes:   make(map[string][]model.Scene),
		memories: make(map[string]model.VideoMemory),
	}
}

func (r *MemoryRepository) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, model.ErrNotFound)
	}
	return &v, nil
}

func (r *MemoryRepository) SaveVideo(ctx context.Context, video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[video.ID] = *video
	return nil
}

// activeHolder returns the id of an active job on videoID other than self.
func (r *MemoryRepository) activeHolder(videoID string, self string) string {
	for id, j := range r.jobs {
		if id != self && j.VideoID == videoID && j.Active {
			return id
		}
	}
	return ""
}

func (r *MemoryRepository) CreateJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, model.ErrStaleWrite)
	}
	if job.Active {
		if holder := r.activeHolder(job.VideoID, job.ID); holder != "" {
			return &model.ConcurrentJobError{VideoID: job.VideoID, JobID: holder}
		}
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	out := cloneJob(&j)
	return &out, nil
}

func (r *MemoryRepository) FindActiveJob(ctx context.Context, videoID string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	holder := r.activeHolder(videoID, "")
	if holder == "" {
		return nil, fmt.Errorf("active job for video %s: %w", videoID, model.ErrNotFound)
	}
	out := cloneJob(ptr(r.jobs[holder]))
	return &out, nil
}

func (r *MemoryRepository) ListJobs(ctx context.Context, videoID string) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			c := cloneJob(&j)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateJob(ctx context.Context, job *model.Job, from ...model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, model.ErrNotFound)
	}
	if len(from) > 0 && !slices.Contains(from, stored.Status) {
		return fmt.Errorf("job %s is %s: %w", job.ID, stored.Status, model.ErrStaleWrite)
	}
	if job.Active && !stored.Active {
		if holder := r.activeHolder(job.VideoID, job.ID); holder != "" {
			return &model.ConcurrentJobError{VideoID: job.VideoID, JobID: holder}
		}
	}
	next := cloneJob(job)
	next.Progress = mergeProgress(&stored, job)
	r.jobs[job.ID] = next
	return nil
}

func (r *MemoryRepository) UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if stored.Status != model.JobRunning {
		return fmt.Errorf("job %s is %s: %w", jobID, stored.Status, model.ErrStaleWrite)
	}
	stored.Progress = max(stored.Progress, update.Progress)
	if update.Step != "" {
		stored.CurrentStep = update.Step
	}
	if len(update.FailedProviders) > 0 {
		merged := maps.Clone(stored.FailedProviders)
		if merged == nil {
			merged = make(map[string]string, len(update.FailedProviders))
		}
		maps.Copy(merged, update.FailedProviders)
		stored.FailedProviders = merged
	}
	r.jobs[jobID] = stored
	return nil
}

func (r *MemoryRepository) SaveChunks(ctx context.Context, chunks []model.ChunkDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunks[c.ChunkID] = c
	}
	return nil
}

func (r *MemoryRepository) ListChunks(ctx context.Context, videoID string) ([]model.ChunkDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ChunkDescriptor, 0)
	for _, c := range r.chunks {
		if c.VideoID == videoID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Index < out[k].Index })
	return out, nil
}

func (r *MemoryRepository) SaveScenes(ctx context.Context, videoID string, scenes []model.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes[videoID] = slices.Clone(scenes)
	return nil
}

func (r *MemoryRepository) ListScenes(ctx context.Context, videoID string) ([]model.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.scenes[videoID])
	if out == nil {
		out = make([]model.Scene, 0)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].StartTime < out[k].StartTime })
	return out, nil
}

func (r *MemoryRepository) SaveMemory(ctx context.Context, memory *model.VideoMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories[memory.VideoID] = *memory
	return nil
}

func (r *MemoryRepository) GetMemory(ctx context.Context, videoID string) (*model.VideoMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.memories[videoID]
	if !ok {
		return nil, fmt.Errorf("memory for video %s: %w", videoID, model.ErrNotFound)
	}
	return &m, nil
}

func ptr[T any](v T) *T { return &v }

// cloneJob copies the job and the maps it owns.
func cloneJob(j *model.Job) model.Job {
	out := *j
	out.FailedProviders = maps.Clone(j.FailedProviders)
	if j.Result != nil {
		result := *j.Result
		result.FailedProviders = maps.Clone(j.Result.FailedProviders)
		result.ProvidersUsed = slices.Clone(j.Result.ProvidersUsed)
		out.Result = &result
	}
	return out
}
