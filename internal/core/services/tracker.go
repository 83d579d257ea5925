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


// This file defines how a running workflow reports back to its job:
// progress, the step being run, adapter failures and cancellation.
package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// jobTracker is the commands.Tracker of one running job. It is the only
// writer of the job's progress while the workflow runs. Progress is raised
// with an atomic max before it is written, and the store keeps the higher
// value, so concurrent chunk completions never move it backwards.
type jobTracker struct {
	repo      store.Repository
	jobID     string
	logger    *slog.Logger
	progress  atomic.Int64
	cancelled atomic.Bool
}

func newJobTracker(repo store.Repository, jobID string, logger *slog.Logger) *jobTracker {
	return &jobTracker{repo: repo, jobID: jobID, logger: logger}
}

// raise lifts the in-memory progress to at least p and returns the result.
func (t *jobTracker) raise(p int) int {
	for {
		cur := t.progress.Load()
		if int64(p) <= cur {
			return int(cur)
		}
		if t.progress.CompareAndSwap(cur, int64(p)) {
			return p
		}
	}
}

// Step records the step being entered.
func (t *jobTracker) Step(ctx context.Context, step string, progress int) {
	t.write(ctx, store.ProgressUpdate{Progress: t.raise(progress), Step: step})
}

// ChunkDone writes the chunk's failed adapters with the progress, so a
// status query during the run already shows them.
func (t *jobTracker) ChunkDone(ctx context.Context, completed int, total int, failedProviders map[string]string) {
	t.write(ctx, store.ProgressUpdate{
		Progress:        t.raise(commands.ChunkProgress(completed, total)),
		FailedProviders: failedProviders,
	})
}

func (t *jobTracker) write(ctx context.Context, update store.ProgressUpdate) {
	err := t.repo.UpdateJobProgress(ctx, t.jobID, update)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrStaleWrite):
		// The job left RUNNING underneath us, most likely cancelled.
		t.Cancelled(ctx)
	default:
		t.logger.WarnContext(ctx, "failed to record progress", "progress", update.Progress, "step", update.Step, "error", err)
	}
}

// Cancelled reports whether the stored job has been cancelled. Once seen,
// the answer is remembered.
func (t *jobTracker) Cancelled(ctx context.Context) bool {
	if t.cancelled.Load() {
		return true
	}
	job, err := t.repo.GetJob(ctx, t.jobID)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to check for cancellation", "error", err)
		return false
	}
	if job.Status == model.JobCancelled {
		t.cancelled.Store(true)
		return true
	}
	return false
}
