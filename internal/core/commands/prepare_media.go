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

// This file defines the first step of the analysis workflow.
//
// Logic Flow:
//  1. The job's source video is copied into a private work directory and
//     probed. Removing the directory is registered on the chain context, so
//     it happens whatever the outcome of the run.
//  2. The probed duration, frame rate and type are recorded on the video.
//  3. A plan built before the duration was known (or against a different
//     one) is rebuilt from the stored request, since chunking and cost both
//     depend on it.
//  4. The caller's budget is checked again against the final estimate.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
)

// PrepareMedia resolves and probes the source video.
type PrepareMedia struct {
	cor.BaseCommand
	chunker *media.Chunker
	planner *planner.Planner
}

// NewPrepareMedia creates the command. A nil planner keeps the stored plan.
func NewPrepareMedia(name string, chunker *media.Chunker, planner *planner.Planner) *PrepareMedia {
	return &PrepareMedia{BaseCommand: *cor.NewBaseCommand(name), chunker: chunker, planner: planner}
}

func (c *PrepareMedia) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamVideo)
}

func (c *PrepareMedia) Execute(context cor.Context) {
	ctx := context.GetContext()
	job, video, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	TrackerFrom(context).Step(ctx, model.StepChunking, ProgressPlanning)

	src, err := c.chunker.Prepare(ctx, video.ID, video.MediaRef)
	if err != nil {
		c.Fail(context, err)
		return
	}
	context.AddCleanup(func() {
		if err := src.Cleanup(); err != nil {
			slog.Warn("failed to remove work dir", "path", src.WorkDir, "error", err)
		}
	})
	if job.Request.DurationSeconds > 0 {
		src.Duration = job.Request.DurationSeconds
	}

	video.DurationSeconds = src.Duration
	video.FrameRate = src.FrameRate
	video.MIMEType = src.MIMEType

	if c.planner != nil && (job.Plan == nil || job.Plan.DurationSeconds != src.Duration) {
		job.Plan = c.planner.PlanRequest(job.Request, src.Duration)
		slog.InfoContext(ctx, "plan rebuilt for probed duration",
			"job_id", job.ID, "duration", src.Duration,
			"chunk_duration", job.Plan.ChunkDuration, "cost_estimate", job.Plan.CostEstimate)
	}
	if job.Plan == nil {
		c.Fail(context, fmt.Errorf("%w: job %s has no plan", model.ErrInvalidRequest, job.ID))
		return
	}
	if limit := job.Request.CostLimit; limit != nil && job.Plan.CostEstimate > *limit {
		c.Fail(context, &model.CostLimitError{Estimate: job.Plan.CostEstimate, Limit: *limit})
		return
	}

	c.Succeed(context)
	context.Add(ParamSource, src)
	context.Add(c.GetOutputParam(), src)
}
