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


// This file defines the last mandatory step of the analysis workflow.
//
// Logic Flow:
//  1. A job cancelled while it ran is failed with model.ErrJobCancelled and
//     nothing is written.
//  2. The video's scene set is replaced and its memory saved.
//  3. The processing summary is built from the job, the scenes and the
//     memory, and placed in the context for the coordinator to record on
//     the completed job.
package commands

import (
	"fmt"
	"maps"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// PersistResults writes the scene set and the video memory, then produces
// the job's summary. Nothing is written for a job cancelled while it ran.
type PersistResults struct {
	cor.BaseCommand
	repo store.Repository
	now  func() time.Time
}

// NewPersistResults creates the command.
//
// Inputs:
//   - name: The command name.
//   - repo: The store receiving scenes and memory.
//
// Outputs:
//   - *PersistResults: The command.
func NewPersistResults(name string, repo store.Repository) *PersistResults {
	return &PersistResults{BaseCommand: *cor.NewBaseCommand(name), repo: repo, now: time.Now}
}

func (c *PersistResults) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamVideo, ParamScenes, ParamMemory, ParamChunkResults)
}

func (c *PersistResults) Execute(context cor.Context) {
	ctx := context.GetContext()
	job, video, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	tracker := TrackerFrom(context)
	if tracker.Cancelled(ctx) {
		c.Fail(context, model.ErrJobCancelled)
		return
	}
	tracker.Step(ctx, model.StepPersisting, ProgressPersisting)

	scenes := context.Get(ParamScenes).([]model.Scene)
	memory := context.Get(ParamMemory).(*model.VideoMemory)
	results := context.Get(ParamChunkResults).([]*model.MergedChunkResult)

	if err := c.repo.SaveScenes(ctx, video.ID, scenes); err != nil {
		c.Fail(context, fmt.Errorf("saving scenes for video %s: %w", video.ID, err))
		return
	}
	if err := c.repo.SaveMemory(ctx, memory); err != nil {
		c.Fail(context, fmt.Errorf("saving memory for video %s: %w", video.ID, err))
		return
	}

	summary := Summarize(job, video, scenes, memory, results, c.now())
	c.Succeed(context)
	context.Add(ParamSummary, summary)
	context.Add(c.GetOutputParam(), summary)
}

// Summarize builds the result summary recorded on a completed job.
func Summarize(job *model.Job, video *model.Video, scenes []model.Scene, memory *model.VideoMemory, results []*model.MergedChunkResult, now time.Time) *model.ProcessingSummary {
	summary := &model.ProcessingSummary{
		JobID:           job.ID,
		VideoID:         video.ID,
		ChunkCount:      len(results),
		SceneCount:      len(scenes),
		TotalCost:       memory.TotalCost,
		DurationSeconds: video.DurationSeconds,
		ProvidersUsed:   memory.ProvidersUsed,
		FailedProviders: maps.Clone(job.FailedProviders),
	}
	for _, stat := range memory.ObjectStats {
		summary.ObjectCount += stat.Count
	}
	if job.StartedAt != nil {
		summary.ProcessingTime = now.Sub(*job.StartedAt)
	} else {
		for _, r := range results {
			if r != nil {
				summary.ProcessingTime += r.ProcessingTime
			}
		}
	}
	return summary
}
