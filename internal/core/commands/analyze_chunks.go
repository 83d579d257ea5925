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


// This file defines the fan-out step of the analysis workflow.
//
// Logic Flow:
//  1. The chunk descriptors written by ChunkMedia are read from the context.
//  2. The orchestrator analyses them with the plan's adapters, at most
//     `workers` chunks at a time. Each finished chunk raises the job's
//     progress and reports the adapters that failed on it.
//  3. Cancellation is checked before each chunk is dispatched and once more
//     after the last one; a cancelled job fails the step.
//  4. The merged per-chunk results are placed in the context for the scene
//     merge, and every adapter failure is recorded on the job.
package commands

import (
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
)

// AnalyzeChunks fans every chunk out to the plan's adapters. Chunk
// completions drive the job's progress, and a cancellation seen between
// chunks stops dispatch and fails the step with model.ErrJobCancelled.
type AnalyzeChunks struct {
	cor.BaseCommand
	orchestrator *orchestrator.Orchestrator
	workers      int
}

// NewAnalyzeChunks creates the command.
//
// Inputs:
//   - name: The command name, used for its span and counters.
//   - orch: Runs the adapters over each chunk.
//   - workers: Bounds the chunks analysed at once; below one means one.
//
// Outputs:
//   - *AnalyzeChunks: The command.
func NewAnalyzeChunks(name string, orch *orchestrator.Orchestrator, workers int) *AnalyzeChunks {
	return &AnalyzeChunks{BaseCommand: *cor.NewBaseCommand(name), orchestrator: orch, workers: workers}
}

func (c *AnalyzeChunks) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamChunks)
}

func (c *AnalyzeChunks) Execute(context cor.Context) {
	ctx := context.GetContext()
	job, _, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	chunks := context.Get(ParamChunks).([]model.ChunkDescriptor)
	tracker := TrackerFrom(context)
	tracker.Step(ctx, model.StepAnalyzing, AnalyzeStart)

	results, err := c.orchestrator.Run(ctx, chunks, job.Plan, orchestrator.RunOptions{
		Workers:    c.workers,
		ShouldStop: func() bool { return tracker.Cancelled(ctx) },
		OnChunkDone: func(completed int, total int, result *model.MergedChunkResult) {
			var failed map[string]string
			if result != nil {
				failed = result.FailedProviders
			}
			tracker.ChunkDone(ctx, completed, total, failed)
		},
	})
	if err != nil {
		c.Fail(context, err)
		return
	}
	if tracker.Cancelled(ctx) {
		c.Fail(context, model.ErrJobCancelled)
		return
	}

	if job.FailedProviders == nil {
		job.FailedProviders = make(map[string]string)
	}
	for _, r := range results {
		for name, reason := range r.FailedProviders {
			job.FailedProviders[name] = reason
		}
	}

	c.Succeed(context)
	context.Add(ParamChunkResults, results)
	context.Add(c.GetOutputParam(), results)
}
