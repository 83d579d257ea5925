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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. Each file holds one step
// of a workflow; this file names the context keys the steps share.
//
// The analysis workflow threads one job through these keys:
//
//	ParamJob, ParamVideo, ParamTracker   set by the caller before the chain runs
//	ParamSource                          PrepareMedia
//	ParamChunks                          ChunkMedia
//	ParamChunkResults                    AnalyzeChunks
//	ParamScenes                          MergeScenes
//	ParamMemory                          BuildMemory
//	ParamSummary                         PersistResults
package commands

import (
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

const (
	ParamJob          = "__JOB__"
	ParamVideo        = "__VIDEO__"
	ParamTracker      = "__TRACKER__"
	ParamSource       = "__SOURCE__"
	ParamChunks       = "__CHUNKS__"
	ParamChunkResults = "__CHUNK_RESULTS__"
	ParamScenes       = "__SCENES__"
	ParamMemory       = "__MEMORY__"
	ParamSummary      = "__SUMMARY__"
	ParamTask         = "__TASK__"
)

// Tracker is how pipeline steps report back to the job's coordinator. The
// coordinator owns the persisted job; steps never write it directly.
type Tracker interface {
	// Step records the step being entered and the progress reached.
	Step(ctx context.Context, step string, progress int)
	// ChunkDone records that completed of total chunks have been analysed,
	// along with the adapters that failed on the chunk just finished.
	ChunkDone(ctx context.Context, completed int, total int, failedProviders map[string]string)
	// Cancelled reports whether the job was cancelled since it started.
	Cancelled(ctx context.Context) bool
}

// Progress checkpoints for the analysis workflow. Chunk analysis fills the
// range between AnalyzeStart and AnalyzeEnd.
const (
	ProgressPlanning   = 2
	ProgressChunking   = 5
	AnalyzeStart       = 10
	AnalyzeEnd         = 85
	ProgressMerging    = 88
	ProgressMemory     = 92
	ProgressPersisting = 96
)

// ChunkProgress maps completed chunks onto the analysis range.
func ChunkProgress(completed int, total int) int {
	if total <= 0 {
		return AnalyzeEnd
	}
	return AnalyzeStart + (AnalyzeEnd-AnalyzeStart)*completed/total
}

type nopTracker struct{}

func (nopTracker) Step(context.Context, string, int) {}
func (nopTracker) ChunkDone(context.Context, int, int, map[string]string) {}
func (nopTracker) Cancelled(context.Context) bool { return false }

// TrackerFrom returns the context's Tracker, or one that ignores everything.
func TrackerFrom(context cor.Context) Tracker {
	if t, ok := context.Get(ParamTracker).(Tracker); ok && t != nil {
		return t
	}
	return nopTracker{}
}

// jobAndVideo fetches the job and video every analysis step needs.
func jobAndVideo(context cor.Context) (*model.Job, *model.Video, error) {
	job, ok := context.Get(ParamJob).(*model.Job)
	if !ok || job == nil {
		return nil, nil, fmt.Errorf("%w: no job in context", model.ErrInvalidRequest)
	}
	video, ok := context.Get(ParamVideo).(*model.Video)
	if !ok || video == nil {
		return nil, nil, fmt.Errorf("%w: no video in context", model.ErrInvalidRequest)
	}
	return job, video, nil
}

// hasParams reports whether every key is set and a Go context is attached.
func hasParams(context cor.Context, keys ...string) bool {
	if context == nil || context.GetContext() == nil {
		return false
	}
	for _, k := range keys {
		if context.Get(k) == nil {
			return false
		}
	}
	return true
}
