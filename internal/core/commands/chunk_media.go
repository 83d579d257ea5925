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


// This file defines the chunking step of the analysis workflow. The source
// prepared by PrepareMedia is cut into the plan's overlapping windows; each
// window's segment and keyframe are uploaded and the descriptors saved, so
// a status or chunk query sees them before analysis starts.
package commands

import (
	"fmt"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// ChunkMedia splits the prepared source into the plan's windows and records
// the chunk descriptors.
type ChunkMedia struct {
	cor.BaseCommand
	chunker *media.Chunker
	repo    store.Repository
}

// NewChunkMedia creates the command.
//
// Inputs:
//   - name: The command name.
//   - chunker: Extracts and uploads the segments.
//   - repo: Receives the chunk descriptors.
//
// Outputs:
//   - *ChunkMedia: The command.
func NewChunkMedia(name string, chunker *media.Chunker, repo store.Repository) *ChunkMedia {
	return &ChunkMedia{BaseCommand: *cor.NewBaseCommand(name), chunker: chunker, repo: repo}
}

func (c *ChunkMedia) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamVideo, ParamSource)
}

// Execute splits the source in ParamSource with the job plan's chunk
// duration and overlap and stores the descriptors under ParamChunks.
func (c *ChunkMedia) Execute(context cor.Context) {
	ctx := context.GetContext()
	job, _, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	src := context.Get(ParamSource).(*media.Source)
	TrackerFrom(context).Step(ctx, model.StepChunking, ProgressChunking)

	chunks, err := c.chunker.Split(ctx, src, job.Plan.ChunkDuration, job.Plan.ChunkOverlap)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if err := c.repo.SaveChunks(ctx, chunks); err != nil {
		c.Fail(context, fmt.Errorf("saving %d chunks: %w", len(chunks), err))
		return
	}

	c.Succeed(context)
	context.Add(ParamChunks, chunks)
	context.Add(c.GetOutputParam(), chunks)
}
