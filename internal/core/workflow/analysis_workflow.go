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


// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file implements the
// analysis workflow run for every job.
package workflow

import (
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// AnalysisDependencies are the collaborators of the analysis workflow.
// Exporter is optional.
type AnalysisDependencies struct {
	Chunker      *media.Chunker
	Planner      *planner.Planner
	Orchestrator *orchestrator.Orchestrator
	Repository   store.Repository
	Exporter     store.SceneExporter
	// ChunkWorkers bounds the chunks analysed at once. Zero analyses them
	// one at a time.
	ChunkWorkers int
	// SceneMergeEpsilon defaults to commands.DefaultSceneMergeEpsilon.
	SceneMergeEpsilon float64
}

// AnalysisWorkflow takes one job from its stored plan to persisted scenes and
// memory. The caller puts the job, its video and a progress tracker in the
// context (commands.ParamJob, ParamVideo, ParamTracker) and reads the result
// from commands.ParamSummary.
type AnalysisWorkflow struct {
	cor.BaseCommand
	deps  AnalysisDependencies
	chain cor.Chain
}

// Execute runs the underlying chain.
func (w *AnalysisWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// IsExecutable requires the job and its video.
func (w *AnalysisWorkflow) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil &&
		context.Get(commands.ParamJob) != nil && context.Get(commands.ParamVideo) != nil
}

// Steps returns the names of the workflow's commands in order.
func (w *AnalysisWorkflow) Steps() []string {
	out := make([]string, 0)
	if chain, ok := w.chain.(*cor.BaseChain); ok {
		for _, c := range chain.Commands() {
			out = append(out, c.GetName())
		}
	}
	return out
}

func (w *AnalysisWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())

	// Step 1: Copy the source into a work directory, probe it, and rebuild
	// the plan if it was made without the real duration.
	out.AddCommand(commands.NewPrepareMedia("prepare-media", w.deps.Chunker, w.deps.Planner))

	// Step 2: Cut the chunks and upload segments and keyframes.
	out.AddCommand(commands.NewChunkMedia("chunk-media", w.deps.Chunker, w.deps.Repository))

	// Step 3: Fan every chunk out to the plan's adapters.
	out.AddCommand(commands.NewAnalyzeChunks("analyze-chunks", w.deps.Orchestrator, w.deps.ChunkWorkers))

	// Step 4: Merge the per-chunk detections into the video's scenes.
	out.AddCommand(commands.NewSceneMerge("merge-scenes", w.deps.SceneMergeEpsilon))

	// Step 5: Summarise the run as the video's memory.
	out.AddCommand(commands.NewBuildMemory("build-memory"))

	// Step 6: Write scenes and memory, and produce the job summary.
	out.AddCommand(commands.NewPersistResults("persist-results", w.deps.Repository))

	// Step 7: Copy the scenes to the warehouse. Failures here are logged only.
	if w.deps.Exporter != nil {
		out.AddCommand(commands.NewScenePersistToBigQuery("write-scenes-to-bigquery", w.deps.Exporter))
	}

	w.chain = out
}

// NewAnalysisWorkflow builds the workflow.
func NewAnalysisWorkflow(deps AnalysisDependencies) *AnalysisWorkflow {
	w := &AnalysisWorkflow{
		BaseCommand: *cor.NewBaseCommand("analysis-workflow"),
		deps:        deps,
	}
	w.initializeChain()
	return w
}
