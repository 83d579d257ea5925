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


// This file defines the export of a finished scene set to the analytics
// warehouse.
//
// Logic Flow:
//  1. The merged scenes and their video are read from the context after the
//     results have been persisted.
//  2. The scenes are handed to a store.SceneExporter (BigQuery in
//     production), which inserts one row per scene keyed by the scene id so
//     that a redelivered job does not duplicate rows.
//  3. An export failure is logged and counted but does not fail the job: the
//     document store already holds the authoritative copy.
package commands

import (
	"log/slog"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// ScenePersistToBigQuery exports the scene set of a completed analysis.
type ScenePersistToBigQuery struct {
	cor.BaseCommand
	exporter store.SceneExporter
}

// NewScenePersistToBigQuery is the constructor for the ScenePersistToBigQuery command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - exporter: The destination, usually a *store.BigQuerySceneExporter.
//
// Outputs:
//   - *ScenePersistToBigQuery: A pointer to the newly instantiated command.
func NewScenePersistToBigQuery(name string, exporter store.SceneExporter) *ScenePersistToBigQuery {
	return &ScenePersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), exporter: exporter}
}

func (c *ScenePersistToBigQuery) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamVideo, ParamScenes)
}

func (c *ScenePersistToBigQuery) Execute(context cor.Context) {
	ctx := context.GetContext()
	video := context.Get(ParamVideo).(*model.Video)
	scenes := context.Get(ParamScenes).([]model.Scene)

	// The summary passes through untouched so the chain's output stays the
	// job's result.
	if summary := context.Get(c.GetInputParam()); summary != nil {
		context.Add(c.GetOutputParam(), summary)
	}

	if err := c.exporter.ExportScenes(ctx, video, scenes); err != nil {
		if c.ErrorCounter != nil {
			c.ErrorCounter.Add(ctx, 1)
		}
		slog.WarnContext(ctx, "scene export failed; continuing", "video_id", video.ID, "scenes", len(scenes), "error", err)
		return
	}
	c.Succeed(context)
	slog.InfoContext(ctx, "exported scenes", "video_id", video.ID, "scenes", len(scenes))
}
