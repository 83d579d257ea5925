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

package model_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/stretchr/testify/assert"
)

func TestPlanAdaptersAreDistinctAndSorted(t *testing.T) {
	plan := &model.AnalysisPlan{
		Goals: []model.AnalysisGoal{model.GoalActionDetection, model.GoalSceneDetection, model.GoalDialogueExtraction},
		GoalAdapters: map[model.AnalysisGoal][]string{
			model.GoalActionDetection:    {"gemini"},
			model.GoalSceneDetection:     {"video-intelligence", "gemini"},
			model.GoalDialogueExtraction: {"speech"},
		},
	}
	assert.Equal(t, []string{"gemini", "speech", "video-intelligence"}, plan.Adapters())
	assert.Equal(t, []model.AnalysisGoal{model.GoalActionDetection, model.GoalSceneDetection}, plan.GoalsFor("gemini"))
	assert.True(t, plan.HasGoal(model.GoalDialogueExtraction))
	assert.False(t, plan.HasGoal(model.GoalPlotSummary))
}

func TestPlanChunkCount(t *testing.T) {
	plan := &model.AnalysisPlan{ChunkDuration: 10}
	assert.Equal(t, 0, plan.ChunkCount(0))
	assert.Equal(t, 1, plan.ChunkCount(10))
	assert.Equal(t, 2, plan.ChunkCount(10.5))
	assert.Equal(t, 360, plan.ChunkCount(3600))
}

func TestCapabilitySupports(t *testing.T) {
	c := model.ProviderCapability{Goals: []model.AnalysisGoal{model.GoalSceneDetection, model.GoalObjectDetection}}
	assert.True(t, c.Supports(model.GoalSceneDetection))
	assert.True(t, c.Supports(model.GoalSceneDetection, model.GoalObjectDetection))
	assert.False(t, c.Supports(model.GoalSceneDetection, model.GoalPlotSummary))
	assert.True(t, c.Supports())
}

func TestParseContentType(t *testing.T) {
	ct, ok := model.ParseContentType(" Movie ")
	assert.True(t, ok)
	assert.Equal(t, model.ContentMovie, ct)
	_, ok = model.ParseContentType("cartoon")
	assert.False(t, ok)
	assert.Equal(t, "action detection", model.GoalActionDetection.Label())
}
