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

package planner_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	test "github.com/jaycherian/gcp-go-media-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newPlanner() *planner.Planner {
	registry, _ := test.StandardRegistry()
	return planner.New(registry)
}

func TestPlanActionMovie(t *testing.T) {
	plan := newPlanner().Plan("find all action scenes and track characters in this movie", 3600, "")

	assert.Equal(t, model.ContentMovie, plan.ContentType)
	assert.Subset(t, plan.Goals, []model.AnalysisGoal{model.GoalActionDetection, model.GoalCharacterTracking})
	assert.LessOrEqual(t, plan.ChunkDuration, 15.0)
	assert.GreaterOrEqual(t, plan.ChunkOverlap, 3.0)
	assert.Less(t, plan.ChunkOverlap, plan.ChunkDuration)
	assert.Greater(t, plan.CostEstimate, 0.0)

	assert.Equal(t, []string{providers.GeminiName}, plan.GoalAdapters[model.GoalActionDetection])
	assert.Equal(t, []string{providers.GeminiName}, plan.GoalAdapters[model.GoalCharacterTracking])
	// Scenes go to the cheapest capable engine.
	assert.Equal(t, []string{providers.VideoIntelligenceName}, plan.GoalAdapters[model.GoalSceneDetection])
	assert.Contains(t, plan.CustomInstructions[providers.GeminiName], "action detection")
	assert.NotContains(t, plan.CustomInstructions, providers.VideoIntelligenceName)
	assert.Empty(t, plan.UnassignedGoals)
}

func TestPlanNoKeywordFallsBackToCustomQuery(t *testing.T) {
	plan := newPlanner().Plan("what's in this video?", 120, "")

	assert.Equal(t, []model.AnalysisGoal{model.GoalCustomQuery}, plan.Goals)
	assert.NotEmpty(t, plan.Adapters())
	assert.Equal(t, model.ContentGeneral, plan.ContentType)
	assert.Equal(t, 30.0, plan.ChunkDuration)
	assert.Equal(t, 3.0, plan.ChunkOverlap)
}

func TestPlanComprehensiveIsAccumulative(t *testing.T) {
	plan := newPlanner().Plan("Give me a comprehensive breakdown of every scene and the dialogue", 600, "")

	for _, g := range []model.AnalysisGoal{
		model.GoalSceneDetection, model.GoalObjectDetection, model.GoalPlotSummary, model.GoalDialogueExtraction,
	} {
		assert.Contains(t, plan.Goals, g)
	}
	assert.NotContains(t, plan.Goals, model.GoalCustomQuery)
	assert.Equal(t, []string{providers.SpeechName}, plan.GoalAdapters[model.GoalDialogueExtraction])

	// Speech is counted once even though it only serves one goal; gemini
	// serves plot summary and is counted once too.
	registry, _ := test.StandardRegistry()
	want := 0.0
	for _, name := range plan.Adapters() {
		a, _ := registry.Get(name)
		want += a.EstimateCost(600, plan)
	}
	assert.InDelta(t, want, plan.CostEstimate, 1e-12)
}

func TestPlanContentTypes(t *testing.T) {
	p := newPlanner()
	tests := []struct {
		intent, hint string
		want         model.ContentType
		chunk        float64
		overlap      float64
	}{
		{"summarize the documentary about nature", "", model.ContentDocumentary, 45, 5},
		{"who enters the building on the cctv feed", "", model.ContentSurveillance, 60, 10},
		{"highlight every goal in the match", "", model.ContentSports, 15, 3},
		{"describe the mood", "movie", model.ContentMovie, 30, 5},
		{"describe the mood", "not-a-type", model.ContentGeneral, 30, 3},
	}
	for _, tt := range tests {
		t.Run(tt.intent+"/"+tt.hint, func(t *testing.T) {
			plan := p.Plan(tt.intent, 1800, tt.hint)
			assert.Equal(t, tt.want, plan.ContentType)
			assert.Equal(t, tt.chunk, plan.ChunkDuration)
			assert.Equal(t, tt.overlap, plan.ChunkOverlap)
		})
	}
}

func TestPlanShortVideoClamp(t *testing.T) {
	plan := newPlanner().Plan("summarize this clip", 30, "")
	assert.InDelta(t, 10.0, plan.ChunkDuration, 1e-9)
	assert.Less(t, plan.ChunkOverlap, plan.ChunkDuration)

	tiny := newPlanner().Plan("action", 6, "")
	assert.InDelta(t, 2.0, tiny.ChunkDuration, 1e-9)
	assert.Less(t, tiny.ChunkOverlap, tiny.ChunkDuration)
}

func TestPlanSubstringMatching(t *testing.T) {
	tests := []struct {
		intent string
		want   []model.AnalysisGoal
	}{
		{"analyze every interaction between the leads", []model.AnalysisGoal{model.GoalActionDetection}},
		{"Execute the plan", []model.AnalysisGoal{model.GoalSceneDetection}},
		{"FIGHTING in the rain", []model.AnalysisGoal{model.GoalActionDetection}},
		{"what's in this video?", []model.AnalysisGoal{model.GoalCustomQuery}},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			assert.Equal(t, tt.want, planner.DetectGoals(tt.intent))
		})
	}

	plan := newPlanner().Plan("analyze every interaction between the leads", 600, "")
	assert.Contains(t, plan.Goals, model.GoalActionDetection)
	assert.NotContains(t, plan.Goals, model.GoalCustomQuery)
}

func TestPlanUnassignedGoals(t *testing.T) {
	registry := providers.NewRegistry(nil,
		test.NewFakeAdapter(providers.GeminiName, 0.002, model.GoalSceneDetection, model.GoalCustomQuery).Factory())
	plan := planner.New(registry).Plan("transcribe the dialogue and find every scene", 300, "")

	assert.Contains(t, plan.UnassignedGoals, model.GoalDialogueExtraction)
	assert.Equal(t, []string{providers.GeminiName}, plan.GoalAdapters[model.GoalSceneDetection])
}

func TestPlanEmptyRegistry(t *testing.T) {
	plan := planner.New(providers.NewRegistry(nil)).Plan("what's in this video?", 120, "")
	assert.Equal(t, []model.AnalysisGoal{model.GoalCustomQuery}, plan.Goals)
	assert.Empty(t, plan.Adapters())
	assert.Equal(t, []model.AnalysisGoal{model.GoalCustomQuery}, plan.UnassignedGoals)
	assert.Zero(t, plan.CostEstimate)
}

func TestPlanOptionsOverride(t *testing.T) {
	chunk, overlap, frames := 20.0, 4.0, 4
	plan := newPlanner().PlanWithOptions("find every scene", 600, "", planner.Options{
		ChunkDuration:     &chunk,
		ChunkOverlap:      &overlap,
		MaxFramesPerChunk: &frames,
		SelectedAdapters:  []string{providers.GeminiName},
	})
	assert.Equal(t, 20.0, plan.ChunkDuration)
	assert.Equal(t, 4.0, plan.ChunkOverlap)
	assert.Equal(t, 4, plan.MaxFramesPerChunk)
	// The cheaper detector is excluded by the selection.
	assert.Equal(t, []string{providers.GeminiName}, plan.GoalAdapters[model.GoalSceneDetection])
}

func TestPlanCostMonotonicInDuration(t *testing.T) {
	p := newPlanner()
	intents := []string{
		"find all action scenes and track characters in this movie",
		"what's in this video?",
		"full analysis with dialogue",
		"technical quality of the lighting",
	}
	rapid.Check(t, func(rt *rapid.T) {
		intent := rapid.SampledFrom(intents).Draw(rt, "intent")
		d1 := rapid.Float64Range(1, 20000).Draw(rt, "d1")
		d2 := d1 + rapid.Float64Range(0, 20000).Draw(rt, "delta")

		plan := p.Plan(intent, d1, "")
		require.Less(rt, plan.ChunkOverlap, plan.ChunkDuration)
		assert.LessOrEqual(rt, p.EstimateCost(plan, d1), p.EstimateCost(plan, d2))
	})
}

func TestPlanOverlapAlwaysBelowChunk(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ct := rapid.SampledFrom([]model.ContentType{
			model.ContentMovie, model.ContentSports, model.ContentDocumentary, model.ContentSurveillance, model.ContentGeneral,
		}).Draw(rt, "content_type")
		action := rapid.Bool().Draw(rt, "action")
		duration := rapid.Float64Range(0.1, 10000).Draw(rt, "duration")
		goals := []model.AnalysisGoal{model.GoalSceneDetection}
		if action {
			goals = append(goals, model.GoalActionDetection)
		}
		chunk, overlap := planner.ChunkParameters(ct, goals, duration)
		assert.Greater(rt, chunk, 0.0)
		assert.GreaterOrEqual(rt, overlap, 0.0)
		assert.Less(rt, overlap, chunk)
		if action || ct == model.ContentSports {
			assert.LessOrEqual(rt, chunk, 15.0)
		}
	})
}
