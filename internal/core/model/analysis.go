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

// Package model defines the data structures shared by every stage of the
// analysis pipeline. This file holds the planning vocabulary: the goals a
// user can ask for, the content types the planner recognises, the static
// capability sheet each provider publishes and the executable AnalysisPlan
// that ties them together.
package model

import (
	"slices"
	"sort"
	"strings"
)

// AnalysisGoal is an enumerated capability request. Goals drive adapter
// selection in the planner and registry.
type AnalysisGoal string

const (
	GoalSceneDetection     AnalysisGoal = "scene_detection"
	GoalObjectDetection    AnalysisGoal = "object_detection"
	GoalActionDetection    AnalysisGoal = "action_detection"
	GoalCharacterTracking  AnalysisGoal = "character_tracking"
	GoalDialogueExtraction AnalysisGoal = "dialogue_extraction"
	GoalEmotionAnalysis    AnalysisGoal = "emotion_analysis"
	GoalPlotSummary        AnalysisGoal = "plot_summary"
	GoalTechnicalAnalysis  AnalysisGoal = "technical_analysis"
	GoalCustomQuery        AnalysisGoal = "custom_query"
)

// AllGoals lists every goal in a stable order.
var AllGoals = []AnalysisGoal{
	GoalSceneDetection,
	GoalObjectDetection,
	GoalActionDetection,
	GoalCharacterTracking,
	GoalDialogueExtraction,
	GoalEmotionAnalysis,
	GoalPlotSummary,
	GoalTechnicalAnalysis,
	GoalCustomQuery,
}

// Label renders the goal for use inside prompts ("action detection").
func (g AnalysisGoal) Label() string {
	return strings.ReplaceAll(string(g), "_", " ")
}

// ContentType is the planner's coarse classification of the video.
type ContentType string

const (
	ContentMovie        ContentType = "movie"
	ContentSports       ContentType = "sports"
	ContentDocumentary  ContentType = "documentary"
	ContentSurveillance ContentType = "surveillance"
	ContentGeneral      ContentType = "general"
)

// ParseContentType maps a caller supplied hint to a ContentType. Unknown or
// empty hints report false.
func ParseContentType(hint string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(hint))) {
	case ContentMovie:
		return ContentMovie, true
	case ContentSports:
		return ContentSports, true
	case ContentDocumentary:
		return ContentDocumentary, true
	case ContentSurveillance:
		return ContentSurveillance, true
	case ContentGeneral:
		return ContentGeneral, true
	}
	return "", false
}

// ProviderCapability is the static metadata an adapter publishes about itself.
type ProviderCapability struct {
	Goals                      []AnalysisGoal `json:"goals" bson:"goals"`
	CostPerFrame               float64        `json:"cost_per_frame" bson:"cost_per_frame"`
	CostPerMinute              float64        `json:"cost_per_minute" bson:"cost_per_minute"`
	MaxFramesPerCall           int            `json:"max_frames_per_call" bson:"max_frames_per_call"`
	SupportsCustomInstructions bool           `json:"supports_custom_instructions" bson:"supports_custom_instructions"`
}

// Supports reports whether every requested goal is covered by the capability.
func (c ProviderCapability) Supports(goals ...AnalysisGoal) bool {
	for _, g := range goals {
		if !slices.Contains(c.Goals, g) {
			return false
		}
	}
	return true
}

// AnalysisPlan is the resolved, executable configuration derived from a
// user's free-text intent. ChunkOverlap is always strictly less than
// ChunkDuration.
type AnalysisPlan struct {
	UserIntent         string                    `json:"user_intent" bson:"user_intent"`
	ContentType        ContentType               `json:"content_type" bson:"content_type"`
	Goals              []AnalysisGoal            `json:"goals" bson:"goals"`
	GoalAdapters       map[AnalysisGoal][]string `json:"goal_adapters" bson:"goal_adapters"`
	UnassignedGoals    []AnalysisGoal            `json:"unassigned_goals,omitempty" bson:"unassigned_goals,omitempty"`
	ChunkDuration      float64                   `json:"chunk_duration" bson:"chunk_duration"`
	ChunkOverlap       float64                   `json:"chunk_overlap" bson:"chunk_overlap"`
	MaxFramesPerChunk  int                       `json:"max_frames_per_chunk" bson:"max_frames_per_chunk"`
	CustomInstructions map[string]string         `json:"custom_instructions,omitempty" bson:"custom_instructions,omitempty"`
	CostEstimate       float64                   `json:"cost_estimate" bson:"cost_estimate"`
	DurationSeconds    float64                   `json:"duration_seconds" bson:"duration_seconds"`
}

// HasGoal reports whether the plan requests the given goal.
func (p *AnalysisPlan) HasGoal(goal AnalysisGoal) bool {
	return slices.Contains(p.Goals, goal)
}

// Adapters returns the distinct adapter names referenced by the plan, sorted
// so that fan-out and merge order are deterministic.
func (p *AnalysisPlan) Adapters() []string {
	seen := make(map[string]struct{})
	for _, names := range p.GoalAdapters {
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// GoalsFor returns the plan goals routed to the named adapter, in plan order.
func (p *AnalysisPlan) GoalsFor(adapter string) []AnalysisGoal {
	out := make([]AnalysisGoal, 0)
	for _, g := range p.Goals {
		if slices.Contains(p.GoalAdapters[g], adapter) {
			out = append(out, g)
		}
	}
	return out
}

// ChunkCount is the number of windows the plan produces for its duration,
// ignoring tail absorption. It is the quantity frame billed providers are
// charged against.
func (p *AnalysisPlan) ChunkCount(durationSeconds float64) int {
	if p.ChunkDuration <= 0 || durationSeconds <= 0 {
		return 0
	}
	n := int(durationSeconds / p.ChunkDuration)
	if float64(n)*p.ChunkDuration < durationSeconds {
		n++
	}
	return n
}
