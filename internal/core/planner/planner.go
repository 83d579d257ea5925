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

// Package planner translates a free-text analysis intent into an executable
// AnalysisPlan.
//
// Logic Flow:
//  1. The intent is lower-cased and matched against fixed keyword lists by
//     plain substring containment, so "action" also matches "interaction".
//     Callers depend on this exact heuristic.
//  2. Goals accumulate: every matching list adds its goal. Comprehensive
//     phrasing adds scene detection, object detection and plot summary. With
//     no match the plan falls back to a custom query.
//  3. The content type comes from a valid hint, then from keywords, then
//     defaults to general.
//  4. Each goal is routed to adapters by a priority rule, chunking is
//     derived from content type and goals, and the cost is summed once per
//     distinct adapter.
//
// The planner is pure and never fails.
package planner

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
)

// DefaultMaxFramesPerChunk is the frame budget assumed for each chunk.
const DefaultMaxFramesPerChunk = 10

// shortVideoSeconds is the length below which chunks are clamped to a third
// of the video.
const shortVideoSeconds = 60.0

var goalKeywords = []struct {
	goal     model.AnalysisGoal
	keywords []string
}{
	{model.GoalActionDetection, []string{"action", "fight", "chase", "explosion", "movement"}},
	{model.GoalSceneDetection, []string{"scene", "shot", "cut", "transition"}},
	{model.GoalCharacterTracking, []string{"character", "track", "person", "people", "face", "who"}},
	{model.GoalObjectDetection, []string{"object", "item", "thing", "car", "detect"}},
	{model.GoalDialogueExtraction, []string{"dialogue", "dialog", "conversation", "said", "speech", "transcript", "talk", "quote"}},
	{model.GoalEmotionAnalysis, []string{"emotion", "mood", "feeling", "sentiment", "happy", "sad", "angry"}},
	{model.GoalPlotSummary, []string{"plot", "summary", "summarize", "summarise", "story", "overview"}},
	{model.GoalTechnicalAnalysis, []string{"technical", "quality", "lighting", "resolution", "color", "colour", "camera work"}},
}

var comprehensiveKeywords = []string{"everything", "comprehensive", "full analysis"}

var contentKeywords = []struct {
	contentType model.ContentType
	keywords    []string
}{
	{model.ContentMovie, []string{"movie", "film", "cinema", "character", "actor", "plot"}},
	{model.ContentSports, []string{"sport", "game", "match", "goal", "player", "score"}},
	{model.ContentDocumentary, []string{"documentary", "nature", "history", "interview"}},
	{model.ContentSurveillance, []string{"surveillance", "security", "cctv", "camera footage", "intruder"}},
}

// chunkDefaults holds (duration, overlap) per content type.
var chunkDefaults = map[model.ContentType][2]float64{
	model.ContentMovie:        {30, 5},
	model.ContentSports:       {15, 3},
	model.ContentDocumentary:  {45, 5},
	model.ContentSurveillance: {60, 10},
	model.ContentGeneral:      {30, 3},
}

// preferredAdapter routes goals that need a particular kind of engine.
var preferredAdapter = map[model.AnalysisGoal]string{
	model.GoalActionDetection:    providers.GeminiName,
	model.GoalCharacterTracking:  providers.GeminiName,
	model.GoalEmotionAnalysis:    providers.GeminiName,
	model.GoalPlotSummary:        providers.GeminiName,
	model.GoalCustomQuery:        providers.GeminiName,
	model.GoalDialogueExtraction: providers.SpeechName,
}

// requiredAdapter goals have no fallback engine.
var requiredAdapter = map[model.AnalysisGoal]bool{
	model.GoalDialogueExtraction: true,
}

// Options are caller overrides from the intent submission. Nil fields keep
// the derived value.
type Options struct {
	ChunkDuration     *float64
	ChunkOverlap      *float64
	MaxFramesPerChunk *int
	SelectedAdapters  []string
}

// OptionsFromRequest lifts the override fields of an intent submission.
func OptionsFromRequest(req model.AnalysisRequest) Options {
	return Options{
		ChunkDuration:     req.ChunkDuration,
		ChunkOverlap:      req.ChunkOverlap,
		MaxFramesPerChunk: req.MaxFramesPerChunk,
		SelectedAdapters:  req.SelectedAdapters,
	}
}

// PlanRequest plans a submission against durationSeconds.
func (p *Planner) PlanRequest(req model.AnalysisRequest, durationSeconds float64) *model.AnalysisPlan {
	return p.PlanWithOptions(req.UserIntent, durationSeconds, req.ContentType, OptionsFromRequest(req))
}

// Planner is the AnalysisPlanner.
type Planner struct {
	registry *providers.Registry
}

// New creates a planner selecting from registry.
func New(registry *providers.Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan builds a plan for intent over a video of durationSeconds.
func (p *Planner) Plan(intent string, durationSeconds float64, contentTypeHint string) *model.AnalysisPlan {
	return p.PlanWithOptions(intent, durationSeconds, contentTypeHint, Options{})
}

// PlanWithOptions is Plan with caller overrides applied. Overrides are taken
// as given; validating them is the caller's job.
func (p *Planner) PlanWithOptions(intent string, durationSeconds float64, contentTypeHint string, opts Options) *model.AnalysisPlan {
	goals := DetectGoals(intent)
	contentType := DetectContentType(intent, contentTypeHint)

	plan := &model.AnalysisPlan{
		UserIntent:         intent,
		ContentType:        contentType,
		Goals:              goals,
		GoalAdapters:       make(map[model.AnalysisGoal][]string),
		CustomInstructions: make(map[string]string),
		MaxFramesPerChunk:  DefaultMaxFramesPerChunk,
		DurationSeconds:    durationSeconds,
	}
	plan.ChunkDuration, plan.ChunkOverlap = ChunkParameters(contentType, goals, durationSeconds)

	if opts.ChunkDuration != nil {
		plan.ChunkDuration = *opts.ChunkDuration
	}
	if opts.ChunkOverlap != nil {
		plan.ChunkOverlap = *opts.ChunkOverlap
	}
	if opts.MaxFramesPerChunk != nil {
		plan.MaxFramesPerChunk = *opts.MaxFramesPerChunk
	}

	p.assignAdapters(plan, opts.SelectedAdapters)
	p.composeInstructions(plan)
	plan.CostEstimate = p.EstimateCost(plan, durationSeconds)
	return plan
}

// containsKeyword reports whether keyword occurs anywhere in the
// lower-cased intent.
func containsKeyword(intent string, keyword string) bool {
	return strings.Contains(strings.ToLower(intent), keyword)
}

// DetectGoals returns the goals whose keywords occur in intent, in
// model.AllGoals order.
func DetectGoals(intent string) []model.AnalysisGoal {
	found := make(map[model.AnalysisGoal]bool)
	for _, entry := range goalKeywords {
		for _, kw := range entry.keywords {
			if containsKeyword(intent, kw) {
				found[entry.goal] = true
				break
			}
		}
	}
	for _, kw := range comprehensiveKeywords {
		if containsKeyword(intent, kw) {
			found[model.GoalSceneDetection] = true
			found[model.GoalObjectDetection] = true
			found[model.GoalPlotSummary] = true
			break
		}
	}
	if len(found) == 0 {
		return []model.AnalysisGoal{model.GoalCustomQuery}
	}
	goals := make([]model.AnalysisGoal, 0, len(found))
	for _, g := range model.AllGoals {
		if found[g] {
			goals = append(goals, g)
		}
	}
	return goals
}

// DetectContentType prefers a valid hint, then the first content type whose
// keywords occur in intent, then general.
func DetectContentType(intent string, hint string) model.ContentType {
	if ct, ok := model.ParseContentType(hint); ok {
		return ct
	}
	for _, entry := range contentKeywords {
		for _, kw := range entry.keywords {
			if containsKeyword(intent, kw) {
				return entry.contentType
			}
		}
	}
	return model.ContentGeneral
}

// ChunkParameters derives chunk duration and overlap. Action detection and
// sports force short chunks; videos under a minute are clamped to a third
// of their length. Overlap always stays below the chunk duration.
func ChunkParameters(contentType model.ContentType, goals []model.AnalysisGoal, durationSeconds float64) (float64, float64) {
	defaults, ok := chunkDefaults[contentType]
	if !ok {
		defaults = chunkDefaults[model.ContentGeneral]
	}
	chunk, overlap := defaults[0], defaults[1]

	if contentType == model.ContentSports || slices.Contains(goals, model.GoalActionDetection) {
		chunk = math.Min(chunk, 15)
		overlap = math.Max(overlap, 3)
	}
	if durationSeconds > 0 && durationSeconds < shortVideoSeconds {
		chunk = math.Min(chunk, durationSeconds/3)
	}
	if overlap >= chunk {
		overlap = chunk / 4
	}
	return chunk, overlap
}

func (p *Planner) assignAdapters(plan *model.AnalysisPlan, selected []string) {
	allowed := func(name string) bool {
		return len(selected) == 0 || slices.Contains(selected, name)
	}
	for _, goal := range plan.Goals {
		var chosen string
		if preferred, ok := preferredAdapter[goal]; ok && allowed(preferred) {
			if a, found := p.registry.Get(preferred); found && a.Capabilities().Supports(goal) {
				chosen = preferred
			}
		}
		if chosen == "" && !requiredAdapter[goal] {
			for _, a := range p.registry.Select(goal) {
				if allowed(a.Name()) {
					chosen = a.Name()
					break
				}
			}
		}
		if chosen == "" {
			plan.UnassignedGoals = append(plan.UnassignedGoals, goal)
			continue
		}
		plan.GoalAdapters[goal] = []string{chosen}
	}

	// A plan with nothing routed still asks the cheapest general purpose
	// engine the user's question.
	if len(plan.GoalAdapters) == 0 {
		for _, a := range p.registry.Select() {
			if allowed(a.Name()) && a.Capabilities().SupportsCustomInstructions {
				plan.GoalAdapters[model.GoalCustomQuery] = []string{a.Name()}
				if !plan.HasGoal(model.GoalCustomQuery) {
					plan.Goals = append(plan.Goals, model.GoalCustomQuery)
				}
				break
			}
		}
	}
}

func (p *Planner) composeInstructions(plan *model.AnalysisPlan) {
	for _, name := range plan.Adapters() {
		a, ok := p.registry.Get(name)
		if !ok || !a.Capabilities().SupportsCustomInstructions {
			continue
		}
		goals := plan.GoalsFor(name)
		labels := make([]string, len(goals))
		for i, g := range goals {
			labels[i] = g.Label()
		}
		plan.CustomInstructions[name] = fmt.Sprintf(
			"The viewer asked: %q. This is %s content. Concentrate on %s and report evidence with timestamps.",
			plan.UserIntent, plan.ContentType, strings.Join(labels, ", "))
	}
}

// EstimateCost sums each distinct adapter's estimate once.
func (p *Planner) EstimateCost(plan *model.AnalysisPlan, durationSeconds float64) float64 {
	total := 0.0
	for _, name := range plan.Adapters() {
		if a, ok := p.registry.Get(name); ok {
			total += a.EstimateCost(durationSeconds, plan)
		}
	}
	return total
}
