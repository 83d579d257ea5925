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

// Package providers defines the uniform contract every analysis engine
// implements, the registry that selects engines for a set of goals, and the
// concrete Gemini, Video Intelligence and speech transcription adapters.
package providers

import (
	"context"
	"math"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Names of the built-in adapters.
const (
	GeminiName            = "gemini"
	VideoIntelligenceName = "video-intelligence"
	SpeechName            = "speech"
)

// DefaultFramesPerChunk is assumed by frame billed cost estimates when the
// plan does not say how many frames a chunk contributes.
const DefaultFramesPerChunk = 10

// Adapter is an analysis engine that can analyse one chunk.
type Adapter interface {
	// Name is the registry key, stable across releases.
	Name() string
	// Capabilities is static; it never changes for the adapter's lifetime.
	Capabilities() model.ProviderCapability
	// Analyze runs the engine over a chunk. Times in the result are absolute
	// video seconds.
	Analyze(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (*model.ChunkAnalysisResult, error)
	// EstimateCost projects the cost of analysing a video of the given
	// duration under plan.
	EstimateCost(durationSeconds float64, plan *model.AnalysisPlan) float64
}

// Factory constructs an adapter. Factories fail when credentials or the
// engine are unavailable.
type Factory func() (Adapter, error)

// FramesPerChunk is the number of frames a chunk is billed for, capped by
// the provider's per-call limit.
func FramesPerChunk(capability model.ProviderCapability, plan *model.AnalysisPlan) int {
	frames := DefaultFramesPerChunk
	if plan != nil && plan.MaxFramesPerChunk > 0 {
		frames = plan.MaxFramesPerChunk
	}
	if capability.MaxFramesPerCall > 0 && frames > capability.MaxFramesPerCall {
		frames = capability.MaxFramesPerCall
	}
	return frames
}

// FrameCost is ceil(duration / chunk) * frames per chunk * cost per frame.
func FrameCost(capability model.ProviderCapability, durationSeconds float64, plan *model.AnalysisPlan) float64 {
	if plan == nil || durationSeconds <= 0 {
		return 0
	}
	chunks := plan.ChunkCount(durationSeconds)
	return float64(chunks*FramesPerChunk(capability, plan)) * capability.CostPerFrame
}

// MinuteCost is duration in minutes * cost per minute.
func MinuteCost(capability model.ProviderCapability, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return durationSeconds / 60 * capability.CostPerMinute
}

// shiftSeconds converts a chunk relative offset into absolute video time,
// clamped to the chunk window.
func shiftSeconds(chunk model.ChunkDescriptor, offset float64) float64 {
	t := chunk.StartTime + math.Max(0, offset)
	return math.Min(t, chunk.EndTime)
}
