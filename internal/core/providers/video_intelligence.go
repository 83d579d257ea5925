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

package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// shotConfidence is reported for shot boundaries, which carry no score.
const shotConfidence = 0.5

// VideoIntelligenceAdapter detects shots, tracked objects and labels with
// the Cloud Video Intelligence API.
type VideoIntelligenceAdapter struct {
	annotator  VideoAnnotator
	policy     BackoffPolicy
	capability model.ProviderCapability
}

// VideoIntelligenceCapability is the adapter's default capability sheet.
func VideoIntelligenceCapability(costPerFrame float64, maxFrames int) model.ProviderCapability {
	return model.ProviderCapability{
		Goals: []model.AnalysisGoal{
			model.GoalSceneDetection,
			model.GoalObjectDetection,
			model.GoalTechnicalAnalysis,
		},
		CostPerFrame:     costPerFrame,
		MaxFramesPerCall: maxFrames,
	}
}

// NewVideoIntelligenceAdapter creates the adapter; policy bounds polling of
// each annotation operation.
func NewVideoIntelligenceAdapter(annotator VideoAnnotator, policy BackoffPolicy, capability model.ProviderCapability) (*VideoIntelligenceAdapter, error) {
	if annotator == nil {
		return nil, fmt.Errorf("%s: %w: no client", VideoIntelligenceName, model.ErrProviderUnavailable)
	}
	return &VideoIntelligenceAdapter{annotator: annotator, policy: policy, capability: capability}, nil
}

func (a *VideoIntelligenceAdapter) Name() string { return VideoIntelligenceName }

func (a *VideoIntelligenceAdapter) Capabilities() model.ProviderCapability { return a.capability }

// EstimateCost bills frames, like the vision-language adapter.
func (a *VideoIntelligenceAdapter) EstimateCost(durationSeconds float64, plan *model.AnalysisPlan) float64 {
	return FrameCost(a.capability, durationSeconds, plan)
}

// Analyze annotates the chunk segment.
func (a *VideoIntelligenceAdapter) Analyze(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (*model.ChunkAnalysisResult, error) {
	started := time.Now()
	req := &videointelligencepb.AnnotateVideoRequest{
		InputUri: chunk.SegmentURI,
		Features: []videointelligencepb.Feature{
			videointelligencepb.Feature_SHOT_CHANGE_DETECTION,
			videointelligencepb.Feature_OBJECT_TRACKING,
			videointelligencepb.Feature_LABEL_DETECTION,
		},
		VideoContext: &videointelligencepb.VideoContext{
			LabelDetectionConfig: &videointelligencepb.LabelDetectionConfig{
				LabelDetectionMode: videointelligencepb.LabelDetectionMode_SHOT_MODE,
			},
		},
	}

	annotations, err := annotate(ctx, a.annotator, a.policy, req)
	if err != nil {
		return nil, &model.ProviderError{Provider: VideoIntelligenceName, Err: err}
	}

	result := ConvertVideoAnnotations(annotations, chunk, VideoIntelligenceName)
	result.Cost = float64(FramesPerChunk(a.capability, plan)) * a.capability.CostPerFrame
	result.ProcessingTime = time.Since(started)
	return result, nil
}

type labelHit struct {
	name       string
	start, end float64
	confidence float64
}

// ConvertVideoAnnotations maps annotation results onto a chunk result. Shots
// become scenes described by the shot labels that overlap them; each object
// track contributes one sighting at its first frame.
func ConvertVideoAnnotations(annotations *videointelligencepb.VideoAnnotationResults, chunk model.ChunkDescriptor, provider string) *model.ChunkAnalysisResult {
	result := model.NewChunkAnalysisResult(chunk.ChunkID, provider)

	labels := make([]labelHit, 0)
	for _, l := range annotations.GetShotLabelAnnotations() {
		name := strings.ToLower(l.GetEntity().GetDescription())
		for _, seg := range l.GetSegments() {
			labels = append(labels, labelHit{
				name:       name,
				start:      shiftSeconds(chunk, seg.GetSegment().GetStartTimeOffset().AsDuration().Seconds()),
				end:        shiftSeconds(chunk, seg.GetSegment().GetEndTimeOffset().AsDuration().Seconds()),
				confidence: float64(seg.GetConfidence()),
			})
		}
	}

	for _, shot := range annotations.GetShotAnnotations() {
		start := shiftSeconds(chunk, shot.GetStartTimeOffset().AsDuration().Seconds())
		end := shiftSeconds(chunk, shot.GetEndTimeOffset().AsDuration().Seconds())
		if end <= start {
			continue
		}
		names, confidence := overlappingLabels(labels, start, end)
		description := "shot"
		if len(names) > 0 {
			description = "shot: " + strings.Join(names, ", ")
		}
		result.Scenes = append(result.Scenes, model.DetectedScene{
			StartTime:   start,
			EndTime:     end,
			Description: description,
			Confidence:  confidence,
			Tags:        names,
			Provider:    provider,
		})
	}

	for _, track := range annotations.GetObjectAnnotations() {
		label := strings.ToLower(track.GetEntity().GetDescription())
		if label == "" {
			continue
		}
		obj := model.DetectedObject{
			Label:      label,
			FrameTime:  shiftSeconds(chunk, track.GetSegment().GetStartTimeOffset().AsDuration().Seconds()),
			Confidence: float64(track.GetConfidence()),
			Provider:   provider,
		}
		if frames := track.GetFrames(); len(frames) > 0 {
			first := frames[0]
			obj.FrameTime = shiftSeconds(chunk, first.GetTimeOffset().AsDuration().Seconds())
			if box := first.GetNormalizedBoundingBox(); box != nil {
				obj.Box = &model.BoundingBox{
					Left:   float64(box.GetLeft()),
					Top:    float64(box.GetTop()),
					Right:  float64(box.GetRight()),
					Bottom: float64(box.GetBottom()),
				}
			}
		}
		result.Objects = append(result.Objects, obj)
	}

	shots := len(result.Scenes)
	result.Findings["shot_count"] = shots
	if shots > 0 {
		result.Findings["average_shot_length"] = chunk.Duration / float64(shots)
	}
	segmentLabels := make([]string, 0)
	for _, l := range annotations.GetSegmentLabelAnnotations() {
		if d := strings.ToLower(l.GetEntity().GetDescription()); d != "" {
			segmentLabels = append(segmentLabels, d)
		}
	}
	if len(segmentLabels) > 0 {
		sort.Strings(segmentLabels)
		result.Findings["labels"] = segmentLabels
	}
	return result
}

// overlappingLabels returns the distinct label names overlapping [start,end]
// ordered by confidence, and the best confidence among them.
func overlappingLabels(labels []labelHit, start, end float64) ([]string, float64) {
	best := make(map[string]float64)
	for _, l := range labels {
		if l.end <= start || l.start >= end {
			continue
		}
		if l.confidence > best[l.name] {
			best[l.name] = l.confidence
		}
	}
	names := make([]string, 0, len(best))
	top := shotConfidence
	for n, c := range best {
		names = append(names, n)
		if c > top {
			top = c
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if best[names[i]] != best[names[j]] {
			return best[names[i]] > best[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 5 {
		names = names[:5]
	}
	return names, top
}
