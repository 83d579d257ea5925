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

package orchestrator

import (
	"slices"
	"sort"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// MergeResults folds the successful adapter results for one chunk into a
// MergedChunkResult. Results are applied in adapter name order so the
// outcome does not depend on which adapter answered first.
//
// Merge policy:
//   - scenes with an identical (start, end) keep the higher confidence entry
//   - objects with an identical (label, frame_time) keep the higher confidence entry
//   - captions are unioned
//   - a findings key already taken by an earlier adapter is stored as "adapter/key"
//   - transcript segments are concatenated and sorted by start time
//   - cost is summed and processing time is the slowest adapter's
func MergeResults(chunk model.ChunkDescriptor, results []*model.ChunkAnalysisResult, failures map[string]error) *model.MergedChunkResult {
	merged := model.NewMergedChunkResult(chunk)
	for name, err := range failures {
		merged.FailedProviders[name] = err.Error()
	}

	ordered := make([]*model.ChunkAnalysisResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Provider < ordered[j].Provider })

	var scenes []model.DetectedScene
	var objects []model.DetectedObject
	for _, r := range ordered {
		merged.Providers = append(merged.Providers, r.Provider)
		scenes = append(scenes, withSceneProvider(r.Scenes, r.Provider)...)
		objects = append(objects, withObjectProvider(r.Objects, r.Provider)...)

		for _, caption := range r.Captions {
			if caption != "" && !slices.Contains(merged.Captions, caption) {
				merged.Captions = append(merged.Captions, caption)
			}
		}
		for key, value := range r.Findings {
			if _, taken := merged.Findings[key]; taken {
				key = r.Provider + "/" + key
			}
			merged.Findings[key] = value
		}
		merged.Transcript = append(merged.Transcript, r.Transcript...)

		merged.TotalCost += r.Cost
		if r.ProcessingTime > merged.ProcessingTime {
			merged.ProcessingTime = r.ProcessingTime
		}
	}

	merged.Scenes = DedupScenes(scenes)
	merged.Objects = DedupObjects(objects)
	sort.SliceStable(merged.Transcript, func(i, j int) bool {
		return merged.Transcript[i].StartTime < merged.Transcript[j].StartTime
	})
	return merged
}

func withSceneProvider(in []model.DetectedScene, provider string) []model.DetectedScene {
	out := make([]model.DetectedScene, len(in))
	for i, s := range in {
		if s.Provider == "" {
			s.Provider = provider
		}
		out[i] = s
	}
	return out
}

func withObjectProvider(in []model.DetectedObject, provider string) []model.DetectedObject {
	out := make([]model.DetectedObject, len(in))
	for i, o := range in {
		if o.Provider == "" {
			o.Provider = provider
		}
		out[i] = o
	}
	return out
}

type sceneKey struct{ start, end float64 }

// DedupScenes keeps one scene per exact (start, end) pair, the one with the
// higher confidence, and orders the survivors by start then end time. On
// equal confidence the earlier entry wins.
func DedupScenes(scenes []model.DetectedScene) []model.DetectedScene {
	index := make(map[sceneKey]int, len(scenes))
	out := make([]model.DetectedScene, 0, len(scenes))
	for _, s := range scenes {
		key := sceneKey{s.StartTime, s.EndTime}
		if i, seen := index[key]; seen {
			if s.Confidence > out[i].Confidence {
				out[i] = s
			}
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].EndTime < out[j].EndTime
	})
	return out
}

type objectKey struct {
	label string
	time  float64
}

// DedupObjects keeps one object per (label, frame_time), the one with the
// highest confidence, ordered by frame time then label.
func DedupObjects(objects []model.DetectedObject) []model.DetectedObject {
	index := make(map[objectKey]int, len(objects))
	out := make([]model.DetectedObject, 0, len(objects))
	for _, o := range objects {
		key := objectKey{o.Label, o.FrameTime}
		if i, seen := index[key]; seen {
			if o.Confidence > out[i].Confidence {
				out[i] = o
			}
			continue
		}
		index[key] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FrameTime != out[j].FrameTime {
			return out[i].FrameTime < out[j].FrameTime
		}
		return out[i].Label < out[j].Label
	})
	return out
}
