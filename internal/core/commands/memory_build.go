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


// This file defines the step that condenses a finished analysis into the
// video memory: one entry per chunk, temporal markers at scene boundaries,
// per-label object statistics and a time-ordered transcript. The memory is
// what later questions about the video are answered from.
package commands

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
)

// BuildVideoMemory assembles the read-only summary of a completed analysis
// from the ordered scenes and the per-chunk results they were built from.
func BuildVideoMemory(job *model.Job, video *model.Video, scenes []model.Scene, results []*model.MergedChunkResult, now time.Time) *model.VideoMemory {
	memory := &model.VideoMemory{
		VideoID:         video.ID,
		JobID:           job.ID,
		DurationSeconds: video.DurationSeconds,
		Intent:          job.Request.UserIntent,
		ChunkMemories:   make([]model.ChunkMemory, 0, len(results)),
		TemporalMarkers: make([]model.TemporalMarker, 0),
		ObjectStats:     make(map[string]model.ObjectStat),
		ProvidersUsed:   make([]string, 0),
		CreatedAt:       now,
	}

	objects := make([]model.DetectedObject, 0)
	transcript := make([]model.TranscriptSegment, 0)
	for _, r := range results {
		if r == nil {
			continue
		}
		memory.ChunkMemories = append(memory.ChunkMemories, chunkMemory(r))
		memory.ProvidersUsed = unionSorted(memory.ProvidersUsed, r.Providers)
		memory.TotalCost += r.TotalCost
		objects = append(objects, r.Objects...)
		transcript = append(transcript, r.Transcript...)
	}
	slices.SortStableFunc(memory.ChunkMemories, func(a, b model.ChunkMemory) int {
		return cmp.Compare(a.Index, b.Index)
	})

	for _, o := range orchestrator.DedupObjects(objects) {
		stat, ok := memory.ObjectStats[o.Label]
		if !ok {
			stat = model.ObjectStat{FirstSeen: o.FrameTime, LastSeen: o.FrameTime}
		}
		stat.Count++
		stat.FirstSeen = min(stat.FirstSeen, o.FrameTime)
		stat.LastSeen = max(stat.LastSeen, o.FrameTime)
		stat.MaxConfidence = max(stat.MaxConfidence, o.Confidence)
		memory.ObjectStats[o.Label] = stat
	}

	memory.TemporalMarkers = temporalMarkers(scenes)
	memory.SceneStats = sceneStats(scenes)
	memory.Transcript = formatTranscript(dedupTranscript(transcript))
	return memory
}

func chunkMemory(r *model.MergedChunkResult) model.ChunkMemory {
	summary := strings.Join(r.Captions, " ")
	if summary == "" && len(r.Scenes) > 0 {
		summary = r.Scenes[0].Description
	}
	labels := make([]string, 0, len(r.Objects))
	for _, o := range r.Objects {
		labels = append(labels, o.Label)
	}
	return model.ChunkMemory{
		ChunkID:     r.Chunk.ChunkID,
		Index:       r.Chunk.Index,
		StartTime:   r.Chunk.StartTime,
		EndTime:     r.Chunk.EndTime,
		Summary:     summary,
		Objects:     unionSorted(nil, labels),
		Providers:   slices.Clone(r.Providers),
		KeyframeURI: r.Chunk.KeyframeURI,
		Degraded:    len(r.FailedProviders) > 0,
	}
}

// temporalMarkers emits each scene's boundaries and the first appearance of
// every object label inside it, ordered by time.
func temporalMarkers(scenes []model.Scene) []model.TemporalMarker {
	markers := make([]model.TemporalMarker, 0, len(scenes)*2)
	for _, s := range scenes {
		markers = append(markers,
			model.TemporalMarker{Time: s.StartTime, Kind: model.MarkerSceneStart, Label: fmt.Sprintf("scene %d", s.Sequence), SceneID: s.ID},
			model.TemporalMarker{Time: s.EndTime, Kind: model.MarkerSceneEnd, Label: fmt.Sprintf("scene %d", s.Sequence), SceneID: s.ID},
		)
		seen := make(map[string]bool)
		for _, o := range s.Objects {
			if seen[o.Label] {
				continue
			}
			seen[o.Label] = true
			markers = append(markers, model.TemporalMarker{Time: o.FrameTime, Kind: model.MarkerObjectAppearance, Label: o.Label, SceneID: s.ID})
		}
	}
	slices.SortStableFunc(markers, func(a, b model.TemporalMarker) int {
		return cmp.Compare(a.Time, b.Time)
	})
	return markers
}

func sceneStats(scenes []model.Scene) model.SceneStats {
	stats := model.SceneStats{Count: len(scenes)}
	if len(scenes) == 0 {
		return stats
	}
	total := 0.0
	for _, s := range scenes {
		d := s.Duration()
		total += d
		stats.LongestDuration = max(stats.LongestDuration, d)
	}
	stats.AverageDuration = total / float64(len(scenes))
	return stats
}

// formatTranscript renders one "[mm:ss] speaker: text" line per segment.
func formatTranscript(segments []model.TranscriptSegment) string {
	var b strings.Builder
	for _, s := range segments {
		secs := int(s.StartTime)
		fmt.Fprintf(&b, "[%02d:%02d] ", secs/60, secs%60)
		if s.Speaker != "" {
			b.WriteString(s.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(s.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// BuildMemory is the command wrapping BuildVideoMemory.
type BuildMemory struct {
	cor.BaseCommand
	now func() time.Time
}

// NewBuildMemory creates the command. Timestamps come from the wall clock.
func NewBuildMemory(name string) *BuildMemory {
	return &BuildMemory{BaseCommand: *cor.NewBaseCommand(name), now: time.Now}
}

func (c *BuildMemory) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamVideo, ParamScenes, ParamChunkResults)
}

func (c *BuildMemory) Execute(context cor.Context) {
	job, video, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	TrackerFrom(context).Step(context.GetContext(), model.StepBuildMemory, ProgressMemory)

	scenes := context.Get(ParamScenes).([]model.Scene)
	results := context.Get(ParamChunkResults).([]*model.MergedChunkResult)
	memory := BuildVideoMemory(job, video, scenes, results, c.now().UTC())

	c.Succeed(context)
	context.Add(ParamMemory, memory)
	context.Add(c.GetOutputParam(), memory)
}
