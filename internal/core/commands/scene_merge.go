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


// This file turns the per-chunk results of a job into the video's single,
// non-overlapping scene list. Chunk windows overlap, so the same scene is
// usually reported twice near a boundary; the merge folds those together.
package commands

import (
	"cmp"
	"slices"
	"strings"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSceneMergeEpsilon is the largest gap, in seconds, between two scenes
// that still merges them.
const DefaultSceneMergeEpsilon = 1.0

const descriptionSeparator = "; "

// SynthesizedDescription describes the single scene created for a video in
// which no adapter detected any.
const SynthesizedDescription = "Full video"

// MergeScenes orders scenes by start time and folds every scene that overlaps
// or starts within epsilon of the previous one into it. The merged scene
// spans both, keeps the higher confidence, and concatenates distinct
// descriptions. Applying it to its own output changes nothing.
func MergeScenes(scenes []model.Scene, epsilon float64) []model.Scene {
	if len(scenes) == 0 {
		return []model.Scene{}
	}
	ordered := slices.Clone(scenes)
	slices.SortStableFunc(ordered, func(a, b model.Scene) int {
		return cmp.Or(cmp.Compare(a.StartTime, b.StartTime), cmp.Compare(a.EndTime, b.EndTime))
	})

	merged := []model.Scene{ordered[0]}
	for _, next := range ordered[1:] {
		cur := &merged[len(merged)-1]
		if next.StartTime > cur.EndTime+epsilon {
			merged = append(merged, next)
			continue
		}
		cur.EndTime = max(cur.EndTime, next.EndTime)
		cur.Confidence = max(cur.Confidence, next.Confidence)
		cur.Description = joinDescriptions(cur.Description, next.Description)
		cur.Tags = unionSorted(cur.Tags, next.Tags)
		cur.Providers = unionSorted(cur.Providers, next.Providers)
		cur.SourceChunks = unionSorted(cur.SourceChunks, next.SourceChunks)
		cur.Objects = orchestrator.DedupObjects(append(slices.Clone(cur.Objects), next.Objects...))
		cur.Transcript = append(slices.Clone(cur.Transcript), next.Transcript...)
		if cur.KeyframeURI == "" {
			cur.KeyframeURI = next.KeyframeURI
		}
	}
	return merged
}

func joinDescriptions(a string, b string) string {
	parts := make([]string, 0)
	for _, d := range []string{a, b} {
		for _, p := range strings.Split(d, descriptionSeparator) {
			if p = strings.TrimSpace(p); p != "" && !slices.Contains(parts, p) {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, descriptionSeparator)
}

func unionSorted(a []string, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// BuildScenes turns the chunk results of a job into the video's ordered
// scene list.
//
// Logic Flow:
//  1. Every detected scene becomes a candidate attributed to its adapter and
//     chunk, clamped to the video's duration. Empty ranges are dropped.
//  2. Candidates are merged with MergeScenes.
//  3. With no candidates, one scene covering the whole video is synthesized,
//     described by the first caption any adapter produced.
//  4. Scenes are numbered, given deterministic ids, and receive the objects
//     and transcript segments that fall inside them. The last scene includes
//     its end time.
func BuildScenes(job *model.Job, durationSeconds float64, results []*model.MergedChunkResult, epsilon float64) []model.Scene {
	candidates := make([]model.Scene, 0)
	objects := make([]model.DetectedObject, 0)
	transcript := make([]model.TranscriptSegment, 0)
	caption := ""
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, d := range r.Scenes {
			start, end := max(d.StartTime, 0), d.EndTime
			if durationSeconds > 0 {
				end = min(end, durationSeconds)
			}
			if end <= start {
				continue
			}
			candidates = append(candidates, model.Scene{
				StartTime:    start,
				EndTime:      end,
				Description:  strings.TrimSpace(d.Description),
				Confidence:   d.Confidence,
				KeyframeURI:  r.Chunk.KeyframeURI,
				Tags:         unionSorted(nil, d.Tags),
				Providers:    []string{d.Provider},
				SourceChunks: []string{r.Chunk.ChunkID},
				Objects:      []model.DetectedObject{},
			})
		}
		objects = append(objects, r.Objects...)
		transcript = append(transcript, r.Transcript...)
		if caption == "" && len(r.Captions) > 0 {
			caption = r.Captions[0]
		}
	}

	scenes := MergeScenes(candidates, epsilon)
	if len(scenes) == 0 {
		scenes = []model.Scene{synthesizeScene(durationSeconds, caption, results)}
	}

	objects = orchestrator.DedupObjects(objects)
	transcript = dedupTranscript(transcript)
	for i := range scenes {
		s := &scenes[i]
		s.Sequence = i
		s.ID = model.NewSceneID(job.VideoID, i)
		s.VideoID = job.VideoID
		s.JobID = job.ID
		last := i == len(scenes)-1
		s.Objects = make([]model.DetectedObject, 0)
		for _, o := range objects {
			if s.Contains(o.FrameTime, last) {
				s.Objects = append(s.Objects, o)
			}
		}
		s.Transcript = make([]model.TranscriptSegment, 0)
		for _, seg := range transcript {
			if s.Contains(seg.StartTime, last) {
				s.Transcript = append(s.Transcript, seg)
			}
		}
	}
	return scenes
}

func synthesizeScene(durationSeconds float64, caption string, results []*model.MergedChunkResult) model.Scene {
	s := model.Scene{
		StartTime:    0,
		EndTime:      durationSeconds,
		Description:  SynthesizedDescription,
		Providers:    []string{},
		SourceChunks: []string{},
		Synthesized:  true,
	}
	if caption != "" {
		s.Description = caption
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.SourceChunks = append(s.SourceChunks, r.Chunk.ChunkID)
		s.Providers = unionSorted(s.Providers, r.Providers)
		if s.KeyframeURI == "" {
			s.KeyframeURI = r.Chunk.KeyframeURI
		}
	}
	return s
}

// dedupTranscript drops segments repeated by overlapping chunks and orders
// the rest by start time.
func dedupTranscript(segments []model.TranscriptSegment) []model.TranscriptSegment {
	type key struct {
		start float64
		text  string
	}
	seen := make(map[key]bool)
	out := make([]model.TranscriptSegment, 0, len(segments))
	for _, s := range segments {
		k := key{start: s.StartTime, text: strings.TrimSpace(s.Text)}
		if k.text == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b model.TranscriptSegment) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})
	return out
}

// SceneMerge is the command wrapping BuildScenes.
type SceneMerge struct {
	cor.BaseCommand
	epsilon float64
}

// NewSceneMerge creates the command. An epsilon of zero or less uses
// DefaultSceneMergeEpsilon.
func NewSceneMerge(name string, epsilon float64) *SceneMerge {
	if epsilon <= 0 {
		epsilon = DefaultSceneMergeEpsilon
	}
	return &SceneMerge{BaseCommand: *cor.NewBaseCommand(name), epsilon: epsilon}
}

func (c *SceneMerge) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamJob, ParamVideo, ParamChunkResults)
}

// Execute builds the scene list from ParamChunkResults into ParamScenes
// and records the chunk and scene counts on its span.
func (c *SceneMerge) Execute(context cor.Context) {
	ctx := context.GetContext()
	job, video, err := jobAndVideo(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	TrackerFrom(context).Step(ctx, model.StepMergingScenes, ProgressMerging)

	_, span := c.Tracer.Start(ctx, "merge_scenes")
	defer span.End()

	results := context.Get(ParamChunkResults).([]*model.MergedChunkResult)
	scenes := BuildScenes(job, video.DurationSeconds, results, c.epsilon)

	span.SetAttributes(
		attribute.Int("chunks", len(results)),
		attribute.Int("scenes", len(scenes)),
		attribute.Bool("synthesized", len(scenes) == 1 && scenes[0].Synthesized),
	)
	c.Succeed(context)
	context.Add(ParamScenes, scenes)
	context.Add(c.GetOutputParam(), scenes)
}
