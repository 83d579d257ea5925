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


package commands_test

import (
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVideoMemory(t *testing.T) {
	job := testJob()
	video := &model.Video{ID: "vid", DurationSeconds: 30}

	r0 := model.NewMergedChunkResult(chunk(0, 0, 15))
	r0.Providers = []string{"gemini", "video-intelligence"}
	r0.Captions = []string{"Two people talk.", "A car passes."}
	r0.Objects = []model.DetectedObject{
		{Label: "person", FrameTime: 2, Confidence: 0.7},
		{Label: "car", FrameTime: 12, Confidence: 0.6},
	}
	r0.Transcript = []model.TranscriptSegment{{StartTime: 65, Text: "hello", Speaker: "Alice"}}
	r0.TotalCost = 0.02

	r1 := model.NewMergedChunkResult(chunk(1, 12, 30))
	r1.Providers = []string{"gemini"}
	r1.FailedProviders = map[string]string{"video-intelligence": "timeout"}
	r1.Scenes = []model.DetectedScene{{StartTime: 12, EndTime: 30, Description: "street"}}
	r1.Objects = []model.DetectedObject{
		{Label: "car", FrameTime: 12, Confidence: 0.9},
		{Label: "person", FrameTime: 20, Confidence: 0.5},
	}
	r1.Transcript = []model.TranscriptSegment{
		{StartTime: 65, Text: "hello", Speaker: "Alice"},
		{StartTime: 5, Text: "hi"},
	}
	r1.TotalCost = 0.01

	results := []*model.MergedChunkResult{r1, r0}
	scenes := commands.BuildScenes(job, 30, results, 1)
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	memory := commands.BuildVideoMemory(job, video, scenes, results, now)

	assert.Equal(t, "vid", memory.VideoID)
	assert.Equal(t, job.ID, memory.JobID)
	assert.Equal(t, "find the scenes", memory.Intent)
	assert.Equal(t, now, memory.CreatedAt)
	assert.InDelta(t, 0.03, memory.TotalCost, 1e-9)
	assert.Equal(t, []string{"gemini", "video-intelligence"}, memory.ProvidersUsed)

	require.Len(t, memory.ChunkMemories, 2)
	assert.Equal(t, 0, memory.ChunkMemories[0].Index)
	assert.Equal(t, "Two people talk. A car passes.", memory.ChunkMemories[0].Summary)
	assert.Equal(t, []string{"car", "person"}, memory.ChunkMemories[0].Objects)
	assert.False(t, memory.ChunkMemories[0].Degraded)
	assert.Equal(t, "street", memory.ChunkMemories[1].Summary)
	assert.True(t, memory.ChunkMemories[1].Degraded)

	// Overlapping chunks reported the same car sighting twice.
	assert.Equal(t, model.ObjectStat{Count: 1, FirstSeen: 12, LastSeen: 12, MaxConfidence: 0.9}, memory.ObjectStats["car"])
	assert.Equal(t, model.ObjectStat{Count: 2, FirstSeen: 2, LastSeen: 20, MaxConfidence: 0.7}, memory.ObjectStats["person"])

	assert.Equal(t, "[00:05] hi\n[01:05] Alice: hello\n", memory.Transcript)

	require.Len(t, scenes, 1)
	assert.Equal(t, model.SceneStats{Count: 1, AverageDuration: 18, LongestDuration: 18}, memory.SceneStats)

	kinds := make([]string, 0)
	for i, m := range memory.TemporalMarkers {
		kinds = append(kinds, m.Kind+":"+m.Label)
		if i > 0 {
			assert.LessOrEqual(t, memory.TemporalMarkers[i-1].Time, m.Time)
		}
	}
	assert.Equal(t, []string{
		"scene_start:scene 0",
		"object_appearance:car",
		"object_appearance:person",
		"scene_end:scene 0",
	}, kinds)
}

func TestSummarize(t *testing.T) {
	job := testJob()
	started := time.Now().Add(-90 * time.Second)
	job.StartedAt = &started
	job.FailedProviders["speech"] = "quota"
	video := &model.Video{ID: "vid", DurationSeconds: 42}
	memory := &model.VideoMemory{
		TotalCost:     0.5,
		ProvidersUsed: []string{"gemini"},
		ObjectStats:   map[string]model.ObjectStat{"car": {Count: 3}, "dog": {Count: 1}},
	}
	results := []*model.MergedChunkResult{model.NewMergedChunkResult(chunk(0, 0, 21)), model.NewMergedChunkResult(chunk(1, 21, 42))}

	summary := commands.Summarize(job, video, make([]model.Scene, 5), memory, results, started.Add(90*time.Second))
	assert.Equal(t, &model.ProcessingSummary{
		JobID:           job.ID,
		VideoID:         "vid",
		ChunkCount:      2,
		SceneCount:      5,
		ObjectCount:     4,
		TotalCost:       0.5,
		DurationSeconds: 42,
		ProvidersUsed:   []string{"gemini"},
		FailedProviders: map[string]string{"speech": "quota"},
		ProcessingTime:  90 * time.Second,
	}, summary)
}
