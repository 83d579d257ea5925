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

// Package model defines the data structures for the application. This file
// holds the two persisted outputs of a completed job: the ordered Scene list
// and the VideoMemory snapshot that downstream retrieval reads.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scene is a merged, deduplicated time range of the full video. Scenes of a
// video are ordered by StartTime and StartTime < EndTime always holds.
type Scene struct {
	ID           string              `json:"scene_id" bson:"_id"`
	VideoID      string              `json:"video_id" bson:"video_id"`
	JobID        string              `json:"job_id" bson:"job_id"`
	Sequence     int                 `json:"sequence" bson:"sequence"`
	StartTime    float64             `json:"start_time" bson:"start_time"`
	EndTime      float64             `json:"end_time" bson:"end_time"`
	Description  string              `json:"description" bson:"description"`
	Confidence   float64             `json:"confidence" bson:"confidence"`
	KeyframeURI  string              `json:"keyframe_uri,omitempty" bson:"keyframe_uri,omitempty"`
	Tags         []string            `json:"tags,omitempty" bson:"tags,omitempty"`
	Providers    []string            `json:"providers" bson:"providers"`
	SourceChunks []string            `json:"source_chunks" bson:"source_chunks"`
	Objects      []DetectedObject    `json:"objects" bson:"objects"`
	Transcript   []TranscriptSegment `json:"transcript,omitempty" bson:"transcript,omitempty"`
	Synthesized  bool                `json:"synthesized,omitempty" bson:"synthesized,omitempty"`
}

// NewSceneID derives a scene id from its video and sequence number.
func NewSceneID(videoID string, sequence int) string {
	return uuid.NewSHA1(ChunkNamespace, []byte(fmt.Sprintf("%s|scene|%d", videoID, sequence))).String()
}

// Duration is the scene length in seconds.
func (s *Scene) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Contains reports whether t falls inside the scene. The end bound is
// inclusive only for the final scene of a video, which callers signal with
// closed.
func (s *Scene) Contains(t float64, closed bool) bool {
	if closed {
		return t >= s.StartTime && t <= s.EndTime
	}
	return t >= s.StartTime && t < s.EndTime
}

// Marker kinds recorded in VideoMemory.TemporalMarkers.
const (
	MarkerSceneStart       = "scene_start"
	MarkerSceneEnd         = "scene_end"
	MarkerObjectAppearance = "object_appearance"
)

// TemporalMarker is a labelled instant on the video timeline.
type TemporalMarker struct {
	Time    float64 `json:"time" bson:"time"`
	Kind    string  `json:"kind" bson:"kind"`
	Label   string  `json:"label" bson:"label"`
	SceneID string  `json:"scene_id,omitempty" bson:"scene_id,omitempty"`
}

// ChunkMemory condenses what was learned about one chunk.
type ChunkMemory struct {
	ChunkID     string   `json:"chunk_id" bson:"chunk_id"`
	Index       int      `json:"index" bson:"index"`
	StartTime   float64  `json:"start_time" bson:"start_time"`
	EndTime     float64  `json:"end_time" bson:"end_time"`
	Summary     string   `json:"summary" bson:"summary"`
	Objects     []string `json:"objects" bson:"objects"`
	Providers   []string `json:"providers" bson:"providers"`
	KeyframeURI string   `json:"keyframe_uri,omitempty" bson:"keyframe_uri,omitempty"`
	Degraded    bool     `json:"degraded,omitempty" bson:"degraded,omitempty"`
}

// ObjectStat aggregates every sighting of a label.
type ObjectStat struct {
	Count         int     `json:"count" bson:"count"`
	FirstSeen     float64 `json:"first_seen" bson:"first_seen"`
	LastSeen      float64 `json:"last_seen" bson:"last_seen"`
	MaxConfidence float64 `json:"max_confidence" bson:"max_confidence"`
}

// SceneStats aggregates the scene list.
type SceneStats struct {
	Count           int     `json:"count" bson:"count"`
	AverageDuration float64 `json:"average_duration" bson:"average_duration"`
	LongestDuration float64 `json:"longest_duration" bson:"longest_duration"`
}

// VideoMemory is the ingestion phase summary of a video. It is built once per
// completed job and is read only afterwards.
type VideoMemory struct {
	VideoID         string                `json:"video_id" bson:"_id"`
	JobID           string                `json:"job_id" bson:"job_id"`
	DurationSeconds float64               `json:"duration_seconds" bson:"duration_seconds"`
	Intent          string                `json:"intent" bson:"intent"`
	ChunkMemories   []ChunkMemory         `json:"chunk_memories" bson:"chunk_memories"`
	TemporalMarkers []TemporalMarker      `json:"temporal_markers" bson:"temporal_markers"`
	ObjectStats     map[string]ObjectStat `json:"object_stats" bson:"object_stats"`
	SceneStats      SceneStats            `json:"scene_stats" bson:"scene_stats"`
	Transcript      string                `json:"transcript,omitempty" bson:"transcript,omitempty"`
	ProvidersUsed   []string              `json:"providers_used" bson:"providers_used"`
	TotalCost       float64               `json:"total_cost" bson:"total_cost"`
	CreatedAt       time.Time             `json:"created_at" bson:"created_at"`
}
