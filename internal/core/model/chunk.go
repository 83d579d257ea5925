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

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChunkNamespace seeds deterministic chunk and scene identifiers so that a
// re-delivered task writes to the same documents it wrote the first time.
var ChunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gcp-go-media-orchestrator/chunks"))

// ChunkDescriptor is one bounded time window of a video. It is immutable once
// created and carries storage references, never raw bytes.
type ChunkDescriptor struct {
	ChunkID     string  `json:"chunk_id" bson:"_id"`
	VideoID     string  `json:"video_id" bson:"video_id"`
	Index       int     `json:"index" bson:"index"`
	StartTime   float64 `json:"start_time" bson:"start_time"`
	EndTime     float64 `json:"end_time" bson:"end_time"`
	Duration    float64 `json:"duration" bson:"duration"`
	SegmentURI  string  `json:"segment_uri" bson:"segment_uri"`
	KeyframeURI string  `json:"keyframe_uri,omitempty" bson:"keyframe_uri,omitempty"`
	MIMEType    string  `json:"mime_type" bson:"mime_type"`
}

// NewChunkID derives the identifier of a window from its video and bounds.
func NewChunkID(videoID string, start, end float64) string {
	key := fmt.Sprintf("%s|%.3f|%.3f", videoID, start, end)
	return uuid.NewSHA1(ChunkNamespace, []byte(key)).String()
}

// DetectedScene is a scene reported by a single provider for a chunk. Times
// are absolute video seconds.
type DetectedScene struct {
	StartTime   float64  `json:"start_time" bson:"start_time"`
	EndTime     float64  `json:"end_time" bson:"end_time"`
	Description string   `json:"description" bson:"description"`
	Confidence  float64  `json:"confidence" bson:"confidence"`
	Tags        []string `json:"tags,omitempty" bson:"tags,omitempty"`
	Provider    string   `json:"provider" bson:"provider"`
}

// DetectedObject is an entity observed at a point in time.
type DetectedObject struct {
	Label      string       `json:"label" bson:"label"`
	FrameTime  float64      `json:"frame_time" bson:"frame_time"`
	Confidence float64      `json:"confidence" bson:"confidence"`
	Box        *BoundingBox `json:"box,omitempty" bson:"box,omitempty"`
	Provider   string       `json:"provider" bson:"provider"`
}

// BoundingBox is a normalised [0,1] rectangle.
type BoundingBox struct {
	Left   float64 `json:"left" bson:"left"`
	Top    float64 `json:"top" bson:"top"`
	Right  float64 `json:"right" bson:"right"`
	Bottom float64 `json:"bottom" bson:"bottom"`
}

// TranscriptSegment is a span of recognised speech.
type TranscriptSegment struct {
	StartTime  float64 `json:"start_time" bson:"start_time"`
	EndTime    float64 `json:"end_time" bson:"end_time"`
	Text       string  `json:"text" bson:"text"`
	Speaker    string  `json:"speaker,omitempty" bson:"speaker,omitempty"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// ChunkAnalysisResult is the output of one adapter for one chunk.
type ChunkAnalysisResult struct {
	ChunkID        string              `json:"chunk_id" bson:"chunk_id"`
	Provider       string              `json:"provider" bson:"provider"`
	Scenes         []DetectedScene     `json:"scenes" bson:"scenes"`
	Objects        []DetectedObject    `json:"objects" bson:"objects"`
	Captions       []string            `json:"captions,omitempty" bson:"captions,omitempty"`
	Findings       map[string]any      `json:"findings,omitempty" bson:"findings,omitempty"`
	Transcript     []TranscriptSegment `json:"transcript,omitempty" bson:"transcript,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Cost           float64             `json:"cost" bson:"cost"`
	ProcessingTime time.Duration       `json:"processing_time" bson:"processing_time"`
}

// NewChunkAnalysisResult returns an empty result with its collections allocated.
func NewChunkAnalysisResult(chunkID string, provider string) *ChunkAnalysisResult {
	return &ChunkAnalysisResult{
		ChunkID:  chunkID,
		Provider: provider,
		Scenes:   make([]DetectedScene, 0),
		Objects:  make([]DetectedObject, 0),
		Findings: make(map[string]any),
		Metadata: make(map[string]string),
	}
}

// MergedChunkResult is the deduplicated, provider attributed union of every
// adapter result for one chunk. A chunk whose adapters all failed still has a
// MergedChunkResult, with empty collections and FailedProviders populated.
type MergedChunkResult struct {
	Chunk           ChunkDescriptor     `json:"chunk" bson:"chunk"`
	Scenes          []DetectedScene     `json:"scenes" bson:"scenes"`
	Objects         []DetectedObject    `json:"objects" bson:"objects"`
	Captions        []string            `json:"captions" bson:"captions"`
	Findings        map[string]any      `json:"findings" bson:"findings"`
	Transcript      []TranscriptSegment `json:"transcript" bson:"transcript"`
	Providers       []string            `json:"providers" bson:"providers"`
	FailedProviders map[string]string   `json:"failed_providers,omitempty" bson:"failed_providers,omitempty"`
	TotalCost       float64             `json:"total_cost" bson:"total_cost"`
	ProcessingTime  time.Duration       `json:"processing_time" bson:"processing_time"`
}

// NewMergedChunkResult returns an empty merged result for the chunk.
func NewMergedChunkResult(chunk ChunkDescriptor) *MergedChunkResult {
	return &MergedChunkResult{
		Chunk:           chunk,
		Scenes:          make([]DetectedScene, 0),
		Objects:         make([]DetectedObject, 0),
		Captions:        make([]string, 0),
		Findings:        make(map[string]any),
		Transcript:      make([]TranscriptSegment, 0),
		Providers:       make([]string, 0),
		FailedProviders: make(map[string]string),
	}
}

// Succeeded reports whether at least one provider contributed to the chunk.
func (m *MergedChunkResult) Succeeded() bool {
	return len(m.Providers) > 0
}
