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
	"strings"
	"time"

	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// SpeechAdapter transcribes chunk audio with the Video Intelligence
// SPEECH_TRANSCRIPTION feature. It is billed per minute.
type SpeechAdapter struct {
	annotator    VideoAnnotator
	policy       BackoffPolicy
	capability   model.ProviderCapability
	languageCode string
}

// SpeechCapability is the adapter's default capability sheet.
func SpeechCapability(costPerMinute float64) model.ProviderCapability {
	return model.ProviderCapability{
		Goals:         []model.AnalysisGoal{model.GoalDialogueExtraction},
		CostPerMinute: costPerMinute,
	}
}

// NewSpeechAdapter creates the adapter. An empty languageCode means en-US.
func NewSpeechAdapter(annotator VideoAnnotator, policy BackoffPolicy, capability model.ProviderCapability, languageCode string) (*SpeechAdapter, error) {
	if annotator == nil {
		return nil, fmt.Errorf("%s: %w: no client", SpeechName, model.ErrProviderUnavailable)
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &SpeechAdapter{annotator: annotator, policy: policy, capability: capability, languageCode: languageCode}, nil
}

func (a *SpeechAdapter) Name() string { return SpeechName }

func (a *SpeechAdapter) Capabilities() model.ProviderCapability { return a.capability }

// EstimateCost bills audio minutes.
func (a *SpeechAdapter) EstimateCost(durationSeconds float64, _ *model.AnalysisPlan) float64 {
	return MinuteCost(a.capability, durationSeconds)
}

// Analyze transcribes the chunk segment with speaker diarization. Word
// offsets are shifted to video time.
//
// Outputs:
//   - *model.ChunkAnalysisResult: Transcript segments and their cost.
//   - error: A *model.ProviderError when the operation fails or times out.
func (a *SpeechAdapter) Analyze(ctx context.Context, chunk model.ChunkDescriptor, _ *model.AnalysisPlan) (*model.ChunkAnalysisResult, error) {
	started := time.Now()
	req := &videointelligencepb.AnnotateVideoRequest{
		InputUri: chunk.SegmentURI,
		Features: []videointelligencepb.Feature{videointelligencepb.Feature_SPEECH_TRANSCRIPTION},
		VideoContext: &videointelligencepb.VideoContext{
			SpeechTranscriptionConfig: &videointelligencepb.SpeechTranscriptionConfig{
				LanguageCode:               a.languageCode,
				EnableAutomaticPunctuation: true,
				EnableSpeakerDiarization:   true,
			},
		},
	}

	annotations, err := annotate(ctx, a.annotator, a.policy, req)
	if err != nil {
		return nil, &model.ProviderError{Provider: SpeechName, Err: err}
	}
	result := ConvertTranscriptions(annotations, chunk, SpeechName)
	result.Cost = MinuteCost(a.capability, chunk.Duration)
	result.ProcessingTime = time.Since(started)
	result.Metadata["language_code"] = a.languageCode
	return result, nil
}

// ConvertTranscriptions keeps the top alternative of every transcription.
func ConvertTranscriptions(annotations *videointelligencepb.VideoAnnotationResults, chunk model.ChunkDescriptor, provider string) *model.ChunkAnalysisResult {
	result := model.NewChunkAnalysisResult(chunk.ChunkID, provider)
	for _, t := range annotations.GetSpeechTranscriptions() {
		alternatives := t.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		alt := alternatives[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		segment := model.TranscriptSegment{
			StartTime:  chunk.StartTime,
			EndTime:    chunk.EndTime,
			Text:       text,
			Confidence: float64(alt.GetConfidence()),
		}
		if words := alt.GetWords(); len(words) > 0 {
			segment.StartTime = shiftSeconds(chunk, words[0].GetStartTime().AsDuration().Seconds())
			segment.EndTime = shiftSeconds(chunk, words[len(words)-1].GetEndTime().AsDuration().Seconds())
			if tag := words[0].GetSpeakerTag(); tag > 0 {
				segment.Speaker = fmt.Sprintf("speaker_%d", tag)
			}
		}
		result.Transcript = append(result.Transcript, segment)
	}
	if len(result.Transcript) > 0 {
		lines := make([]string, len(result.Transcript))
		for i, s := range result.Transcript {
			lines[i] = s.Text
		}
		result.Findings["dialogue"] = strings.Join(lines, " ")
	}
	return result
}
