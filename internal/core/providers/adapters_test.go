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

package providers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	test "github.com/jaycherian/gcp-go-media-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"google.golang.org/genai"
	"google.golang.org/protobuf/types/known/durationpb"
)

var chunk = model.ChunkDescriptor{
	ChunkID:    "chunk-2",
	VideoID:    "video-1",
	Index:      2,
	StartTime:  20,
	EndTime:    30,
	Duration:   10,
	SegmentURI: "gs://chunks/video-1/chunks/0002.mp4",
	MIMEType:   "video/mp4",
}

func plan() *model.AnalysisPlan {
	return &model.AnalysisPlan{
		UserIntent:    "find all action scenes and track characters in this movie",
		ContentType:   model.ContentMovie,
		Goals:         []model.AnalysisGoal{model.GoalActionDetection, model.GoalCharacterTracking, model.GoalDialogueExtraction},
		ChunkDuration: 15,
		ChunkOverlap:  3,
		GoalAdapters: map[model.AnalysisGoal][]string{
			model.GoalActionDetection:     {providers.GeminiName},
			model.GoalCharacterTracking:   {providers.GeminiName},
			model.GoalDialogueExtraction:  {providers.SpeechName},
		},
		CustomInstructions: map[string]string{providers.GeminiName: "Name every character you can identify."},
		MaxFramesPerChunk:  10,
		DurationSeconds:    3600,
	}
}

func newGemini(t *testing.T, gen *test.FakeContentGenerator) *providers.GeminiAdapter {
	t.Helper()
	m := cloud.NewQuotaAwareModel(nil, "gemini-2.0-flash", gen, 100)
	adapter, err := providers.NewGeminiAdapter(m, "", providers.GeminiCapability(0.002, 16))
	require.NoError(t, err)
	return adapter
}

func TestGeminiAdapterAnalyze(t *testing.T) {
	gen := &test.FakeContentGenerator{Responses: []string{"```json\n" + `{
		"scenes": [
			{"start": 0, "end": 4.5, "description": "A fist fight in an alley.", "confidence": 0.9, "tags": ["action"]},
			{"start": 4.5, "end": 4.5, "description": "collapsed", "confidence": 0.9},
			{"start": 4.5, "end": 12, "description": "The hero escapes on a motorbike.", "confidence": 1.7}
		],
		"objects": [{"label": " Motorbike ", "time": 6, "confidence": 0.8}, {"label": "", "time": 1, "confidence": 0.3}],
		"captions": ["A fight then an escape."],
		"findings": {"characters": ["hero", "thug"]}
	}` + "\n```"}}
	adapter := newGemini(t, gen)

	result, err := adapter.Analyze(context.Background(), chunk, plan())
	require.NoError(t, err)

	require.Len(t, result.Scenes, 2)
	assert.Equal(t, 20.0, result.Scenes[0].StartTime)
	assert.Equal(t, 24.5, result.Scenes[0].EndTime)
	// Clamped to the chunk end and to confidence 1.
	assert.Equal(t, 30.0, result.Scenes[1].EndTime)
	assert.Equal(t, 1.0, result.Scenes[1].Confidence)
	require.Len(t, result.Objects, 1)
	assert.Equal(t, "motorbike", result.Objects[0].Label)
	assert.Equal(t, 26.0, result.Objects[0].FrameTime)
	assert.Equal(t, []string{"A fight then an escape."}, result.Captions)
	assert.Contains(t, result.Findings, "characters")
	assert.Equal(t, providers.GeminiName, result.Provider)
	assert.InDelta(t, 10*0.002, result.Cost, 1e-12)

	require.Len(t, gen.Prompts, 1)
	prompt := gen.Prompts[0]
	assert.Contains(t, prompt, "find all action scenes")
	assert.Contains(t, prompt, "action detection, character tracking")
	assert.NotContains(t, prompt, "dialogue extraction")
	assert.Contains(t, prompt, "Name every character")
	assert.Contains(t, prompt, "20.00s to 30.00s")
	assert.Equal(t, []string{chunk.SegmentURI}, gen.FileURIs)
}

func TestGeminiAdapterFailures(t *testing.T) {
	previous := cloud.RetryBackoff
	cloud.RetryBackoff = time.Millisecond
	t.Cleanup(func() { cloud.RetryBackoff = previous })

	t.Run("model keeps failing", func(t *testing.T) {
		boom := errors.New("quota")
		gen := &test.FakeContentGenerator{Errs: []error{boom, boom, boom, boom, boom}}
		_, err := newGemini(t, gen).Analyze(context.Background(), chunk, plan())
		require.ErrorIs(t, err, model.ErrProviderFailed)
		var pe *model.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, providers.GeminiName, pe.Provider)
	})

	t.Run("recovers after a retry", func(t *testing.T) {
		gen := &test.FakeContentGenerator{Errs: []error{errors.New("transient")}, Responses: []string{`{"captions": ["ok"]}`}}
		result, err := newGemini(t, gen).Analyze(context.Background(), chunk, plan())
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, result.Captions)
	})

	t.Run("undecodable answer", func(t *testing.T) {
		gen := &test.FakeContentGenerator{Responses: []string{"I cannot help with that"}}
		_, err := newGemini(t, gen).Analyze(context.Background(), chunk, plan())
		require.ErrorIs(t, err, model.ErrProviderFailed)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := providers.NewGeminiAdapter(nil, "", providers.GeminiCapability(0.002, 16))
		require.ErrorIs(t, err, model.ErrProviderUnavailable)
	})

	t.Run("nil model handle", func(t *testing.T) {
		m := cloud.NewQuotaAwareModel(nil, "gemini", (*genai.Models)(nil), 1)
		_, err := providers.NewGeminiAdapter(m, "", providers.GeminiCapability(0.002, 16))
		require.ErrorIs(t, err, model.ErrProviderUnavailable)
	})

	t.Run("bad template", func(t *testing.T) {
		m := cloud.NewQuotaAwareModel(nil, "gemini", &test.FakeContentGenerator{}, 1)
		_, err := providers.NewGeminiAdapter(m, "{{.INTENT", providers.GeminiCapability(0.002, 16))
		require.Error(t, err)
	})
}

func TestGeminiAdapterMetricNames(t *testing.T) {
	previous := cloud.RetryBackoff
	cloud.RetryBackoff = time.Millisecond
	t.Cleanup(func() { cloud.RetryBackoff = previous })

	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	gen := &test.FakeContentGenerator{Errs: []error{errors.New("transient")}, Responses: []string{`{"captions": ["ok"]}`}}
	_, err := newGemini(t, gen).Analyze(context.Background(), chunk, plan())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := make([]string, 0)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "providers/"+providers.GeminiName {
			continue
		}
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.ElementsMatch(t, []string{"gemini.token.input", "gemini.token.output", "gemini.retry"}, names)
}

func TestGeminiAdapterEmptyAnswer(t *testing.T) {
	result, err := newGemini(t, &test.FakeContentGenerator{}).Analyze(context.Background(), chunk, plan())
	require.NoError(t, err)
	assert.Empty(t, result.Scenes)
	assert.Empty(t, result.Objects)
}

func seconds(s float64) *durationpb.Duration {
	return durationpb.New(time.Duration(s * float64(time.Second)))
}

func videoResponse() *videointelligencepb.AnnotateVideoResponse {
	return &videointelligencepb.AnnotateVideoResponse{
		AnnotationResults: []*videointelligencepb.VideoAnnotationResults{{
			ShotAnnotations: []*videointelligencepb.VideoSegment{
				{StartTimeOffset: seconds(0), EndTimeOffset: seconds(6)},
				{StartTimeOffset: seconds(6), EndTimeOffset: seconds(10)},
			},
			ShotLabelAnnotations: []*videointelligencepb.LabelAnnotation{
				{
					Entity: &videointelligencepb.Entity{Description: "Street"},
					Segments: []*videointelligencepb.LabelSegment{
						{Segment: &videointelligencepb.VideoSegment{StartTimeOffset: seconds(0), EndTimeOffset: seconds(6)}, Confidence: 0.9},
					},
				},
			},
			SegmentLabelAnnotations: []*videointelligencepb.LabelAnnotation{
				{Entity: &videointelligencepb.Entity{Description: "Night"}},
			},
			ObjectAnnotations: []*videointelligencepb.ObjectTrackingAnnotation{
				{
					Entity:     &videointelligencepb.Entity{Description: "Car"},
					Confidence: 0.75,
					Frames: []*videointelligencepb.ObjectTrackingFrame{
						{TimeOffset: seconds(2), NormalizedBoundingBox: &videointelligencepb.NormalizedBoundingBox{Left: 0.1, Top: 0.2, Right: 0.5, Bottom: 0.6}},
					},
				},
			},
		}},
	}
}

func TestVideoIntelligenceAdapter(t *testing.T) {
	annotator := &test.FakeAnnotator{Response: videoResponse(), PollsUntilDone: 2}
	adapter, err := providers.NewVideoIntelligenceAdapter(annotator, providers.FixedPolicy(5, time.Millisecond),
		providers.VideoIntelligenceCapability(0.001, 16))
	require.NoError(t, err)

	result, err := adapter.Analyze(context.Background(), chunk, plan())
	require.NoError(t, err)

	require.Len(t, result.Scenes, 2)
	assert.Equal(t, 20.0, result.Scenes[0].StartTime)
	assert.Equal(t, 26.0, result.Scenes[0].EndTime)
	assert.Equal(t, "shot: street", result.Scenes[0].Description)
	assert.InDelta(t, 0.9, result.Scenes[0].Confidence, 1e-6)
	assert.Equal(t, "shot", result.Scenes[1].Description)

	require.Len(t, result.Objects, 1)
	assert.Equal(t, "car", result.Objects[0].Label)
	assert.Equal(t, 22.0, result.Objects[0].FrameTime)
	require.NotNil(t, result.Objects[0].Box)
	assert.InDelta(t, 0.5, result.Objects[0].Box.Right, 1e-6)

	assert.Equal(t, 2, result.Findings["shot_count"])
	assert.Equal(t, []string{"night"}, result.Findings["labels"])

	require.Len(t, annotator.Requests, 1)
	assert.Equal(t, chunk.SegmentURI, annotator.Requests[0].GetInputUri())
}

func TestVideoIntelligenceAdapterTimesOut(t *testing.T) {
	annotator := &test.FakeAnnotator{Response: videoResponse(), PollsUntilDone: 100}
	adapter, err := providers.NewVideoIntelligenceAdapter(annotator, providers.FixedPolicy(3, time.Millisecond),
		providers.VideoIntelligenceCapability(0.001, 16))
	require.NoError(t, err)

	_, err = adapter.Analyze(context.Background(), chunk, plan())
	require.ErrorIs(t, err, model.ErrProviderTimeout)
}

func TestVideoIntelligenceAdapterStartFailure(t *testing.T) {
	annotator := &test.FakeAnnotator{StartErr: errors.New("permission denied")}
	adapter, err := providers.NewVideoIntelligenceAdapter(annotator, providers.FixedPolicy(3, time.Millisecond),
		providers.VideoIntelligenceCapability(0.001, 16))
	require.NoError(t, err)

	_, err = adapter.Analyze(context.Background(), chunk, plan())
	require.ErrorIs(t, err, model.ErrProviderFailed)

	_, err = providers.NewVideoIntelligenceAdapter(nil, providers.FixedPolicy(1, time.Millisecond), model.ProviderCapability{})
	require.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestSpeechAdapter(t *testing.T) {
	annotator := &test.FakeAnnotator{PollsUntilDone: 1, Response: &videointelligencepb.AnnotateVideoResponse{
		AnnotationResults: []*videointelligencepb.VideoAnnotationResults{{
			SpeechTranscriptions: []*videointelligencepb.SpeechTranscription{
				{Alternatives: []*videointelligencepb.SpeechRecognitionAlternative{{
					Transcript: "We have to leave now.",
					Confidence: 0.92,
					Words: []*videointelligencepb.WordInfo{
						{StartTime: seconds(1), EndTime: seconds(1.4), Word: "We", SpeakerTag: 2},
						{StartTime: seconds(2.5), EndTime: seconds(3), Word: "now."},
					},
				}}},
				{Alternatives: []*videointelligencepb.SpeechRecognitionAlternative{{Transcript: "  "}}},
			},
		}},
	}}
	adapter, err := providers.NewSpeechAdapter(annotator, providers.FixedPolicy(3, time.Millisecond), providers.SpeechCapability(0.024), "")
	require.NoError(t, err)

	result, err := adapter.Analyze(context.Background(), chunk, plan())
	require.NoError(t, err)
	require.Len(t, result.Transcript, 1)
	segment := result.Transcript[0]
	assert.Equal(t, 21.0, segment.StartTime)
	assert.Equal(t, 23.0, segment.EndTime)
	assert.Equal(t, "speaker_2", segment.Speaker)
	assert.Equal(t, "We have to leave now.", result.Findings["dialogue"])
	assert.InDelta(t, 10.0/60*0.024, result.Cost, 1e-12)
	assert.Equal(t, "en-US", result.Metadata["language_code"])

	assert.InDelta(t, 60*0.024, adapter.EstimateCost(3600, plan()), 1e-9)
	assert.Equal(t, "en-US", annotator.Requests[0].GetVideoContext().GetSpeechTranscriptionConfig().GetLanguageCode())
}

func TestDefaultFactories(t *testing.T) {
	config := cloud.NewConfig()
	config.Providers[providers.GeminiName] = cloud.ProviderConfig{Enabled: true, CostPerFrame: 0.002, AgentModel: "vision"}
	config.Providers[providers.VideoIntelligenceName] = cloud.ProviderConfig{Enabled: true, CostPerFrame: 0.001}
	config.Providers[providers.SpeechName] = cloud.ProviderConfig{Enabled: false}
	clients := &cloud.ServiceClients{AgentModels: map[string]*cloud.QuotaAwareGenerativeAIModel{
		"vision": cloud.NewQuotaAwareModel(nil, "gemini", &test.FakeContentGenerator{}, 1),
	}}

	registry := providers.NewRegistry(nil, providers.DefaultFactories(config, clients)...)
	// Video Intelligence has no client and speech is disabled.
	assert.Equal(t, []string{providers.GeminiName}, registry.Available())
}
