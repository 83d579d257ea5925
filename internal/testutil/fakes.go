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

package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"google.golang.org/genai"
)

// FakeAdapter is a scriptable providers.Adapter. By default it reports one
// scene spanning the chunk and one "person" sighting at the chunk start.
type FakeAdapter struct {
	AdapterName string
	Capability  model.ProviderCapability
	// AnalyzeFunc replaces the default behaviour when set.
	AnalyzeFunc func(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (*model.ChunkAnalysisResult, error)
	// Err fails every call.
	Err error
	// Delay is waited (or ctx, whichever ends first) before answering.
	Delay time.Duration
	// CostPerChunk is reported on every result.
	CostPerChunk float64

	calls atomic.Int64
}

// NewFakeAdapter creates a frame billed fake.
func NewFakeAdapter(name string, costPerFrame float64, goals ...model.AnalysisGoal) *FakeAdapter {
	return &FakeAdapter{
		AdapterName: name,
		Capability: model.ProviderCapability{
			Goals:                      goals,
			CostPerFrame:               costPerFrame,
			MaxFramesPerCall:           50,
			SupportsCustomInstructions: true,
		},
		CostPerChunk: 0.01,
	}
}

func (f *FakeAdapter) Name() string                           { return f.AdapterName }
func (f *FakeAdapter) Capabilities() model.ProviderCapability { return f.Capability }

// Calls is the number of Analyze invocations.
func (f *FakeAdapter) Calls() int { return int(f.calls.Load()) }

func (f *FakeAdapter) EstimateCost(durationSeconds float64, plan *model.AnalysisPlan) float64 {
	return providers.FrameCost(f.Capability, durationSeconds, plan) + providers.MinuteCost(f.Capability, durationSeconds)
}

func (f *FakeAdapter) Analyze(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (*model.ChunkAnalysisResult, error) {
	f.calls.Add(1)
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, chunk, plan)
	}
	result := model.NewChunkAnalysisResult(chunk.ChunkID, f.AdapterName)
	result.Scenes = append(result.Scenes, model.DetectedScene{
		StartTime:   chunk.StartTime,
		EndTime:     chunk.EndTime,
		Description: fmt.Sprintf("%s scene %d", f.AdapterName, chunk.Index),
		Confidence:  0.8,
		Provider:    f.AdapterName,
	})
	result.Objects = append(result.Objects, model.DetectedObject{
		Label:      "person",
		FrameTime:  chunk.StartTime,
		Confidence: 0.7,
		Provider:   f.AdapterName,
	})
	result.Cost = f.CostPerChunk
	return result, nil
}

// Factory wraps the fake for providers.NewRegistry.
func (f *FakeAdapter) Factory() providers.Factory {
	return func() (providers.Adapter, error) { return f, nil }
}

// FailingFactory is a factory that cannot construct its adapter.
func FailingFactory(err error) providers.Factory {
	return func() (providers.Adapter, error) { return nil, err }
}

// StandardRegistry builds a registry mirroring the production adapters: a
// vision-language model, a cheap detector and a transcription engine.
func StandardRegistry() (*providers.Registry, map[string]*FakeAdapter) {
	fakes := map[string]*FakeAdapter{
		providers.GeminiName: NewFakeAdapter(providers.GeminiName, 0.002,
			model.GoalSceneDetection, model.GoalObjectDetection, model.GoalActionDetection,
			model.GoalCharacterTracking, model.GoalEmotionAnalysis, model.GoalPlotSummary,
			model.GoalTechnicalAnalysis, model.GoalCustomQuery),
		providers.VideoIntelligenceName: NewFakeAdapter(providers.VideoIntelligenceName, 0.001,
			model.GoalSceneDetection, model.GoalObjectDetection, model.GoalTechnicalAnalysis),
		providers.SpeechName: {
			AdapterName: providers.SpeechName,
			Capability: model.ProviderCapability{
				Goals:         []model.AnalysisGoal{model.GoalDialogueExtraction},
				CostPerMinute: 0.024,
			},
			CostPerChunk: 0.004,
		},
	}
	fakes[providers.VideoIntelligenceName].Capability.SupportsCustomInstructions = false
	registry := providers.NewRegistry(nil,
		fakes[providers.GeminiName].Factory(),
		fakes[providers.VideoIntelligenceName].Factory(),
		fakes[providers.SpeechName].Factory(),
	)
	return registry, fakes
}

// FakeBlobStore is an in-memory media.BlobStore. Object URIs are
// mem://<key>.
type FakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// FailUploadsContaining makes uploads whose key contains the substring fail.
	FailUploadsContaining string
	// DownloadErr fails every download.
	DownloadErr error
	uploads     int
	deletes     int
}

var _ media.BlobStore = (*FakeBlobStore)(nil)

// NewFakeBlobStore creates an empty store.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{objects: make(map[string][]byte)}
}

// Put seeds an object.
func (f *FakeBlobStore) Put(uri string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[uri] = data
}

// Has reports whether uri exists.
func (f *FakeBlobStore) Has(uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[uri]
	return ok
}

// Len is the number of stored objects.
func (f *FakeBlobStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// Uploads is the number of Upload calls that succeeded.
func (f *FakeBlobStore) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *FakeBlobStore) Upload(ctx context.Context, localPath string, key string, contentType string) (string, error) {
	if f.FailUploadsContaining != "" && strings.Contains(key, f.FailUploadsContaining) {
		return "", errors.New("upload refused")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	uri := "mem://" + key
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[uri] = data
	f.uploads++
	return uri, nil
}

func (f *FakeBlobStore) Download(ctx context.Context, uri string, localPath string) error {
	if f.DownloadErr != nil {
		return f.DownloadErr
	}
	f.mu.Lock()
	data, ok := f.objects[uri]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: object not found", uri)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (f *FakeBlobStore) Delete(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, uri)
	f.deletes++
	return nil
}

// FakeProber returns a fixed probe result.
type FakeProber struct {
	Result media.ProbeResult
	Err    error
}

// NewFakeProber reports a single video stream of the given duration.
func NewFakeProber(duration float64) *FakeProber {
	return &FakeProber{Result: media.ProbeResult{
		Streams: []media.ProbeStream{{CodecType: "video", AvgFrameRate: "25/1"}},
		Format:  media.ProbeFormat{Duration: fmt.Sprintf("%.3f", duration)},
	}}
}

func (f *FakeProber) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	return f.Result, f.Err
}

// FakeExtractor writes small placeholder files instead of running ffmpeg.
type FakeExtractor struct {
	SegmentErr  error
	KeyframeErr error
	segments    atomic.Int64
	keyframes   atomic.Int64
}

func (f *FakeExtractor) ExtractSegment(ctx context.Context, src string, dst string, start float64, duration float64) error {
	if f.SegmentErr != nil {
		return f.SegmentErr
	}
	f.segments.Add(1)
	return os.WriteFile(dst, []byte(fmt.Sprintf("segment %.3f+%.3f", start, duration)), 0o600)
}

func (f *FakeExtractor) ExtractKeyframe(ctx context.Context, src string, dst string, at float64) error {
	if f.KeyframeErr != nil {
		return f.KeyframeErr
	}
	f.keyframes.Add(1)
	return os.WriteFile(dst, []byte(fmt.Sprintf("keyframe %.3f", at)), 0o600)
}

// Segments is the number of segments written.
func (f *FakeExtractor) Segments() int { return int(f.segments.Load()) }

// Keyframes is the number of keyframes written.
func (f *FakeExtractor) Keyframes() int { return int(f.keyframes.Load()) }

// WriteSourceVideo creates a placeholder source file under dir.
func WriteSourceVideo(t interface{ TempDir() string }, name string) string {
	path := t.TempDir() + string(os.PathSeparator) + name
	_ = os.WriteFile(path, []byte("not really a video"), 0o600)
	return path
}

// RecordingDispatcher records dispatched tasks and optionally runs them.
type RecordingDispatcher struct {
	mu    sync.Mutex
	tasks []model.Task
	// Err fails every dispatch.
	Err error
	// Handler, when set, is run synchronously for every dispatched task.
	Handler func(ctx context.Context, task model.Task) error
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, task model.Task) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	handler := d.Handler
	d.mu.Unlock()
	if handler != nil {
		return handler(ctx, task)
	}
	return nil
}

// Tasks returns a copy of every dispatched task.
func (d *RecordingDispatcher) Tasks() []model.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Task, len(d.tasks))
	copy(out, d.tasks)
	return out
}

// FakeContentGenerator answers GenerateContent with canned text.
type FakeContentGenerator struct {
	mu        sync.Mutex
	Responses []string // Returned in order; the last one repeats.
	Errs      []error  // Returned before any response, one per call.
	Prompts   []string
	FileURIs  []string
}

func (g *FakeContentGenerator) GenerateContent(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				g.Prompts = append(g.Prompts, p.Text)
			}
			if p.FileData != nil {
				g.FileURIs = append(g.FileURIs, p.FileData.FileURI)
			}
		}
	}
	if len(g.Errs) > 0 {
		err := g.Errs[0]
		g.Errs = g.Errs[1:]
		return nil, err
	}
	text := "{}"
	if len(g.Responses) > 0 {
		text = g.Responses[0]
		if len(g.Responses) > 1 {
			g.Responses = g.Responses[1:]
		}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 50,
		},
	}, nil
}

// FakeAnnotator completes every operation after PollsUntilDone polls.
type FakeAnnotator struct {
	Response       *videointelligencepb.AnnotateVideoResponse
	PollsUntilDone int
	StartErr       error
	PollErr        error

	mu       sync.Mutex
	Requests []*videointelligencepb.AnnotateVideoRequest
}

func (f *FakeAnnotator) StartAnnotation(ctx context.Context, req *videointelligencepb.AnnotateVideoRequest) (providers.AnnotationOperation, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()
	return &fakeOperation{parent: f}, nil
}

type fakeOperation struct {
	parent *FakeAnnotator
	polls  int
}

func (o *fakeOperation) Poll(ctx context.Context) (*videointelligencepb.AnnotateVideoResponse, error) {
	if o.parent.PollErr != nil {
		return nil, o.parent.PollErr
	}
	o.polls++
	if !o.Done() {
		return nil, nil
	}
	return o.parent.Response, nil
}

func (o *fakeOperation) Done() bool {
	return o.polls >= o.parent.PollsUntilDone
}
