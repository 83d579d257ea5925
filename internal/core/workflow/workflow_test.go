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

package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/services"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/workflow"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
	test "github.com/jaycherian/gcp-go-media-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("workflow_test")

type recordingExporter struct {
	mu     sync.Mutex
	err    error
	scenes map[string][]model.Scene
}

func (e *recordingExporter) ExportScenes(ctx context.Context, video *model.Video, scenes []model.Scene) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if e.scenes == nil {
		e.scenes = make(map[string][]model.Scene)
	}
	e.scenes[video.ID] = scenes
	return nil
}

func dependencies(t *testing.T, repo store.Repository, exporter store.SceneExporter) workflow.AnalysisDependencies {
	registry, _ := test.StandardRegistry()
	chunker := media.NewChunker(test.NewFakeProber(45), &test.FakeExtractor{}, test.NewFakeBlobStore(),
		media.ChunkerConfig{Prefix: "derived", WorkDir: t.TempDir()}, logger)
	return workflow.AnalysisDependencies{
		Chunker:      chunker,
		Planner:      planner.New(registry),
		Orchestrator: orchestrator.New(registry, 5*time.Second, logger),
		Repository:   repo,
		Exporter:     exporter,
		ChunkWorkers: 2,
	}
}

func TestAnalysisWorkflowSteps(t *testing.T) {
	repo := store.NewMemoryRepository()

	w := workflow.NewAnalysisWorkflow(dependencies(t, repo, nil))
	assert.Equal(t, []string{
		"prepare-media", "chunk-media", "analyze-chunks", "merge-scenes", "build-memory", "persist-results",
	}, w.Steps())

	w = workflow.NewAnalysisWorkflow(dependencies(t, repo, &recordingExporter{}))
	steps := w.Steps()
	assert.Len(t, steps, 7)
	assert.Equal(t, "write-scenes-to-bigquery", steps[6])
}

func TestAnalysisWorkflowIsExecutable(t *testing.T) {
	w := workflow.NewAnalysisWorkflow(dependencies(t, store.NewMemoryRepository(), nil))

	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	assert.False(t, w.IsExecutable(chCtx))
	assert.False(t, w.IsExecutable(nil))

	chCtx.Add(commands.ParamJob, &model.Job{ID: "j"})
	chCtx.Add(commands.ParamVideo, &model.Video{ID: "v"})
	assert.True(t, w.IsExecutable(chCtx))
}

func process(t *testing.T, exporter *recordingExporter) (*store.MemoryRepository, *model.ProcessingSummary, error) {
	repo := store.NewMemoryRepository()
	deps := dependencies(t, repo, exporter)
	registry, _ := test.StandardRegistry()
	service := services.NewOrchestrationService(repo, deps.Planner, registry,
		workflow.NewAnalysisWorkflow(deps), &test.RecordingDispatcher{}, services.Options{}, logger)
	summary, err := service.Process(context.Background(), model.AnalysisRequest{
		MediaRef:   test.WriteSourceVideo(t, "match.mp4"),
		UserIntent: "detect the scenes and the objects in this sports match",
	})
	return repo, summary, err
}

func TestAnalysisWorkflowExportsScenes(t *testing.T) {
	exporter := &recordingExporter{}
	repo, summary, err := process(t, exporter)
	require.NoError(t, err)

	stored, err := repo.ListScenes(context.Background(), summary.VideoID)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, stored, exporter.scenes[summary.VideoID])
	assert.Equal(t, len(stored), summary.SceneCount)
}

func TestAnalysisWorkflowExportFailureIsNotFatal(t *testing.T) {
	exporter := &recordingExporter{err: errors.New("bigquery unavailable")}
	repo, summary, err := process(t, exporter)
	require.NoError(t, err)
	require.NotNil(t, summary)

	job, err := repo.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Empty(t, exporter.scenes)
}

type fakeRunner struct {
	executed []model.Task
}

func (r *fakeRunner) Execute(ctx context.Context, task model.Task) (*model.ProcessingSummary, error) {
	r.executed = append(r.executed, task)
	return &model.ProcessingSummary{JobID: task.JobID}, nil
}

func (r *fakeRunner) FailTask(ctx context.Context, task model.Task, cause error) error {
	return nil
}

func chainContext(payload string) cor.Context {
	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, payload)
	chCtx.Add(cloud.DeliveryAttemptParam, 1)
	return chCtx
}

func TestAnalysisTaskWorkflow(t *testing.T) {
	runner := &fakeRunner{}
	chCtx := chainContext(`{"job_id":"job-1","attempt":0}`)
	workflow.NewAnalysisTaskWorkflow(runner, 5).Execute(chCtx)

	require.False(t, chCtx.HasErrors(), "%v", chCtx.GetErrors())
	assert.Equal(t, []model.Task{{JobID: "job-1"}}, runner.executed)
}

type fakeSubmitter struct {
	requests []model.AnalysisRequest
	err      error
}

func (s *fakeSubmitter) Submit(ctx context.Context, req model.AnalysisRequest) (*model.SubmitResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &model.SubmitResponse{JobID: "job-1", VideoID: model.NewVideoID(req.MediaRef), Status: model.JobPending}, nil
}

func TestUploadTriggerWorkflow(t *testing.T) {
	submitter := &fakeSubmitter{}
	chCtx := chainContext(test.GetTestUploadMessageText())
	workflow.NewUploadTriggerWorkflow(submitter, "").Execute(chCtx)

	require.False(t, chCtx.HasErrors(), "%v", chCtx.GetErrors())
	require.Len(t, submitter.requests, 1)
	req := submitter.requests[0]
	assert.Equal(t, "gs://media_input_resources/test-trailer-001.mp4", req.MediaRef)
	assert.Equal(t, "find all action scenes and track characters in this movie", req.UserIntent)
	assert.Equal(t, "movie", req.ContentType)
}

func TestUploadTriggerWorkflowRepeatNotification(t *testing.T) {
	submitter := &fakeSubmitter{err: &model.ConcurrentJobError{VideoID: "v", JobID: "job-0"}}
	chCtx := chainContext(test.GetTestUploadMessageText())
	workflow.NewUploadTriggerWorkflow(submitter, "").Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	drop, _ := chCtx.Get(cloud.DropMessageParam).(bool)
	assert.False(t, drop)
}

func TestUploadTriggerWorkflowIgnoresNonVideo(t *testing.T) {
	submitter := &fakeSubmitter{}
	chCtx := chainContext(`{"bucket":"media_input_resources","name":"notes.txt","contentType":"text/plain"}`)
	workflow.NewUploadTriggerWorkflow(submitter, "summarize").Execute(chCtx)

	assert.True(t, chCtx.HasErrors())
	drop, _ := chCtx.Get(cloud.DropMessageParam).(bool)
	assert.True(t, drop)
	assert.Empty(t, submitter.requests)
}
