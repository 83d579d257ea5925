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

// Package model_test contains unit tests for the data models defined in the
// model package.
package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allStatuses = []model.JobStatus{
	model.JobPending, model.JobRunning, model.JobRetrying,
	model.JobCompleted, model.JobFailed, model.JobCancelled,
}

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to model.JobStatus
		allowed  bool
	}{
		{model.JobPending, model.JobRunning, true},
		{model.JobRunning, model.JobCompleted, true},
		{model.JobRunning, model.JobFailed, true},
		{model.JobFailed, model.JobRetrying, true},
		{model.JobCancelled, model.JobRetrying, true},
		{model.JobRetrying, model.JobRunning, true},
		{model.JobPending, model.JobCancelled, true},
		{model.JobCompleted, model.JobRunning, false},
		{model.JobCompleted, model.JobRetrying, false},
		{model.JobFailed, model.JobRunning, false},
		{model.JobCancelled, model.JobRunning, false},
		{model.JobPending, model.JobCompleted, false},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s->%s", c.from, c.to), func(t *testing.T) {
			assert.Equal(t, c.allowed, c.from.CanTransition(c.to))
		})
	}
}

// TestProperty_JobNeverLeavesCompleted walks random transition sequences and
// checks a completed job stays completed.
func TestProperty_JobNeverLeavesCompleted(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		job := model.NewJob("video", model.AnalysisRequest{}, nil, 3, time.Now())
		steps := rapid.SliceOfN(rapid.SampledFrom(allStatuses), 1, 30).Draw(rt, "steps")
		completed := false
		for _, next := range steps {
			if !job.Status.CanTransition(next) {
				continue
			}
			job.SetStatus(next, time.Now())
			if completed {
				rt.Fatalf("completed job moved to %s", next)
			}
			if job.Status == model.JobCompleted {
				completed = true
			}
			require.Equal(rt, job.Status.IsActive(), job.Active)
		}
	})
}

func TestNewJob(t *testing.T) {
	now := time.Now()
	job := model.NewJob("v1", model.AnalysisRequest{UserIntent: "x"}, nil, 2, now)

	_, err := uuid.Parse(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.True(t, job.Active)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 2, job.MaxRetries)
	assert.Equal(t, model.StepQueued, job.CurrentStep)

	job.SetStatus(model.JobRunning, now)
	require.NotNil(t, job.StartedAt)
	job.SetStatus(model.JobFailed, now.Add(time.Second))
	assert.False(t, job.Active)
	require.NotNil(t, job.FinishedAt)
}

func TestErrorTaxonomy(t *testing.T) {
	concurrent := &model.ConcurrentJobError{VideoID: "v", JobID: "j"}
	assert.True(t, errors.Is(concurrent, model.ErrConcurrentJob))
	assert.True(t, model.IsValidation(concurrent))

	cost := fmt.Errorf("submit: %w", &model.CostLimitError{Estimate: 2, Limit: 1})
	assert.True(t, errors.Is(cost, model.ErrCostLimitExceeded))
	var costErr *model.CostLimitError
	require.True(t, errors.As(cost, &costErr))
	assert.Equal(t, 1.0, costErr.Limit)

	retry := &model.RetryLimitError{JobID: "j", RetryCount: 3, MaxRetries: 3}
	assert.True(t, errors.Is(retry, model.ErrRetryLimitExceeded))
	assert.False(t, model.IsValidation(retry))

	assert.True(t, model.IsFatal(fmt.Errorf("chunk: %w", model.ErrStorage)))
	assert.False(t, model.IsFatal(&model.ProviderError{Provider: "p", Err: model.ErrProviderTimeout}))
}

func TestDeterministicIDs(t *testing.T) {
	assert.Equal(t, model.NewChunkID("v", 0, 10), model.NewChunkID("v", 0, 10))
	assert.NotEqual(t, model.NewChunkID("v", 0, 10), model.NewChunkID("v", 0, 12))
	assert.Equal(t, model.NewSceneID("v", 1), model.NewSceneID("v", 1))
	assert.Equal(t, model.NewVideoID("gs://b/o.mp4"), model.NewVideo("", "gs://b/o.mp4", time.Now()).ID)
}
