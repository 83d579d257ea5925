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


// This file defines the in-process task-execution layer used when no task
// topic is configured.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// LocalDispatcher runs tasks on goroutines of the current process. It
// stands in for Pub/Sub when no task topic is configured, so tasks are lost
// on restart.
type LocalDispatcher struct {
	service *OrchestrationService
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher executing tasks on service.
func NewLocalDispatcher(service *OrchestrationService) *LocalDispatcher {
	return &LocalDispatcher{service: service}
}

// Dispatch starts the task and returns immediately. The task outlives the
// caller's context but keeps its values, including the trace.
func (d *LocalDispatcher) Dispatch(ctx context.Context, task model.Task) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.service.Execute(runCtx, task); err != nil {
			slog.ErrorContext(runCtx, "local task failed", "job_id", task.JobID, "attempt", task.Attempt, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
