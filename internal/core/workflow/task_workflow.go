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


// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file holds the
// chains attached to the Pub/Sub listeners.
package workflow

import (
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
)

// NewAnalysisTaskWorkflow decodes an analysis task and runs it.
//
// Inputs:
//   - runner: Executes the task, normally the OrchestrationService.
//   - maxDeliveries: The subscription's delivery cap; beyond it the job is
//     failed instead of run.
func NewAnalysisTaskWorkflow(runner commands.TaskRunner, maxDeliveries int) cor.Chain {
	return cor.NewBaseChain("analysis-task-workflow").
		AddCommand(commands.NewTaskMessageReader("read-task-message")).
		AddCommand(commands.NewTaskExecutor("execute-task", runner, maxDeliveries))
}

// NewUploadTriggerWorkflow submits an analysis for each video uploaded to the
// input bucket.
func NewUploadTriggerWorkflow(submitter commands.Submitter, defaultIntent string) cor.Chain {
	return cor.NewBaseChain("upload-trigger-workflow").
		AddCommand(commands.NewMediaTriggerToAnalysisRequest("media-trigger-to-analysis-request", defaultIntent)).
		AddCommand(commands.NewSubmitAnalysis("submit-analysis", submitter))
}
