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

package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/workflow"
)

// Keys of [topic_subscriptions] in the configuration.
const (
	AnalysisTasksSubscription = "analysis-tasks"
	UploadsSubscription       = "uploads"
)

// SetupListeners attaches the task workflows to their subscriptions and
// starts receiving. Listening stops when ctx is cancelled.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients) {
	if listener, ok := cloudClients.PubSubListeners[AnalysisTasksSubscription]; ok {
		maxDeliveries := config.TopicSubscriptions[AnalysisTasksSubscription].MaxDeliveryAttempts
		listener.SetCommand(workflow.NewAnalysisTaskWorkflow(state.orchestration, maxDeliveries))
		listener.Listen(ctx)
	}

	if listener, ok := cloudClients.PubSubListeners[UploadsSubscription]; ok {
		intent := config.Orchestration.AutoAnalyzeIntent
		if intent == "" {
			slog.Info("uploads without an intent in their metadata will be ignored")
		}
		listener.SetCommand(workflow.NewUploadTriggerWorkflow(state.orchestration, intent))
		listener.Listen(ctx)
	}
}
