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

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// PubSubDispatcher is the sending half of the task-execution layer. It
// publishes one message per task; the ordering key is the job id so that a
// retry is never delivered ahead of the attempt it supersedes.
type PubSubDispatcher struct {
	topic *pubsub.Topic
}

// NewPubSubDispatcher creates a dispatcher for topicID.
func NewPubSubDispatcher(client *pubsub.Client, topicID string) *PubSubDispatcher {
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return &PubSubDispatcher{topic: topic}
}

// Dispatch publishes the task and waits for the server acknowledgement.
// Trace context is propagated through message attributes.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, task model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	attrs := taskAttributes(ctx, task)

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: task.JobID,
	})
	if _, err := result.Get(ctx); err != nil {
		d.topic.ResumePublish(task.JobID)
		return fmt.Errorf("publish task for job %s: %w", task.JobID, err)
	}
	return nil
}

// taskAttributes labels the message with the task and carries the caller's
// trace context for the listener to continue.
func taskAttributes(ctx context.Context, task model.Task) map[string]string {
	attrs := map[string]string{
		"job_id":  task.JobID,
		"attempt": strconv.Itoa(task.Attempt),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))
	return attrs
}

// Stop flushes pending publishes.
func (d *PubSubDispatcher) Stop() {
	d.topic.Stop()
}
