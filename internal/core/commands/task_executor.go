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


// This file defines the commands run by the task listener for every
// delivered analysis task.
//
// Logic Flow:
//  1. TaskMessageReader decodes the {job_id, attempt} payload. A payload that
//     cannot be decoded is acked and dropped; redelivering it cannot help.
//  2. TaskExecutor fails the job once the message has been delivered more
//     often than the subscription allows, and acks it.
//  3. Otherwise it runs the job through the TaskRunner. Delivery is at least
//     once, so the runner must treat repeats as no-ops. Only failures that
//     left the job's state unrecorded (storage or a timed-out context) are
//     left for Pub/Sub to redeliver.
package commands

import (
	goctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// TaskRunner executes analysis tasks and records failures reported by the
// task-execution layer.
type TaskRunner interface {
	Execute(ctx goctx.Context, task model.Task) (*model.ProcessingSummary, error)
	FailTask(ctx goctx.Context, task model.Task, cause error) error
}

// TaskMessageReader decodes a task message.
type TaskMessageReader struct {
	cor.BaseCommand
}

// NewTaskMessageReader creates the decoding command.
func NewTaskMessageReader(name string) *TaskMessageReader {
	return &TaskMessageReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *TaskMessageReader) Execute(context cor.Context) {
	in, _ := context.Get(c.GetInputParam()).(string)

	var task model.Task
	if err := json.Unmarshal([]byte(in), &task); err != nil {
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, fmt.Errorf("%w: undecodable task message: %v", model.ErrInvalidRequest, err))
		return
	}
	if task.JobID == "" {
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, fmt.Errorf("%w: task message without job_id", model.ErrInvalidRequest))
		return
	}

	c.Succeed(context)
	context.Add(ParamTask, task)
	context.Add(c.GetOutputParam(), task)
}

// TaskExecutor runs a decoded task.
type TaskExecutor struct {
	cor.BaseCommand
	runner        TaskRunner
	maxDeliveries int
}

// NewTaskExecutor creates the command. maxDeliveries of zero or less removes
// the delivery cap.
func NewTaskExecutor(name string, runner TaskRunner, maxDeliveries int) *TaskExecutor {
	return &TaskExecutor{BaseCommand: *cor.NewBaseCommand(name), runner: runner, maxDeliveries: maxDeliveries}
}

func (c *TaskExecutor) IsExecutable(context cor.Context) bool {
	return hasParams(context, ParamTask)
}

func (c *TaskExecutor) Execute(context cor.Context) {
	ctx := context.GetContext()
	task := context.Get(ParamTask).(model.Task)
	attempt, ok := context.Get(cloud.DeliveryAttemptParam).(int)
	if !ok {
		attempt = 1
	}

	if c.maxDeliveries > 0 && attempt > c.maxDeliveries {
		cause := fmt.Errorf("task for job %s delivered %d times, limit %d", task.JobID, attempt, c.maxDeliveries)
		if err := c.runner.FailTask(ctx, task, cause); err != nil {
			c.Fail(context, err)
			return
		}
		slog.WarnContext(ctx, "delivery limit reached; job failed", "job_id", task.JobID, "attempt", attempt)
		context.Add(cloud.DropMessageParam, true)
		c.Succeed(context)
		return
	}

	summary, err := c.runner.Execute(ctx, task)
	switch {
	case err == nil:
		c.Succeed(context)
		if summary != nil {
			context.Add(ParamSummary, summary)
			context.Add(c.GetOutputParam(), summary)
		}
	case errors.Is(err, model.ErrJobCancelled):
		slog.InfoContext(ctx, "job cancelled while running", "job_id", task.JobID)
		c.Succeed(context)
	case Redeliverable(err):
		c.Fail(context, err)
	default:
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, err)
	}
}

// Redeliverable reports whether a task failure may succeed on another
// delivery.
func Redeliverable(err error) bool {
	return errors.Is(err, model.ErrStorage) ||
		errors.Is(err, model.ErrStaleWrite) ||
		errors.Is(err, goctx.DeadlineExceeded) ||
		errors.Is(err, goctx.Canceled)
}
