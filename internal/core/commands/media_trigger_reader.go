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


// This file defines the commands behind the upload subscription, which turns
// a video landing in the input bucket into an analysis job.
//
// Logic Flow:
//  1. MediaTriggerToAnalysisRequest parses the GCS object notification.
//  2. Objects that are not videos, and notifications without an intent, are
//     acked and ignored. The intent comes from the object's "intent"
//     metadata, falling back to the configured default.
//  3. Optional "content_type" and "cost_limit" metadata are carried over.
//  4. SubmitAnalysis submits the request. A video that already has an active
//     job is not an error: the upload notification was simply repeated.
package commands

import (
	goctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Object metadata keys read from upload notifications.
const (
	MetadataIntent      = "intent"
	MetadataContentType = "content_type"
	MetadataCostLimit   = "cost_limit"
)

// Submitter accepts intent submissions.
type Submitter interface {
	Submit(ctx goctx.Context, req model.AnalysisRequest) (*model.SubmitResponse, error)
}

// MediaTriggerToAnalysisRequest parses a GCS notification into an
// AnalysisRequest.
type MediaTriggerToAnalysisRequest struct {
	cor.BaseCommand
	defaultIntent string
}

// NewMediaTriggerToAnalysisRequest is the constructor for the trigger reader.
//
// Inputs:
//   - name: A string name for this command instance.
//   - defaultIntent: Used when the object carries no intent metadata. Empty
//     means such uploads are ignored.
func NewMediaTriggerToAnalysisRequest(name string, defaultIntent string) *MediaTriggerToAnalysisRequest {
	return &MediaTriggerToAnalysisRequest{BaseCommand: *cor.NewBaseCommand(name), defaultIntent: defaultIntent}
}

func (c *MediaTriggerToAnalysisRequest) Execute(context cor.Context) {
	in, _ := context.Get(c.GetInputParam()).(string)

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}

	object := cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType}
	if !isVideoObject(object) {
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, fmt.Errorf("%w: %s is not a video (%s)", model.ErrInvalidRequest, object.URI(), object.MIMEType))
		return
	}

	intent := strings.TrimSpace(out.MetaData[MetadataIntent])
	if intent == "" {
		intent = c.defaultIntent
	}
	if intent == "" {
		context.Add(cloud.DropMessageParam, true)
		c.Fail(context, fmt.Errorf("%w: no intent for %s", model.ErrInvalidRequest, object.URI()))
		return
	}

	req := model.AnalysisRequest{
		MediaRef:    object.URI(),
		UserIntent:  intent,
		ContentType: out.MetaData[MetadataContentType],
	}
	if raw, ok := out.MetaData[MetadataCostLimit]; ok {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			context.Add(cloud.DropMessageParam, true)
			c.Fail(context, fmt.Errorf("%w: cost_limit %q: %v", model.ErrInvalidRequest, raw, err))
			return
		}
		req.CostLimit = &limit
	}

	c.Succeed(context)
	context.Add(c.GetOutputParam(), req)
}

func isVideoObject(o cloud.GCSObject) bool {
	if strings.HasPrefix(o.MIMEType, "video/") {
		return true
	}
	switch strings.ToLower(path.Ext(o.Name)) {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v":
		return o.MIMEType == "" || o.MIMEType == "application/octet-stream"
	}
	return false
}

// SubmitAnalysis submits the request produced by the trigger reader.
type SubmitAnalysis struct {
	cor.BaseCommand
	submitter Submitter
}

// NewSubmitAnalysis creates the command submitting decoded uploads through
// submitter.
func NewSubmitAnalysis(name string, submitter Submitter) *SubmitAnalysis {
	return &SubmitAnalysis{BaseCommand: *cor.NewBaseCommand(name), submitter: submitter}
}

func (c *SubmitAnalysis) Execute(context cor.Context) {
	ctx := context.GetContext()
	req := context.Get(c.GetInputParam()).(model.AnalysisRequest)

	resp, err := c.submitter.Submit(ctx, req)
	var conflict *model.ConcurrentJobError
	switch {
	case errors.As(err, &conflict):
		slog.InfoContext(ctx, "upload already being analysed", "media_ref", req.MediaRef, "job_id", conflict.JobID)
		c.Succeed(context)
		return
	case err != nil:
		if model.IsValidation(err) {
			context.Add(cloud.DropMessageParam, true)
		}
		c.Fail(context, err)
		return
	}

	slog.InfoContext(ctx, "upload submitted for analysis", "media_ref", req.MediaRef, "job_id", resp.JobID, "video_id", resp.VideoID)
	c.Succeed(context)
	context.Add(c.GetOutputParam(), resp)
}
