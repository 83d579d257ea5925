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

package providers

import (
	"context"
	"fmt"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// AnnotationOperation is a started Video Intelligence long-running operation.
type AnnotationOperation interface {
	// Poll fetches the latest state; the response is nil until Done.
	Poll(ctx context.Context) (*videointelligencepb.AnnotateVideoResponse, error)
	Done() bool
}

// VideoAnnotator starts annotation operations.
type VideoAnnotator interface {
	StartAnnotation(ctx context.Context, req *videointelligencepb.AnnotateVideoRequest) (AnnotationOperation, error)
}

// ClientAnnotator adapts *videointelligence.Client to VideoAnnotator.
type ClientAnnotator struct {
	Client *videointelligence.Client
}

// StartAnnotation submits the request.
func (c ClientAnnotator) StartAnnotation(ctx context.Context, req *videointelligencepb.AnnotateVideoRequest) (AnnotationOperation, error) {
	op, err := c.Client.AnnotateVideo(ctx, req)
	if err != nil {
		return nil, err
	}
	return clientOperation{op: op}, nil
}

type clientOperation struct {
	op *videointelligence.AnnotateVideoOperation
}

func (c clientOperation) Poll(ctx context.Context) (*videointelligencepb.AnnotateVideoResponse, error) {
	return c.op.Poll(ctx)
}

func (c clientOperation) Done() bool {
	return c.op.Done()
}

// annotate submits req and polls until the operation finishes or policy
// runs out, which surfaces as model.ErrProviderTimeout.
func annotate(ctx context.Context, annotator VideoAnnotator, policy BackoffPolicy, req *videointelligencepb.AnnotateVideoRequest) (*videointelligencepb.VideoAnnotationResults, error) {
	op, err := annotator.StartAnnotation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: start annotation: %v", model.ErrProviderFailed, err)
	}

	var resp *videointelligencepb.AnnotateVideoResponse
	err = AwaitWithBackoff(ctx, policy, func(pollCtx context.Context) (bool, error) {
		r, pollErr := op.Poll(pollCtx)
		if pollErr != nil {
			return false, fmt.Errorf("%w: poll annotation: %v", model.ErrProviderFailed, pollErr)
		}
		if !op.Done() {
			return false, nil
		}
		resp = r
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.GetAnnotationResults()) == 0 {
		return &videointelligencepb.VideoAnnotationResults{}, nil
	}
	results := resp.GetAnnotationResults()[0]
	if e := results.GetError(); e != nil && e.GetCode() != 0 {
		return nil, fmt.Errorf("%w: annotation error %d: %s", model.ErrProviderFailed, e.GetCode(), e.GetMessage())
	}
	return results, nil
}
