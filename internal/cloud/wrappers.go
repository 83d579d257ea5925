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

// Package cloud provides components for interacting with Google Cloud services.
// This file wraps the Generative AI model handle with a token bucket rate
// limiter so concurrent chunk analyses stay inside the Vertex AI quota.
package cloud

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ContentGenerator is the slice of *genai.Models the wrapper depends on.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// QuotaAwareGenerativeAIModel decorates a Gemini model with a rate limiter.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             ContentGenerator
	RateLimit               *rate.Limiter
}

// NewQuotaAwareModel creates the wrapper.
//
// Inputs:
//   - config: Generation parameters applied to every call.
//   - name: The Vertex AI model name (e.g. "gemini-2.0-flash").
//   - handle: The model handle, usually genai.Client.Models.
//   - requestsPerSecond: Sustained rate and burst size; values below 1 mean 1.
//
// Outputs:
//   - *QuotaAwareGenerativeAIModel: The wrapped model.
func NewQuotaAwareModel(config *genai.GenerateContentConfig, name string, handle ContentGenerator, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: config,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               rate.NewLimiter(rate.Every(time.Second/time.Duration(requestsPerSecond)), requestsPerSecond),
	}
}

// Usable reports whether the wrapper holds a model handle that can be
// called. A nil *genai.Models stored in the handle counts as missing.
func (q *QuotaAwareGenerativeAIModel) Usable() bool {
	if q == nil || q.ModelHandle == nil {
		return false
	}
	if models, ok := q.ModelHandle.(*genai.Models); ok && models == nil {
		return false
	}
	return true
}

// GenerateContent blocks until the limiter grants a token or ctx is done,
// then calls the model once. Retries belong to GenerateMultiModalResponse.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if q.RateLimit != nil {
		if err := q.RateLimit.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter for %s: %w", q.ModelName, err)
		}
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}
