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

// Package api holds the gin routers of the HTTP server. Each file registers
// one resource group under /api/v1 against a narrow service interface.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConcurrentJob),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrRetryLimitExceeded),
		errors.Is(err, model.ErrStaleWrite):
		return http.StatusConflict
	case errors.Is(err, model.ErrCostLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrInvalidChunking):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abortWithError writes the JSON error body. Server errors are logged and
// their message is not returned.
func abortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		body["error"] = http.StatusText(status)
	}

	var conflict *model.ConcurrentJobError
	if errors.As(err, &conflict) {
		body["job_id"] = conflict.JobID
	}
	var costErr *model.CostLimitError
	if errors.As(err, &costErr) {
		body["estimated_cost"] = costErr.Estimate
		body["cost_limit"] = costErr.Limit
	}
	var limitErr *model.RetryLimitError
	if errors.As(err, &limitErr) {
		body["retry_count"] = limitErr.RetryCount
		body["max_retries"] = limitErr.MaxRetries
	}
	c.AbortWithStatusJSON(status, body)
}
