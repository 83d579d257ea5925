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

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/services"
)

// JobService is the write side used by the analysis and job routes.
// services.OrchestrationService implements it.
type JobService interface {
	Submit(ctx context.Context, req model.AnalysisRequest) (*model.SubmitResponse, error)
	Status(ctx context.Context, jobID string) (*services.JobStatusView, error)
	Retry(ctx context.Context, jobID string) (*model.Job, error)
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
}

// AnalysisRouter registers POST /analyses, the intent submission.
func AnalysisRouter(r *gin.RouterGroup, jobs JobService) {
	analyses := r.Group("/analyses")
	{
		analyses.POST("", func(c *gin.Context) {
			var req model.AnalysisRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				abortWithError(c, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
				return
			}
			resp, err := jobs.Submit(c.Request.Context(), req)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, resp)
		})
	}
}

// JobRouter registers the job status, retry and cancel routes.
func JobRouter(r *gin.RouterGroup, jobs JobService) {
	job := r.Group("/jobs")
	{
		job.GET("/:id", func(c *gin.Context) {
			out, err := jobs.Status(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		job.POST("/:id/retry", func(c *gin.Context) {
			out, err := jobs.Retry(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, out)
		})

		job.POST("/:id/cancel", func(c *gin.Context) {
			out, err := jobs.Cancel(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
