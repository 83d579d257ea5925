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
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/services"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// VideoService is the read side. services.MediaService implements it.
type VideoService interface {
	GetVideo(ctx context.Context, id string) (*services.VideoView, error)
	ListScenes(ctx context.Context, videoID string) ([]model.Scene, error)
	GetMemory(ctx context.Context, videoID string) (*model.VideoMemory, error)
	KeyframeURL(ctx context.Context, videoID string, sequence int) (string, error)
	ExportedScenes(ctx context.Context, videoID string) ([]*store.SceneRow, error)
	Providers() []services.ProviderView
}

// VideoRouter registers the video, scene and memory routes.
func VideoRouter(r *gin.RouterGroup, videos VideoService) {
	video := r.Group("/videos")
	{
		video.GET("/:id", func(c *gin.Context) {
			out, err := videos.GetVideo(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		video.GET("/:id/scenes", func(c *gin.Context) {
			out, err := videos.ListScenes(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		video.GET("/:id/scenes/:seq/keyframe", func(c *gin.Context) {
			seq, err := strconv.Atoi(c.Param("seq"))
			if err != nil || seq < 0 {
				abortWithError(c, fmt.Errorf("%w: scene sequence %q", model.ErrInvalidRequest, c.Param("seq")))
				return
			}
			url, err := videos.KeyframeURL(c.Request.Context(), c.Param("id"), seq)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url})
		})

		video.GET("/:id/memory", func(c *gin.Context) {
			out, err := videos.GetMemory(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		// Scenes as exported to the warehouse; 404 when export is disabled.
		video.GET("/:id/exported-scenes", func(c *gin.Context) {
			out, err := videos.ExportedScenes(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}
