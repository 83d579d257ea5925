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
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Uploader stores a local file under key and returns its media reference.
// cloud.GCSObjectStore implements it for the input bucket.
type Uploader interface {
	Upload(ctx context.Context, localPath string, key string, contentType string) (string, error)
}

// UploadResult describes one stored file.
type UploadResult struct {
	Name        string `json:"name"`
	MediaRef    string `json:"media_ref"`
	ContentType string `json:"content_type"`
}

// FileUpload registers POST /uploads. Every part of the multipart field
// "files" must be a video; the batch is rejected before anything is stored
// otherwise. The returned media references are accepted by POST /analyses.
func FileUpload(r *gin.RouterGroup, uploader Uploader) {
	upload := r.Group("/uploads")
	{
		upload.POST("", func(c *gin.Context) {
			form, err := c.MultipartForm()
			if err != nil {
				abortWithError(c, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
				return
			}
			files := form.File["files"]
			if len(files) == 0 {
				abortWithError(c, fmt.Errorf("%w: no files in upload", model.ErrInvalidRequest))
				return
			}

			dir, err := os.MkdirTemp("", "upload-*")
			if err != nil {
				abortWithError(c, err)
				return
			}
			defer func() {
				if err := os.RemoveAll(dir); err != nil {
					slog.Warn("failed to remove upload dir", "path", dir, "error", err)
				}
			}()

			paths := make([]string, len(files))
			for i, file := range files {
				name := filepath.Base(file.Filename)
				paths[i] = filepath.Join(dir, fmt.Sprintf("%d-%s", i, name))
				if err := c.SaveUploadedFile(file, paths[i]); err != nil {
					abortWithError(c, err)
					return
				}
				if !media.IsVideoFile(paths[i]) {
					c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("%s is not a video", name)})
					return
				}
			}

			out := make([]UploadResult, 0, len(files))
			for i, file := range files {
				name := filepath.Base(file.Filename)
				contentType := media.DetectMIMEType(paths[i])
				ref, err := uploader.Upload(c.Request.Context(), paths[i], name, contentType)
				if err != nil {
					abortWithError(c, err)
					return
				}
				slog.InfoContext(c.Request.Context(), "video uploaded", "media_ref", ref, "content_type", contentType, "size", file.Size)
				out = append(out, UploadResult{Name: name, MediaRef: ref, ContentType: contentType})
			}
			c.JSON(http.StatusCreated, gin.H{"uploads": out})
		})
	}
}
