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


// Package services contains the business logic behind the API and the task
// listeners. This file, `media.go`, defines the MediaService, the read side
// of the orchestrator: videos, their scenes and memory from the document
// store, time-limited URLs for keyframes in Google Cloud Storage (GCS), the
// scene rows exported to BigQuery, and the adapters currently available.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// DefaultURLExpiry is how long a signed keyframe URL stays valid.
const DefaultURLExpiry = 15 * time.Minute

// URLSigner creates time-limited URLs for stored objects.
type URLSigner interface {
	SignedURL(ctx context.Context, uri string, expires time.Duration) (string, error)
}

// SceneReader reads exported scene rows back from the warehouse.
type SceneReader interface {
	ReadScenes(ctx context.Context, videoID string) ([]*store.SceneRow, error)
}

// MediaService encapsulates the read-only queries of the API.
type MediaService struct {
	Repository store.Repository   // Videos, jobs, scenes and memories.
	Registry   *providers.Registry // Adapters constructed at startup.
	Signer     URLSigner           // Signs keyframe URLs; nil disables them.
	Warehouse  SceneReader         // Exported scene rows; nil when export is disabled.
	URLExpiry  time.Duration       // Zero means DefaultURLExpiry.
}

// ProviderView describes one available adapter.
type ProviderView struct {
	Name         string                   `json:"name"`
	Capabilities model.ProviderCapability `json:"capabilities"`
}

// VideoView is a video with its job history.
type VideoView struct {
	*model.Video
	Jobs []*model.Job `json:"jobs"`
}

// GetVideo retrieves a video and its jobs, newest first.
func (s *MediaService) GetVideo(ctx context.Context, id string) (*VideoView, error) {
	video, err := s.Repository.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.Repository.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &VideoView{Video: video, Jobs: jobs}, nil
}

// ListScenes returns the video's scenes in order. An unknown video is
// model.ErrNotFound rather than an empty list.
func (s *MediaService) ListScenes(ctx context.Context, videoID string) ([]model.Scene, error) {
	if _, err := s.Repository.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return s.Repository.ListScenes(ctx, videoID)
}

// GetScene retrieves a specific scene of a video by its sequence number.
func (s *MediaService) GetScene(ctx context.Context, videoID string, sequence int) (*model.Scene, error) {
	scenes, err := s.ListScenes(ctx, videoID)
	if err != nil {
		return nil, err
	}
	for i := range scenes {
		if scenes[i].Sequence == sequence {
			return &scenes[i], nil
		}
	}
	return nil, fmt.Errorf("scene %d of video %s: %w", sequence, videoID, model.ErrNotFound)
}

// GetMemory returns the memory snapshot built by the video's last completed
// job.
func (s *MediaService) GetMemory(ctx context.Context, videoID string) (*model.VideoMemory, error) {
	return s.Repository.GetMemory(ctx, videoID)
}

// KeyframeURL creates a time-limited URL for a scene's keyframe, so that
// clients can fetch it without credentials of their own.
func (s *MediaService) KeyframeURL(ctx context.Context, videoID string, sequence int) (string, error) {
	scene, err := s.GetScene(ctx, videoID, sequence)
	if err != nil {
		return "", err
	}
	if scene.KeyframeURI == "" {
		return "", fmt.Errorf("scene %d of video %s has no keyframe: %w", sequence, videoID, model.ErrNotFound)
	}
	if s.Signer == nil {
		return "", errors.New("url signing is not configured")
	}
	expiry := s.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return s.Signer.SignedURL(ctx, scene.KeyframeURI, expiry)
}

// ExportedScenes reads the video's scene rows back from the warehouse.
func (s *MediaService) ExportedScenes(ctx context.Context, videoID string) ([]*store.SceneRow, error) {
	if s.Warehouse == nil {
		return nil, fmt.Errorf("scene export is disabled: %w", model.ErrNotFound)
	}
	return s.Warehouse.ReadScenes(ctx, videoID)
}

// Providers lists the available adapters by name.
func (s *MediaService) Providers() []ProviderView {
	out := make([]ProviderView, 0, s.Registry.Len())
	for _, name := range s.Registry.Available() {
		if a, ok := s.Registry.Get(name); ok {
			out = append(out, ProviderView{Name: name, Capabilities: a.Capabilities()})
		}
	}
	return out
}
