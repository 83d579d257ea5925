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

package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/services"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	expires time.Duration
}

func (s *fakeSigner) SignedURL(ctx context.Context, uri string, expires time.Duration) (string, error) {
	s.expires = expires
	return fmt.Sprintf("https://signed.example/%s", uri), nil
}

type fakeWarehouse struct {
	rows []*store.SceneRow
}

func (w *fakeWarehouse) ReadScenes(ctx context.Context, videoID string) ([]*store.SceneRow, error) {
	return w.rows, nil
}

func TestMediaServiceQueries(t *testing.T) {
	f := newFixture(t, 30, services.Options{})
	ctx := context.Background()
	summary, err := f.service.Process(ctx, model.AnalysisRequest{MediaRef: f.source, UserIntent: intent})
	require.NoError(t, err)

	signer := &fakeSigner{}
	svc := &services.MediaService{Repository: f.repo, Registry: f.registry, Signer: signer}

	video, err := svc.GetVideo(ctx, summary.VideoID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoCompleted, video.Status)
	require.Len(t, video.Jobs, 1)
	assert.Equal(t, summary.JobID, video.Jobs[0].ID)

	scenes, err := svc.ListScenes(ctx, summary.VideoID)
	require.NoError(t, err)
	require.NotEmpty(t, scenes)

	scene, err := svc.GetScene(ctx, summary.VideoID, 0)
	require.NoError(t, err)
	assert.Equal(t, scenes[0].ID, scene.ID)
	_, err = svc.GetScene(ctx, summary.VideoID, len(scenes))
	assert.ErrorIs(t, err, model.ErrNotFound)

	url, err := svc.KeyframeURL(ctx, summary.VideoID, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/"+scene.KeyframeURI, url)
	assert.Equal(t, services.DefaultURLExpiry, signer.expires)

	memory, err := svc.GetMemory(ctx, summary.VideoID)
	require.NoError(t, err)
	assert.Equal(t, summary.JobID, memory.JobID)

	_, err = svc.ListScenes(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.GetVideo(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMediaServiceExportedScenes(t *testing.T) {
	svc := &services.MediaService{Repository: store.NewMemoryRepository()}
	_, err := svc.ExportedScenes(context.Background(), "v1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	svc.Warehouse = &fakeWarehouse{rows: []*store.SceneRow{{VideoID: "v1", Sequence: 0}}}
	rows, err := svc.ExportedScenes(context.Background(), "v1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMediaServiceProviders(t *testing.T) {
	f := newFixture(t, 30, services.Options{})
	svc := &services.MediaService{Registry: f.registry}

	names := make([]string, 0)
	for _, p := range svc.Providers() {
		names = append(names, p.Name)
		assert.NotEmpty(t, p.Capabilities.Goals)
	}
	assert.ElementsMatch(t, []string{providers.GeminiName, providers.VideoIntelligenceName, providers.SpeechName}, names)
}
