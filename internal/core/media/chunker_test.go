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

package media_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	test "github.com/jaycherian/gcp-go-media-orchestrator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkerFixture struct {
	chunker   *media.Chunker
	store     *test.FakeBlobStore
	prober    *test.FakeProber
	extractor *test.FakeExtractor
	workRoot  string
}

func newChunkerFixture(t *testing.T, duration float64) *chunkerFixture {
	f := &chunkerFixture{
		store:     test.NewFakeBlobStore(),
		prober:    test.NewFakeProber(duration),
		extractor: &test.FakeExtractor{},
		workRoot:  t.TempDir(),
	}
	f.chunker = media.NewChunker(f.prober, f.extractor, f.store, media.ChunkerConfig{
		Prefix:  "derived",
		WorkDir: f.workRoot,
		Workers: 3,
	}, nil)
	return f
}

func (f *chunkerFixture) workDirs(t *testing.T) int {
	entries, err := os.ReadDir(f.workRoot)
	require.NoError(t, err)
	return len(entries)
}

func TestChunkLocalSource(t *testing.T) {
	f := newChunkerFixture(t, 32)
	src := test.WriteSourceVideo(t, "movie.mp4")

	set, err := f.chunker.Chunk(context.Background(), media.ChunkRequest{
		VideoID: "vid", MediaRef: src, ChunkDuration: 10, Overlap: 0,
	})
	require.NoError(t, err)
	defer set.Cleanup()

	require.Len(t, set.Chunks, 3)
	assert.Equal(t, 32.0, set.Duration)
	assert.Equal(t, 25.0, set.FrameRate)
	assert.Equal(t, media.DefaultVideoMIMEType, set.MIMEType)

	last := set.Chunks[2]
	assert.Equal(t, 20.0, last.StartTime)
	assert.Equal(t, 32.0, last.EndTime)
	assert.Equal(t, 12.0, last.Duration)
	assert.Equal(t, model.NewChunkID("vid", 20, 32), last.ChunkID)
	assert.Equal(t, "mem://derived/vid/chunks/0002.mp4", last.SegmentURI)
	assert.Equal(t, "mem://derived/vid/keyframes/0002.jpg", last.KeyframeURI)

	for i, c := range set.Chunks {
		assert.Equal(t, i, c.Index)
		assert.True(t, f.store.Has(c.SegmentURI))
	}
	assert.Equal(t, 6, f.store.Uploads())
	assert.Equal(t, 1, f.workDirs(t))

	require.NoError(t, set.Cleanup())
	assert.Zero(t, f.workDirs(t))
}

func TestChunkIsRepeatable(t *testing.T) {
	f := newChunkerFixture(t, 60)
	src := test.WriteSourceVideo(t, "clip.mp4")
	req := media.ChunkRequest{VideoID: "vid", MediaRef: src, ChunkDuration: 10, Overlap: 2}

	first, err := f.chunker.Chunk(context.Background(), req)
	require.NoError(t, err)
	defer first.Cleanup()
	second, err := f.chunker.Chunk(context.Background(), req)
	require.NoError(t, err)
	defer second.Cleanup()

	assert.Len(t, first.Chunks, 8)
	assert.Equal(t, first.Chunks, second.Chunks)
	// Same keys, so the second run overwrote the first.
	assert.Equal(t, 16, f.store.Len())
}

func TestChunkRemoteSource(t *testing.T) {
	f := newChunkerFixture(t, 20)
	f.store.Put("gs://input/movie.mp4", []byte("remote bytes"))

	set, err := f.chunker.Chunk(context.Background(), media.ChunkRequest{
		VideoID: "vid", MediaRef: "gs://input/movie.mp4", ChunkDuration: 10, Overlap: 0,
	})
	require.NoError(t, err)
	defer set.Cleanup()
	assert.Len(t, set.Chunks, 2)
	assert.Equal(t, 2, f.extractor.Segments())

	f.store.DownloadErr = errors.New("403")
	_, err = f.chunker.Chunk(context.Background(), media.ChunkRequest{
		VideoID: "vid", MediaRef: "gs://input/movie.mp4", ChunkDuration: 10,
	})
	assert.ErrorIs(t, err, model.ErrMediaUnreadable)
	assert.Equal(t, 1, f.workDirs(t))
}

func TestChunkFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid chunking", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: "x", ChunkDuration: 5, Overlap: 5})
		assert.ErrorIs(t, err, model.ErrInvalidChunking)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("missing file", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: "/nope/missing.mp4", ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrMediaUnreadable)
		assert.Zero(t, f.workDirs(t))
	})

	t.Run("probe failure", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		f.prober.Err = errors.New("moov atom not found")
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrMediaUnreadable)
		assert.True(t, model.IsFatal(err))
		assert.Zero(t, f.workDirs(t))
	})

	t.Run("audio only", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		f.prober.Result.Streams = []media.ProbeStream{{CodecType: "audio", Duration: "30.0"}}
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrMediaUnreadable)
		assert.Contains(t, err.Error(), "no video stream")
		assert.Zero(t, f.workDirs(t))
	})

	t.Run("zero duration", func(t *testing.T) {
		f := newChunkerFixture(t, 0)
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrMediaUnreadable)
	})

	t.Run("segment upload failure", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		f.store.FailUploadsContaining = "chunks/0001"
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrStorage)
		assert.Zero(t, f.workDirs(t))
	})

	t.Run("extract failure", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		f.extractor.SegmentErr = errors.New("ffmpeg exited 1")
		_, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		assert.ErrorIs(t, err, model.ErrMediaUnreadable)
	})

	t.Run("keyframe failure is tolerated", func(t *testing.T) {
		f := newChunkerFixture(t, 30)
		f.extractor.KeyframeErr = errors.New("no frame")
		set, err := f.chunker.Chunk(ctx, media.ChunkRequest{VideoID: "vid", MediaRef: test.WriteSourceVideo(t, "a.mp4"), ChunkDuration: 10})
		require.NoError(t, err)
		defer set.Cleanup()
		for _, c := range set.Chunks {
			assert.Empty(t, c.KeyframeURI)
			assert.NotEmpty(t, c.SegmentURI)
		}
	})
}

func TestPrepareThenSplit(t *testing.T) {
	f := newChunkerFixture(t, 45)
	src, err := f.chunker.Prepare(context.Background(), "vid", test.WriteSourceVideo(t, "a.mp4"))
	require.NoError(t, err)
	defer src.Cleanup()
	assert.Equal(t, 45.0, src.Duration)

	chunks, err := f.chunker.Split(context.Background(), src, 15, 3)
	require.NoError(t, err)
	assert.Equal(t, 45.0, chunks[len(chunks)-1].EndTime)

	_, err = f.chunker.Prepare(context.Background(), "", "x")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
