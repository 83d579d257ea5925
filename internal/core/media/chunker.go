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

// Package media turns a source video into time-sliced chunks.
//
// Logic Flow:
//  1. The source is resolved to a local file, downloading gs:// references
//     into a private work directory.
//  2. The file type is sniffed and the container probed for duration and
//     frame rate. Either failing makes the media unreadable.
//  3. PlanWindows slices the duration into overlapping windows.
//  4. A bounded pool of workers cuts each window's segment and mid-point
//     keyframe with ffmpeg and uploads both under deterministic object keys,
//     so a retried job overwrites what an earlier attempt wrote.
//  5. Descriptors come back ordered by index. The work directory belongs to
//     the caller, who removes it once analysis is over.
//
// Prepare covers steps 1 and 2 so a caller can plan against the probed
// duration before Split runs steps 3 and 4; Chunk does both.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"golang.org/x/sync/errgroup"
)

// DefaultVideoMIMEType is used when the source cannot be sniffed.
const DefaultVideoMIMEType = "video/mp4"

// BlobStore is the object storage the chunker reads sources from and writes
// segments to.
type BlobStore interface {
	Upload(ctx context.Context, localPath string, key string, contentType string) (string, error)
	Download(ctx context.Context, uri string, localPath string) error
	Delete(ctx context.Context, uri string) error
}

// ChunkRequest describes one chunking run.
type ChunkRequest struct {
	VideoID       string
	MediaRef      string  // Local path or gs:// URI.
	Duration      float64 // Known duration; <= 0 uses the probed value.
	ChunkDuration float64
	Overlap       float64
}

// ChunkSet is the result of a chunking run.
type ChunkSet struct {
	Chunks    []model.ChunkDescriptor
	WorkDir   string
	MIMEType  string
	Duration  float64
	FrameRate float64
}

// Cleanup removes the local work directory. It is safe to call more than once.
func (s *ChunkSet) Cleanup() error {
	if s == nil || s.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(s.WorkDir)
}

// ChunkerConfig holds the chunker's tunables.
type ChunkerConfig struct {
	Prefix    string  // Object key prefix for segments and keyframes.
	WorkDir   string  // Parent for per-run work directories; empty uses os.TempDir.
	Workers   int     // Concurrent extract+upload workers.
	TailFloor float64 // See PlanWindows; <= 0 means DefaultTailFloor.
}

// Chunker is the MediaChunker.
type Chunker struct {
	prober    Prober
	extractor Extractor
	store     BlobStore
	config    ChunkerConfig
	logger    *slog.Logger
}

// NewChunker creates a chunker.
//
// Inputs:
//   - prober: Reads duration and frame rate (usually FFProbe).
//   - extractor: Cuts segments and keyframes (usually FFMpeg).
//   - store: Object storage for sources, segments and keyframes.
//   - config: Key prefix, scratch space, worker count and tail floor.
//   - logger: Structured logger; nil uses slog.Default().
func NewChunker(prober Prober, extractor Extractor, store BlobStore, config ChunkerConfig, logger *slog.Logger) *Chunker {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.TailFloor <= 0 {
		config.TailFloor = DefaultTailFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{prober: prober, extractor: extractor, store: store, config: config, logger: logger}
}

// SegmentKey is the object key of a chunk's media segment.
func (c *Chunker) SegmentKey(videoID string, index int) string {
	return path.Join(c.config.Prefix, videoID, "chunks", fmt.Sprintf("%04d.mp4", index))
}

// KeyframeKey is the object key of a chunk's keyframe.
func (c *Chunker) KeyframeKey(videoID string, index int) string {
	return path.Join(c.config.Prefix, videoID, "keyframes", fmt.Sprintf("%04d.jpg", index))
}

// Source is a resolved, probed source video ready to be split.
type Source struct {
	VideoID   string
	MediaRef  string
	LocalPath string
	WorkDir   string
	MIMEType  string
	Duration  float64
	FrameRate float64
}

// Cleanup removes the local work directory. It is safe to call more than once.
func (s *Source) Cleanup() error {
	if s == nil || s.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(s.WorkDir)
}

// Prepare resolves mediaRef to a local file in a fresh work directory, sniffs
// its type and probes duration and frame rate. A container without a video
// stream is unreadable.
//
// Outputs:
//   - *Source: The probed source. The caller owns its work directory.
//   - error: model.ErrInvalidRequest, model.ErrMediaUnreadable or
//     model.ErrStorage. The work directory is already removed on error.
func (c *Chunker) Prepare(ctx context.Context, videoID string, mediaRef string) (src *Source, err error) {
	if strings.TrimSpace(videoID) == "" || strings.TrimSpace(mediaRef) == "" {
		return nil, fmt.Errorf("%w: video id and media reference are required", model.ErrInvalidRequest)
	}
	workDir, err := os.MkdirTemp(c.config.WorkDir, "chunks-"+safeName(videoID)+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", model.ErrStorage, err)
	}
	src = &Source{VideoID: videoID, MediaRef: mediaRef, WorkDir: workDir}
	defer func() {
		if err != nil {
			_ = src.Cleanup()
			src = nil
		}
	}()

	src.LocalPath, err = c.resolveSource(ctx, mediaRef, workDir)
	if err != nil {
		return src, err
	}
	src.MIMEType = DetectMIMEType(src.LocalPath)

	probe, err := c.prober.Probe(ctx, src.LocalPath)
	if err != nil {
		return src, fmt.Errorf("%w: %s: %v", model.ErrMediaUnreadable, mediaRef, err)
	}
	if !probe.HasVideo() {
		return src, fmt.Errorf("%w: %s: no video stream", model.ErrMediaUnreadable, mediaRef)
	}
	src.FrameRate = probe.FrameRate()
	src.Duration = probe.DurationSeconds()
	if src.Duration <= 0 {
		return src, fmt.Errorf("%w: %s: no duration", model.ErrMediaUnreadable, mediaRef)
	}
	return src, nil
}

// Split plans windows over the source's duration, then extracts and uploads
// each window's segment and keyframe. Descriptors are ordered by index.
func (c *Chunker) Split(ctx context.Context, src *Source, chunkDuration float64, overlap float64) ([]model.ChunkDescriptor, error) {
	windows, err := PlanWindows(src.Duration, chunkDuration, overlap, c.config.TailFloor)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "chunking media", "video_id", src.VideoID, "duration", src.Duration,
		"chunks", len(windows), "chunk_duration", chunkDuration, "overlap", overlap)

	chunks := make([]model.ChunkDescriptor, len(windows))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.config.Workers)
	for _, w := range windows {
		group.Go(func() error {
			chunk, err := c.extractWindow(groupCtx, src.VideoID, src.LocalPath, src.WorkDir, w)
			if err != nil {
				return err
			}
			chunks[w.Index] = chunk
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Chunk prepares and splits the request's media in one call.
//
// Outputs:
//   - *ChunkSet: Ordered descriptors plus the work directory to clean up.
//   - error: model.ErrInvalidChunking, model.ErrMediaUnreadable or
//     model.ErrStorage. The work directory is already removed on error.
func (c *Chunker) Chunk(ctx context.Context, req ChunkRequest) (*ChunkSet, error) {
	if err := ValidateChunking(req.ChunkDuration, req.Overlap); err != nil {
		return nil, err
	}
	src, err := c.Prepare(ctx, req.VideoID, req.MediaRef)
	if err != nil {
		return nil, err
	}
	if req.Duration > 0 {
		src.Duration = req.Duration
	}
	chunks, err := c.Split(ctx, src, req.ChunkDuration, req.Overlap)
	if err != nil {
		_ = src.Cleanup()
		return nil, err
	}
	return &ChunkSet{
		Chunks:    chunks,
		WorkDir:   src.WorkDir,
		MIMEType:  src.MIMEType,
		Duration:  src.Duration,
		FrameRate: src.FrameRate,
	}, nil
}

func (c *Chunker) resolveSource(ctx context.Context, ref string, workDir string) (string, error) {
	if strings.HasPrefix(ref, "gs://") {
		local := filepath.Join(workDir, "source"+path.Ext(ref))
		if err := c.store.Download(ctx, ref, local); err != nil {
			return "", fmt.Errorf("%w: download %s: %v", model.ErrMediaUnreadable, ref, err)
		}
		return local, nil
	}
	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMediaUnreadable, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", model.ErrMediaUnreadable, ref)
	}
	return ref, nil
}

func (c *Chunker) extractWindow(ctx context.Context, videoID string, source string, workDir string, w Window) (model.ChunkDescriptor, error) {
	chunk := model.ChunkDescriptor{
		ChunkID:   model.NewChunkID(videoID, w.Start, w.End),
		VideoID:   videoID,
		Index:     w.Index,
		StartTime: w.Start,
		EndTime:   w.End,
		Duration:  w.Duration(),
		MIMEType:  DefaultVideoMIMEType,
	}

	segment := filepath.Join(workDir, fmt.Sprintf("chunk_%04d.mp4", w.Index))
	if err := c.extractor.ExtractSegment(ctx, source, segment, w.Start, w.Duration()); err != nil {
		return chunk, fmt.Errorf("%w: chunk %d: %v", model.ErrMediaUnreadable, w.Index, err)
	}
	uri, err := c.store.Upload(ctx, segment, c.SegmentKey(videoID, w.Index), chunk.MIMEType)
	if err != nil {
		return chunk, fmt.Errorf("%w: upload chunk %d: %v", model.ErrStorage, w.Index, err)
	}
	chunk.SegmentURI = uri

	keyframe := filepath.Join(workDir, fmt.Sprintf("keyframe_%04d.jpg", w.Index))
	if err := c.extractor.ExtractKeyframe(ctx, source, keyframe, w.Start+w.Duration()/2); err != nil {
		// A chunk without a still is still analysable.
		c.logger.WarnContext(ctx, "keyframe extraction failed", "video_id", videoID, "chunk", w.Index, "error", err)
		return chunk, nil
	}
	kfURI, err := c.store.Upload(ctx, keyframe, c.KeyframeKey(videoID, w.Index), "image/jpeg")
	if err != nil {
		return chunk, fmt.Errorf("%w: upload keyframe %d: %v", model.ErrStorage, w.Index, err)
	}
	chunk.KeyframeURI = kfURI
	return chunk, nil
}

// DetectMIMEType sniffs the file header. Unknown or unreadable files report
// DefaultVideoMIMEType.
func DetectMIMEType(localPath string) string {
	kind, err := filetype.MatchFile(localPath)
	if err != nil || kind == filetype.Unknown {
		return DefaultVideoMIMEType
	}
	return kind.MIME.Value
}

// IsVideoFile reports whether the file header is a known video container.
func IsVideoFile(localPath string) bool {
	file, err := os.Open(localPath)
	if err != nil {
		return false
	}
	defer file.Close()
	head := make([]byte, 261)
	n, _ := file.Read(head)
	if n == 0 {
		return false
	}
	return filetype.IsVideo(head[:n])
}

func safeName(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, v)
}
