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

// Package orchestrator fans every chunk out to the adapters selected by a plan
// and folds their answers back into one MergedChunkResult per chunk.
//
// Logic Flow:
//  1. Run walks the chunks in order, handing each to a bounded pool of
//     workers (one by default, so chunks are analysed sequentially).
//  2. Before every dispatch Run asks ShouldStop; once it reports true no
//     further chunk is started and ErrJobCancelled is returned after the
//     in-flight chunks finish.
//  3. AnalyzeChunk calls every distinct adapter of the plan concurrently. An
//     adapter failure is logged and recorded on the merged result, never
//     returned.
//  4. The per-adapter results are merged with MergeResults.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"golang.org/x/sync/errgroup"
)

// RunOptions tune a Run.
type RunOptions struct {
	// Workers bounds the number of chunks in flight. Values below one mean
	// one.
	Workers int
	// ShouldStop is consulted before each chunk is dispatched.
	ShouldStop func() bool
	// OnChunkDone is called after each chunk with the number of chunks
	// completed so far. With more than one worker it may be called
	// concurrently, but the completed count it receives is unique per call.
	OnChunkDone func(completed int, total int, result *model.MergedChunkResult)
}

// Orchestrator is the ProviderOrchestrator. It is stateless between calls.
type Orchestrator struct {
	registry       *providers.Registry
	adapterTimeout time.Duration
	logger         *slog.Logger
}

// New creates an orchestrator over registry. A zero adapterTimeout leaves
// adapter calls bounded only by the caller's context and the adapter's own
// polling cap.
func New(registry *providers.Registry, adapterTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, adapterTimeout: adapterTimeout, logger: logger}
}

// outcome is one adapter's answer for one chunk.
type outcome struct {
	name    string
	result  *model.ChunkAnalysisResult
	err     error
	elapsed time.Duration
}

// AnalyzeChunk invokes every adapter the plan selected for chunk and merges
// the answers. The returned result is never nil; failed adapters are listed
// in FailedProviders.
func (o *Orchestrator) AnalyzeChunk(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) *model.MergedChunkResult {
	names := plan.Adapters()
	outcomes := make([]outcome, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = o.callAdapter(ctx, name, chunk, plan)
			// Failures travel in the outcome so every adapter is awaited.
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*model.ChunkAnalysisResult, 0, len(outcomes))
	failures := make(map[string]error)
	for _, oc := range outcomes {
		if oc.err != nil {
			o.logger.Warn("adapter failed",
				"adapter", oc.name,
				"chunk", chunk.Index,
				"video_id", chunk.VideoID,
				"elapsed", oc.elapsed,
				"error", oc.err)
			failures[oc.name] = oc.err
			continue
		}
		results = append(results, oc.result)
	}

	merged := MergeResults(chunk, results, failures)
	if len(names) > 0 && !merged.Succeeded() {
		o.logger.Error("no adapter succeeded for chunk", "chunk", chunk.Index, "video_id", chunk.VideoID)
	}
	return merged
}

func (o *Orchestrator) callAdapter(ctx context.Context, name string, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (oc outcome) {
	oc.name = name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			oc.result = nil
			oc.err = &model.ProviderError{Provider: name, Err: fmt.Errorf("%w: panic: %v", model.ErrProviderFailed, r)}
		}
		oc.elapsed = time.Since(start)
	}()

	adapter, ok := o.registry.Get(name)
	if !ok {
		oc.err = &model.ProviderError{Provider: name, Err: model.ErrProviderUnavailable}
		return oc
	}

	callCtx := ctx
	if o.adapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.adapterTimeout)
		defer cancel()
	}

	result, err := adapter.Analyze(callCtx, chunk, plan)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &model.ProviderError{Provider: name, Err: fmt.Errorf("%w: %v", model.ErrProviderTimeout, err)}
		}
		oc.err = err
		return oc
	}
	if result == nil {
		result = model.NewChunkAnalysisResult(chunk.ChunkID, name)
	}
	if result.Provider == "" {
		result.Provider = name
	}
	if result.ProcessingTime == 0 {
		result.ProcessingTime = time.Since(start)
	}
	oc.result = result
	return oc
}

// Run analyses chunks and returns one merged result per chunk in input
// order. When ShouldStop reports true, or ctx ends, the chunks already in
// flight finish and Run returns a nil slice with the stop reason.
func (o *Orchestrator) Run(ctx context.Context, chunks []model.ChunkDescriptor, plan *model.AnalysisPlan, opts RunOptions) ([]*model.MergedChunkResult, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]*model.MergedChunkResult, len(chunks))
	slots := make(chan struct{}, workers)
	var completed atomic.Int64
	var g errgroup.Group
	var stopErr error

dispatch:
	for i, chunk := range chunks {
		// Take a slot first so ShouldStop is asked as late as possible.
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			stopErr = ctx.Err()
			break dispatch
		}
		if opts.ShouldStop != nil && opts.ShouldStop() {
			<-slots
			stopErr = model.ErrJobCancelled
			break dispatch
		}
		if err := ctx.Err(); err != nil {
			<-slots
			stopErr = err
			break dispatch
		}

		g.Go(func() error {
			defer func() { <-slots }()
			merged := o.AnalyzeChunk(ctx, chunk, plan)
			results[i] = merged
			n := int(completed.Add(1))
			if opts.OnChunkDone != nil {
				opts.OnChunkDone(n, len(chunks), merged)
			}
			return nil
		})
	}
	_ = g.Wait()

	if stopErr != nil {
		o.logger.Info("chunk dispatch stopped",
			"completed", completed.Load(),
			"total", len(chunks),
			"reason", stopErr)
		return nil, stopErr
	}
	return results, nil
}
