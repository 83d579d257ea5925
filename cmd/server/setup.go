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

// This file builds the application state: configuration, cloud clients, the
// document store, the adapter registry and the services the HTTP routes and
// task listeners share.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/media"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/planner"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/providers"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/services"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/workflow"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/store"
)

// StateManager holds everything built at startup.
type StateManager struct {
	config        *cloud.Config
	cloud         *cloud.ServiceClients
	orchestration *services.OrchestrationService
	media         *services.MediaService
	uploads       *cloud.GCSObjectStore
}

var state = &StateManager{}

// SetupOS defaults the configuration directory to ./configs and the runtime
// to "local" unless the environment already sets them.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads the layered configuration once.
func GetConfig() (*cloud.Config, error) {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			return nil, err
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			return nil, err
		}
		state.config = config
	}
	return state.config, nil
}

// InitState connects the cloud clients and wires the services.
//
// Logic Flow:
//  1. Cloud clients, including MongoDB, are created from config.
//  2. The Mongo repository's indexes are ensured; the partial unique index on
//     active jobs is what enforces one active job per video.
//  3. Every enabled adapter is constructed into the registry.
//  4. The chunker, planner, orchestrator and analysis workflow are built,
//     with BigQuery export when it is enabled.
//  5. Jobs are dispatched over Pub/Sub when the analysis-tasks subscription
//     names a topic, otherwise they run in-process.
func InitState(ctx context.Context) error {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = clients

	repo := store.NewMongoRepository(clients.MongoClient.Database(config.Mongo.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring mongo indexes: %w", err)
	}

	registry := providers.NewRegistry(slog.Default(), providers.DefaultFactories(config, clients)...)
	if registry.Len() == 0 {
		return errors.New("no analysis provider could be constructed; check [providers] in the configuration")
	}
	slog.Info("providers registered", "providers", registry.Available())

	signer := config.Application.SignerServiceAccountEmail
	chunkStore := cloud.NewGCSObjectStore(clients.StorageClient, clients.IAMClient, config.Storage.ChunkBucket, signer)
	chunker := media.NewChunker(
		media.FFProbe{Binary: config.Orchestration.FFprobePath},
		media.FFMpeg{Binary: config.Orchestration.FFmpegPath},
		chunkStore,
		media.ChunkerConfig{
			Prefix:    config.Storage.ChunkPrefix,
			WorkDir:   config.Storage.WorkDir,
			Workers:   config.Application.ThreadPoolSize,
			TailFloor: config.Orchestration.TailFloorSeconds,
		},
		nil,
	)

	deps := workflow.AnalysisDependencies{
		Chunker:           chunker,
		Planner:           planner.New(registry),
		Orchestrator:      orchestrator.New(registry, config.AdapterTimeout(), nil),
		Repository:        repo,
		ChunkWorkers:      config.Orchestration.ChunkWorkers,
		SceneMergeEpsilon: config.Orchestration.SceneMergeEpsilonSeconds,
	}
	var warehouse services.SceneReader
	if config.BigQueryDataSource.Enabled {
		exporter := store.NewBigQuerySceneExporter(clients.BiqQueryClient,
			config.BigQueryDataSource.DatasetName, config.BigQueryDataSource.SceneTable)
		deps.Exporter = exporter
		warehouse = exporter
	}

	var dispatcher services.Dispatcher
	if d, ok := clients.PubSubDispatchers[AnalysisTasksSubscription]; ok {
		dispatcher = d
	} else {
		slog.Warn("no analysis task topic configured; jobs run in-process")
	}

	state.orchestration = services.NewOrchestrationService(
		repo,
		deps.Planner,
		registry,
		workflow.NewAnalysisWorkflow(deps),
		dispatcher,
		services.Options{
			MaxRetries:              config.Orchestration.MaxRetries,
			DefaultCostLimit:        config.Orchestration.DefaultCostLimit,
			SecondsPerChunkEstimate: config.Orchestration.SecondsPerChunkEstimate,
			ChunkWorkers:            config.Orchestration.ChunkWorkers,
		},
		slog.Default(),
	)
	state.media = &services.MediaService{
		Repository: repo,
		Registry:   registry,
		Signer:     chunkStore,
		Warehouse:  warehouse,
	}
	state.uploads = cloud.NewGCSObjectStore(clients.StorageClient, clients.IAMClient, config.Storage.InputBucket, signer)

	SetupListeners(ctx, config, clients)
	return nil
}
