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

// Package main is the entry point of the orchestrator. It serves the REST
// API for submitting and following analysis jobs and runs the Pub/Sub
// listeners that execute them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/api"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	closeLog, err := telemetry.SetupLogging(telemetry.LogOptions{
		Level: config.Application.LogLevel,
		File:  config.Application.LogFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	// Cancelling ctx stops the Pub/Sub listeners.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Error("failed to flush telemetry", "error", err)
		}
	}()

	if err := InitState(ctx); err != nil {
		if state.cloud != nil {
			state.cloud.Close()
		}
		return fmt.Errorf("initialising state: %w", err)
	}
	defer state.cloud.Close()
	slog.Info("state initialised")

	r := gin.Default()
	r.MaxMultipartMemory = 64 << 20
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		api.AnalysisRouter(apiV1, state.orchestration)
		api.JobRouter(apiV1, state.orchestration)
		api.VideoRouter(apiV1, state.media)
		api.ProviderRouter(apiV1, state.media)
		api.FileUpload(apiV1, state.uploads)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Application.HTTPPort),
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	slog.Info("server ready", "port", config.Application.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("listening: %w", err)
	}
	slog.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	// Jobs running in-process finish their current attempt.
	state.orchestration.Wait()
	return nil
}
