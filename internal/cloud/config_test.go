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

package cloud_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	test "github.com/jaycherian/gcp-go-media-orchestrator/internal/testutil"
	"github.com/zeebo/assert"
)

// TestRepositoryConfig loads configs/.env.toml with the test runtime layered
// over it.
func TestRepositoryConfig(t *testing.T) {
	config, err := test.GetConfig()
	assert.NoError(t, err)

	assert.Equal(t, config.Application.Name, "media-orchestrator")
	assert.Equal(t, config.Application.LogLevel, "debug")
	assert.False(t, config.Application.TelemetryEnabled)
	assert.Equal(t, config.Mongo.Database, "media_orchestrator_test")
	assert.Equal(t, config.Orchestration.ChunkWorkers, 2)
	assert.Equal(t, config.Orchestration.MaxRetries, 3)
	assert.Equal(t, config.AdapterTimeout(), 300*time.Second)

	assert.True(t, config.Providers["gemini"].Enabled)
	assert.False(t, config.Providers["speech"].Enabled)
	assert.Equal(t, config.Providers["gemini"].AgentModel, "chunk-analysis")
	assert.Equal(t, config.AgentModels["chunk-analysis"].OutputFormat, "application/json")
	assert.True(t, strings.Contains(config.PromptTemplates.ChunkAnalysisPrompt, "{{.INTENT}}"))

	tasks := config.TopicSubscriptions["analysis-tasks"]
	assert.Equal(t, tasks.MaxDeliveryAttempts, 5)
	assert.Equal(t, tasks.Timeout(), time.Hour)
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "prod")

	writeConfig(t, dir, ".env.toml", `
[application]
name = "base"
http_port = 9000

[orchestration]
max_retries = 5
`)
	writeConfig(t, dir, ".env.prod.toml", `
[application]
name = "prod"
`)

	config := cloud.NewConfig()
	assert.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, config.Application.Name, "prod")
	assert.Equal(t, config.Application.HTTPPort, 9000)
	assert.Equal(t, config.Orchestration.MaxRetries, 5)
	// Defaults survive keys neither file sets.
	assert.Equal(t, config.Orchestration.FFmpegPath, "ffmpeg")
	assert.Equal(t, config.Application.LogLevel, "info")
}

func TestLoadConfigMissingFiles(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, t.TempDir())
	t.Setenv(cloud.EnvConfigRuntime, "nowhere")

	config := cloud.NewConfig()
	assert.NoError(t, cloud.LoadConfig(config))
	assert.Equal(t, config.Application.HTTPPort, 8080)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "test")
	writeConfig(t, dir, ".env.test.toml", "[application\nname = ")

	err := cloud.LoadConfig(cloud.NewConfig())
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), ".env.test.toml"))
}

func TestTopicSubscriptionTimeout(t *testing.T) {
	assert.Equal(t, cloud.TopicSubscription{}.Timeout(), time.Duration(0))
	assert.Equal(t, cloud.TopicSubscription{TimeoutInSeconds: 90}.Timeout(), 90*time.Second)
}
