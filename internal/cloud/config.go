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

// Package cloud provides components for interacting with Google Cloud services.
// This file defines the application's configuration structure. The fields map
// one to one onto the layered TOML files in the configs directory
// (.env.toml, then .env.<runtime>.toml), which LoadConfig decodes.
//
// Structs:
//   - Config: The root configuration object.
//   - Storage, BigQueryDataSource, MongoDataSource, Orchestration: section structs.
//   - ProviderConfig: per analysis engine switches, costs and polling limits.
//   - VertexAiLLMModel: Gemini model parameters and rate limit.
//   - TopicSubscription: Pub/Sub wiring for the task-execution layer.
package cloud

import (
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings relaxes the default blocking thresholds. Film and
// surveillance footage routinely contains violence that would otherwise
// suppress whole chunks.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// BigQueryDataSource names the analytics export destination.
type BigQueryDataSource struct {
	DatasetName string `toml:"dataset"`     // The BigQuery dataset.
	SceneTable  string `toml:"scene_table"` // The table scenes are exported to.
	Enabled     bool   `toml:"enabled"`     // Whether completed jobs export scenes.
}

// MongoDataSource configures the document store.
type MongoDataSource struct {
	URI            string `toml:"uri"`
	Database       string `toml:"database"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PromptTemplates holds Go text/template sources for model prompts.
type PromptTemplates struct {
	ChunkAnalysisPrompt string `toml:"chunk_analysis"` // Prompt for one chunk, see providers.GeminiAdapter.
}

// VertexAiLLMModel configures one Gemini model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"` // Requests per second, also the burst size.
}

// TopicSubscription wires a Pub/Sub topic and subscription to a listener.
type TopicSubscription struct {
	Name                string `toml:"name"`                  // The subscription id.
	Topic               string `toml:"topic"`                 // The topic id tasks are published to.
	DeadLetterTopic     string `toml:"dead_letter_topic"`     // The dead letter topic configured on the subscription.
	TimeoutInSeconds    int    `toml:"timeout_in_seconds"`    // Wall-clock ceiling for one delivery.
	MaxDeliveryAttempts int    `toml:"max_delivery_attempts"` // Deliveries after which a task is failed and acked.
}

// Timeout returns the per delivery wall-clock ceiling.
func (t TopicSubscription) Timeout() time.Duration {
	if t.TimeoutInSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutInSeconds) * time.Second
}

// Storage configures object storage.
type Storage struct {
	InputBucket string `toml:"input_bucket"` // Bucket uploads land in.
	ChunkBucket string `toml:"chunk_bucket"` // Bucket for segments and keyframes.
	ChunkPrefix string `toml:"chunk_prefix"` // Object prefix for segments and keyframes.
	WorkDir     string `toml:"work_dir"`     // Local scratch space; empty uses os.TempDir.
}

// Orchestration holds the coordinator's tunables.
type Orchestration struct {
	MaxRetries               int     `toml:"max_retries"`
	SceneMergeEpsilonSeconds float64 `toml:"scene_merge_epsilon_seconds"`
	TailFloorSeconds         float64 `toml:"tail_floor_seconds"`
	ChunkWorkers             int     `toml:"chunk_workers"`
	AdapterTimeoutSeconds    int     `toml:"adapter_timeout_seconds"`
	DefaultCostLimit         float64 `toml:"default_cost_limit"`
	SecondsPerChunkEstimate  float64 `toml:"seconds_per_chunk_estimate"`
	FFmpegPath               string  `toml:"ffmpeg_path"`
	FFprobePath              string  `toml:"ffprobe_path"`
	AutoAnalyzeIntent        string  `toml:"auto_analyze_intent"` // When set, uploads to the input bucket are analysed with this intent.
}

// ProviderConfig configures one analysis engine.
type ProviderConfig struct {
	Enabled             bool    `toml:"enabled"`
	CostPerFrame        float64 `toml:"cost_per_frame"`
	CostPerMinute       float64 `toml:"cost_per_minute"`
	MaxFramesPerCall    int     `toml:"max_frames_per_call"`
	PollIntervalSeconds float64 `toml:"poll_interval_seconds"`
	MaxPollAttempts     int     `toml:"max_poll_attempts"`
	AgentModel          string  `toml:"agent_model"`   // Key into Config.AgentModels.
	LanguageCode        string  `toml:"language_code"` // Speech only.
}

// Config is the root configuration object.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		ThreadPoolSize            int    `toml:"thread_pool_size"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		HTTPPort                  int    `toml:"http_port"`
		LogLevel                  string `toml:"log_level"`         // debug, info, warn or error.
		LogFile                   string `toml:"log_file"`          // Optional copy of the log stream.
		TelemetryEnabled          bool   `toml:"telemetry_enabled"` // Export traces and metrics to Google Cloud.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	Mongo              MongoDataSource              `toml:"mongo"`
	Orchestration      Orchestration                `toml:"orchestration"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	Providers          map[string]ProviderConfig    `toml:"providers"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`
}

// NewConfig returns a Config with its maps initialised and orchestration
// defaults applied; TOML decoding overwrites any of them.
func NewConfig() *Config {
	c := &Config{
		Providers:          make(map[string]ProviderConfig),
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.ThreadPoolSize = 4
	c.Application.HTTPPort = 8080
	c.Application.LogLevel = "info"
	c.Orchestration = Orchestration{
		MaxRetries:               3,
		SceneMergeEpsilonSeconds: 1.0,
		TailFloorSeconds:         3.0,
		ChunkWorkers:             1,
		AdapterTimeoutSeconds:    300,
		SecondsPerChunkEstimate:  20,
		FFmpegPath:               "ffmpeg",
		FFprobePath:              "ffprobe",
	}
	c.Mongo.TimeoutSeconds = 10
	return c
}

// AdapterTimeout returns the per adapter call ceiling.
func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Orchestration.AdapterTimeoutSeconds) * time.Second
}
