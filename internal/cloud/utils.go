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
// This file contains general-purpose helpers: hierarchical configuration
// loading and a resilient multi-modal call against a Gemini model.
//
// Functions:
//   - LoadConfig: Reads the base TOML file, then overlays the runtime specific
//     file (e.g. .env.local.toml). Directory and runtime come from the
//     GCP_CONFIG_PREFIX and GCP_RUNTIME environment variables.
//   - GenerateMultiModalResponse: Calls the model with bounded retries and
//     records token usage and retry metrics.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").
	MaxRetries          = 3                   // The maximum number of times to retry a failed model call.
)

// RetryBackoff is the base delay between model call retries. Attempt n waits
// n times this value.
var RetryBackoff = 2 * time.Second

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig provides a hierarchical configuration loading mechanism. It
// first decodes the base file and then decodes the environment specific file
// over it, so later values win.
//
// Inputs:
//   - baseConfig: A pointer to the configuration struct to populate.
//
// Outputs:
//   - error: A decode error naming the offending file. Missing files are not errors.
func LoadConfig(baseConfig interface{}) error {
	configurationFilePrefix := os.Getenv(EnvConfigFilePrefix)
	if len(configurationFilePrefix) > 0 && !strings.HasSuffix(configurationFilePrefix, string(os.PathSeparator)) {
		configurationFilePrefix = configurationFilePrefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	baseConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension
	slog.Info("loading configuration", "base", baseConfigFileName, "runtime", envConfigFileName)

	if fileExists(baseConfigFileName) {
		if _, err := toml.DecodeFile(baseConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode base configuration file %s: %w", baseConfigFileName, err)
		}
	}

	if fileExists(envConfigFileName) {
		if _, err := toml.DecodeFile(envConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode environment configuration file %s: %w", envConfigFileName, err)
		}
	}
	return nil
}

// GenerateMultiModalResponse executes a multi-modal request against a
// Generative AI model, retrying up to MaxRetries times with a linear backoff.
//
// Inputs:
//   - ctx: The context for the request; cancellation stops retries.
//   - inputTokenCounter: Counter for prompt tokens used.
//   - outputTokenCounter: Counter for response tokens generated.
//   - retryCounter: Counter for retries.
//   - model: The rate-limited model to call.
//   - content: The prompt contents (text, video file data, ...).
//
// Outputs:
//   - string: The concatenated text of every candidate, stripped of a ```json fence.
//   - error: The last error once retries are exhausted.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	model *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (value string, err error) {

	var resp *genai.GenerateContentResponse
	for attempt := 0; ; attempt++ {
		resp, err = model.GenerateContent(ctx, content)
		if err == nil {
			break
		}
		if attempt >= MaxRetries || ctx.Err() != nil {
			return "", err
		}
		if retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}
		slog.WarnContext(ctx, "model call failed, retrying", "model", model.ModelName, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * RetryBackoff):
		}
	}

	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return StripJSONFence(sb.String()), nil
}

// StripJSONFence removes a markdown code fence around a JSON document.
func StripJSONFence(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimPrefix(value, "```")
	value = strings.TrimSuffix(value, "```")
	return strings.TrimSpace(value)
}
