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

package providers

import (
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Default polling limits for annotation operations.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 60
)

// PolicyFromConfig builds the fixed poll policy for a provider.
func PolicyFromConfig(pc cloud.ProviderConfig) BackoffPolicy {
	interval := DefaultPollInterval
	if pc.PollIntervalSeconds > 0 {
		interval = time.Duration(pc.PollIntervalSeconds * float64(time.Second))
	}
	attempts := DefaultPollAttempts
	if pc.MaxPollAttempts > 0 {
		attempts = pc.MaxPollAttempts
	}
	return FixedPolicy(attempts, interval)
}

// DefaultFactories returns a factory for each built-in adapter, wired to the
// configured clients. Disabled or unconfigured providers fail construction
// and are left out of the registry.
func DefaultFactories(config *cloud.Config, clients *cloud.ServiceClients) []Factory {
	return []Factory{
		func() (Adapter, error) {
			pc, err := enabled(config, GeminiName)
			if err != nil {
				return nil, err
			}
			modelKey := pc.AgentModel
			if modelKey == "" {
				modelKey = "chunk-analysis"
			}
			return NewGeminiAdapter(clients.AgentModels[modelKey], config.PromptTemplates.ChunkAnalysisPrompt,
				GeminiCapability(pc.CostPerFrame, pc.MaxFramesPerCall))
		},
		func() (Adapter, error) {
			pc, err := enabled(config, VideoIntelligenceName)
			if err != nil {
				return nil, err
			}
			if clients.VideoIntelligenceClient == nil {
				return nil, fmt.Errorf("%s: %w: no client", VideoIntelligenceName, model.ErrProviderUnavailable)
			}
			return NewVideoIntelligenceAdapter(ClientAnnotator{Client: clients.VideoIntelligenceClient}, PolicyFromConfig(pc),
				VideoIntelligenceCapability(pc.CostPerFrame, pc.MaxFramesPerCall))
		},
		func() (Adapter, error) {
			pc, err := enabled(config, SpeechName)
			if err != nil {
				return nil, err
			}
			if clients.VideoIntelligenceClient == nil {
				return nil, fmt.Errorf("%s: %w: no client", SpeechName, model.ErrProviderUnavailable)
			}
			return NewSpeechAdapter(ClientAnnotator{Client: clients.VideoIntelligenceClient}, PolicyFromConfig(pc),
				SpeechCapability(pc.CostPerMinute), pc.LanguageCode)
		},
	}
}

func enabled(config *cloud.Config, name string) (cloud.ProviderConfig, error) {
	pc, ok := config.Providers[name]
	if !ok || !pc.Enabled {
		return pc, fmt.Errorf("%s: %w: disabled", name, model.ErrProviderUnavailable)
	}
	return pc, nil
}
