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

// This file defines the vision-language adapter. Each chunk segment is sent
// to Gemini together with a prompt rendered from a Go template: the user's
// intent, the goals routed to this adapter, the adapter's custom
// instructions, the chunk window and a few-shot JSON example. The JSON
// answer is decoded and its chunk relative times are shifted into video time.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// DefaultChunkPrompt is used when no chunk_analysis template is configured.
const DefaultChunkPrompt = `You are analysing one segment of a longer video.
The segment covers {{.TIME_START}}s to {{.TIME_END}}s of the full video ({{.DURATION}}s long).
The viewer asked: "{{.INTENT}}"
Focus on: {{.GOALS}}.
{{if .INSTRUCTIONS}}Additional instructions: {{.INSTRUCTIONS}}
{{end}}Report every time in seconds relative to the start of this segment.
Look at no more than {{.MAX_FRAMES}} frames.
Answer with a single JSON document shaped like this example:
{{.EXAMPLE_JSON}}`

// GeminiAdapter analyses chunks with a Gemini model on Vertex AI.
type GeminiAdapter struct {
	model          *cloud.QuotaAwareGenerativeAIModel
	promptTemplate *template.Template
	capability     model.ProviderCapability
	tracer         trace.Tracer

	inputTokenCounter  metric.Int64Counter
	outputTokenCounter metric.Int64Counter
	retryCounter       metric.Int64Counter
}

// GeminiCapability is the adapter's default capability sheet.
func GeminiCapability(costPerFrame float64, maxFrames int) model.ProviderCapability {
	return model.ProviderCapability{
		Goals: []model.AnalysisGoal{
			model.GoalSceneDetection,
			model.GoalObjectDetection,
			model.GoalActionDetection,
			model.GoalCharacterTracking,
			model.GoalEmotionAnalysis,
			model.GoalPlotSummary,
			model.GoalTechnicalAnalysis,
			model.GoalCustomQuery,
		},
		CostPerFrame:               costPerFrame,
		MaxFramesPerCall:           maxFrames,
		SupportsCustomInstructions: true,
	}
}

// NewGeminiAdapter creates the adapter.
//
// Inputs:
//   - generativeModel: The rate-limited model.
//   - prompt: The chunk prompt template source; empty uses DefaultChunkPrompt.
//   - capability: The capability sheet, usually GeminiCapability.
//
// Outputs:
//   - *GeminiAdapter: The adapter.
//   - error: model.ErrProviderUnavailable when the model is missing, or a
//     template parse error.
func NewGeminiAdapter(generativeModel *cloud.QuotaAwareGenerativeAIModel, prompt string, capability model.ProviderCapability) (*GeminiAdapter, error) {
	if !generativeModel.Usable() {
		return nil, fmt.Errorf("%s: %w: no generative model configured", GeminiName, model.ErrProviderUnavailable)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultChunkPrompt
	}
	tmpl, err := template.New(GeminiName).Parse(prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: parse prompt: %w", GeminiName, err)
	}

	a := &GeminiAdapter{
		model:          generativeModel,
		promptTemplate: tmpl,
		capability:     capability,
		tracer:         otel.Tracer("providers/" + GeminiName),
	}
	meter := otel.Meter("providers/" + GeminiName)
	a.inputTokenCounter, _ = meter.Int64Counter(GeminiName + ".token.input")
	a.outputTokenCounter, _ = meter.Int64Counter(GeminiName + ".token.output")
	a.retryCounter, _ = meter.Int64Counter(GeminiName + ".retry")
	return a, nil
}

func (a *GeminiAdapter) Name() string { return GeminiName }

func (a *GeminiAdapter) Capabilities() model.ProviderCapability { return a.capability }

// EstimateCost bills frames.
func (a *GeminiAdapter) EstimateCost(durationSeconds float64, plan *model.AnalysisPlan) float64 {
	return FrameCost(a.capability, durationSeconds, plan)
}

// Prompt renders the chunk prompt.
func (a *GeminiAdapter) Prompt(chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (string, error) {
	example, _ := json.Marshal(model.GetExampleChunkFindings())

	goals := plan.GoalsFor(GeminiName)
	if len(goals) == 0 {
		goals = plan.Goals
	}
	labels := make([]string, len(goals))
	for i, g := range goals {
		labels[i] = g.Label()
	}

	vocabulary := map[string]string{
		"INTENT":       plan.UserIntent,
		"GOALS":        strings.Join(labels, ", "),
		"INSTRUCTIONS": plan.CustomInstructions[GeminiName],
		"TIME_START":   fmt.Sprintf("%.2f", chunk.StartTime),
		"TIME_END":     fmt.Sprintf("%.2f", chunk.EndTime),
		"DURATION":     fmt.Sprintf("%.2f", plan.DurationSeconds),
		"MAX_FRAMES":   fmt.Sprintf("%d", FramesPerChunk(a.capability, plan)),
		"EXAMPLE_JSON": string(example),
	}
	var doc bytes.Buffer
	if err := a.promptTemplate.Execute(&doc, vocabulary); err != nil {
		return "", err
	}
	return doc.String(), nil
}

// Analyze sends the chunk segment and prompt to the model.
func (a *GeminiAdapter) Analyze(ctx context.Context, chunk model.ChunkDescriptor, plan *model.AnalysisPlan) (*model.ChunkAnalysisResult, error) {
	started := time.Now()
	spanCtx, span := a.tracer.Start(ctx, "gemini_analyze_chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("chunk_id", chunk.ChunkID),
		attribute.Int("index", chunk.Index),
		attribute.Float64("start", chunk.StartTime),
		attribute.Float64("end", chunk.EndTime),
	)

	prompt, err := a.Prompt(chunk, plan)
	if err != nil {
		span.SetStatus(codes.Error, "prompt")
		return nil, &model.ProviderError{Provider: GeminiName, Err: fmt.Errorf("%w: render prompt: %v", model.ErrProviderFailed, err)}
	}

	contents := []*genai.Content{
		{Parts: []*genai.Part{
			{Text: prompt},
			{FileData: &genai.FileData{
				FileURI:  chunk.SegmentURI,
				MIMEType: chunk.MIMEType,
			}},
		},
			Role: "user"},
	}

	out, err := cloud.GenerateMultiModalResponse(spanCtx, a.inputTokenCounter, a.outputTokenCounter, a.retryCounter, a.model, contents)
	if err != nil {
		span.SetStatus(codes.Error, "generate")
		return nil, &model.ProviderError{Provider: GeminiName, Err: fmt.Errorf("%w: %v", model.ErrProviderFailed, err)}
	}

	result, err := DecodeChunkFindings(out, chunk, GeminiName)
	if err != nil {
		span.SetStatus(codes.Error, "decode")
		return nil, &model.ProviderError{Provider: GeminiName, Err: err}
	}
	result.Cost = float64(FramesPerChunk(a.capability, plan)) * a.capability.CostPerFrame
	result.ProcessingTime = time.Since(started)
	result.Metadata["model"] = a.model.ModelName
	span.SetStatus(codes.Ok, "analysed")
	return result, nil
}

// DecodeChunkFindings turns a model's JSON answer into a result in absolute
// video time. Scenes whose shifted bounds collapse are dropped.
func DecodeChunkFindings(value string, chunk model.ChunkDescriptor, provider string) (*model.ChunkAnalysisResult, error) {
	result := model.NewChunkAnalysisResult(chunk.ChunkID, provider)
	value = cloud.StripJSONFence(value)
	if value == "" || value == "{}" {
		return result, nil
	}

	var findings model.ChunkFindings
	if err := json.Unmarshal([]byte(value), &findings); err != nil {
		return nil, fmt.Errorf("%w: decode findings: %v", model.ErrProviderFailed, err)
	}

	for _, s := range findings.Scenes {
		start, end := shiftSeconds(chunk, s.Start), shiftSeconds(chunk, s.End)
		if end <= start {
			continue
		}
		result.Scenes = append(result.Scenes, model.DetectedScene{
			StartTime:   start,
			EndTime:     end,
			Description: strings.TrimSpace(s.Description),
			Confidence:  clampConfidence(s.Confidence),
			Tags:        s.Tags,
			Provider:    provider,
		})
	}
	for _, o := range findings.Objects {
		if strings.TrimSpace(o.Label) == "" {
			continue
		}
		result.Objects = append(result.Objects, model.DetectedObject{
			Label:      strings.ToLower(strings.TrimSpace(o.Label)),
			FrameTime:  shiftSeconds(chunk, o.Time),
			Confidence: clampConfidence(o.Confidence),
			Provider:   provider,
		})
	}
	result.Captions = append(result.Captions, findings.Captions...)
	for k, v := range findings.Findings {
		result.Findings[k] = v
	}
	return result, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
