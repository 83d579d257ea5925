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

// Package model defines the data structures for the application. This file,
// `examples.go`, provides hardcoded example instances used for "few-shot"
// prompting. Embedding a concrete JSON example in the prompt keeps the
// model's output consistent and easy to decode.
package model

// ChunkFindings is the JSON document the vision-language model is asked to
// return for one chunk. Times are relative to the start of the chunk.
type ChunkFindings struct {
	Scenes   []ChunkFindingScene  `json:"scenes"`
	Objects  []ChunkFindingObject `json:"objects"`
	Captions []string             `json:"captions"`
	Findings map[string]any       `json:"findings"`
}

// ChunkFindingScene is a scene inside ChunkFindings.
type ChunkFindingScene struct {
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Tags        []string `json:"tags,omitempty"`
}

// ChunkFindingObject is an object sighting inside ChunkFindings.
type ChunkFindingObject struct {
	Label      string  `json:"label"`
	Time       float64 `json:"time"`
	Confidence float64 `json:"confidence"`
}

// GetExampleChunkFindings returns the example document shown to the model.
//
// Outputs:
//   - *ChunkFindings: A hardcoded, fully populated example.
func GetExampleChunkFindings() *ChunkFindings {
	return &ChunkFindings{
		Scenes: []ChunkFindingScene{
			{Start: 0, End: 6.5, Description: "Two characters argue in a dim kitchen before one storms out.", Confidence: 0.86, Tags: []string{"dialogue", "conflict"}},
			{Start: 6.5, End: 15, Description: "A car chase through a rainy street at night.", Confidence: 0.91, Tags: []string{"action", "chase"}},
		},
		Objects: []ChunkFindingObject{
			{Label: "car", Time: 8, Confidence: 0.95},
			{Label: "person", Time: 2, Confidence: 0.9},
		},
		Captions: []string{"An argument escalates into a chase."},
		Findings: map[string]any{
			"characters": []string{"woman in red coat", "older man"},
			"mood":       "tense",
		},
	}
}
