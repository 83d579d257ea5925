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

package media

import (
	"math"
	"testing"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func bounds(windows []Window) [][2]float64 {
	out := make([][2]float64, len(windows))
	for i, w := range windows {
		out[i] = [2]float64{w.Start, w.End}
	}
	return out
}

func TestPlanWindows(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		chunk    float64
		overlap  float64
		want     [][2]float64
	}{
		{
			name:     "tail absorbed",
			duration: 32, chunk: 10, overlap: 0,
			want: [][2]float64{{0, 10}, {10, 20}, {20, 32}},
		},
		{
			name:     "overlapping",
			duration: 60, chunk: 10, overlap: 2,
			want: [][2]float64{{0, 10}, {8, 18}, {16, 26}, {24, 34}, {32, 42}, {40, 50}, {48, 58}, {56, 60}},
		},
		{
			name:     "shorter than one chunk",
			duration: 7, chunk: 10, overlap: 2,
			want: [][2]float64{{0, 7}},
		},
		{
			name:     "exact multiple",
			duration: 30, chunk: 10, overlap: 0,
			want: [][2]float64{{0, 10}, {10, 20}, {20, 30}},
		},
		{
			name:     "tail at floor is kept",
			duration: 33, chunk: 10, overlap: 0,
			want: [][2]float64{{0, 10}, {10, 20}, {20, 30}, {30, 33}},
		},
		{
			name:     "tiny video",
			duration: 1.5, chunk: 10, overlap: 0,
			want: [][2]float64{{0, 1.5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := PlanWindows(tt.duration, tt.chunk, tt.overlap, DefaultTailFloor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bounds(windows))
			for i, w := range windows {
				assert.Equal(t, i, w.Index)
			}
		})
	}
}

func TestPlanWindowsRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name                     string
		duration, chunk, overlap float64
	}{
		{"zero chunk", 60, 0, 0},
		{"negative chunk", 60, -5, 0},
		{"overlap equals chunk", 60, 10, 10},
		{"overlap exceeds chunk", 60, 10, 12},
		{"negative overlap", 60, 10, -1},
		{"zero duration", 0, 10, 2},
		{"nan duration", math.NaN(), 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlanWindows(tt.duration, tt.chunk, tt.overlap, DefaultTailFloor)
			require.ErrorIs(t, err, model.ErrInvalidChunking)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestPlanWindowsCoverage(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		duration := rapid.Float64Range(0.5, 7200).Draw(rt, "duration")
		chunk := rapid.Float64Range(1, 120).Draw(rt, "chunk")
		overlap := rapid.Float64Range(0, chunk*0.9).Draw(rt, "overlap")

		windows, err := PlanWindows(duration, chunk, overlap, DefaultTailFloor)
		require.NoError(rt, err)
		require.NotEmpty(rt, windows)

		assert.Equal(rt, 0.0, windows[0].Start)
		assert.Equal(rt, duration, windows[len(windows)-1].End)
		for i, w := range windows {
			require.Less(rt, w.Start, w.End, "window %d is empty", i)
			if i < len(windows)-1 {
				assert.LessOrEqual(rt, w.Duration(), chunk+1e-6, "window %d longer than chunk", i)
				next := windows[i+1]
				assert.InDelta(rt, overlap, w.End-next.Start, 1e-6, "overlap between %d and %d", i, i+1)
			} else if len(windows) > 1 {
				assert.GreaterOrEqual(rt, w.Duration(), math.Min(DefaultTailFloor, duration)-1e-6)
			}
		}
	})
}
