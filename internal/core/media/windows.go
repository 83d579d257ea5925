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
	"fmt"
	"math"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// DefaultTailFloor is the shortest window the planner will emit at the end
// of a video. A shorter remainder is absorbed into the previous window.
const DefaultTailFloor = 3.0

// timeEpsilon absorbs float rounding when comparing window bounds.
const timeEpsilon = 1e-9

// Window is one planned time slice, in seconds.
type Window struct {
	Index int
	Start float64
	End   float64
}

// Duration returns End - Start.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// ValidateChunking checks chunk duration and overlap without a video.
func ValidateChunking(chunkDuration, overlap float64) error {
	if math.IsNaN(chunkDuration) || math.IsNaN(overlap) || chunkDuration <= 0 {
		return fmt.Errorf("%w: chunk duration %.3f must be positive", model.ErrInvalidChunking, chunkDuration)
	}
	if overlap < 0 || overlap >= chunkDuration {
		return fmt.Errorf("%w: overlap %.3f must be in [0, %.3f)", model.ErrInvalidChunking, overlap, chunkDuration)
	}
	return nil
}

// PlanWindows slices [0, duration] into windows of at most chunkDuration
// seconds, each starting overlap seconds before the previous one ended.
// When the window that would follow is shorter than floor, the current
// window is stretched to the end of the video instead.
//
// Inputs:
//   - duration: Video length in seconds, must be positive.
//   - chunkDuration: Maximum window length, must be positive.
//   - overlap: Seconds shared by consecutive windows, 0 <= overlap < chunkDuration.
//   - floor: Minimum tail window length; negative values mean DefaultTailFloor.
//
// Outputs:
//   - []Window: Windows ordered by start, covering [0, duration] without gaps.
//   - error: model.ErrInvalidChunking for invalid parameters.
func PlanWindows(duration, chunkDuration, overlap, floor float64) ([]Window, error) {
	if err := ValidateChunking(chunkDuration, overlap); err != nil {
		return nil, err
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return nil, fmt.Errorf("%w: duration %.3f must be positive", model.ErrInvalidChunking, duration)
	}
	if floor < 0 {
		floor = DefaultTailFloor
	}

	windows := make([]Window, 0, int(math.Ceil(duration/(chunkDuration-overlap)))+1)
	start := 0.0
	for {
		end := math.Min(start+chunkDuration, duration)
		if end < duration-timeEpsilon && duration-(end-overlap) < floor {
			end = duration
		}
		windows = append(windows, Window{Index: len(windows), Start: start, End: end})
		if end >= duration-timeEpsilon {
			windows[len(windows)-1].End = duration
			return windows, nil
		}
		start = end - overlap
	}
}
