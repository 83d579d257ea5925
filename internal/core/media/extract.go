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
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Extractor cuts segments and stills out of a local media file.
type Extractor interface {
	ExtractSegment(ctx context.Context, src string, dst string, start float64, duration float64) error
	ExtractKeyframe(ctx context.Context, src string, dst string, at float64) error
}

// FFMpeg runs the ffmpeg binary.
type FFMpeg struct {
	Binary string
}

func (f FFMpeg) binary() string {
	if b := strings.TrimSpace(f.Binary); b != "" {
		return b
	}
	return "ffmpeg"
}

// SegmentArgs builds the argument list for an accurate, re-encoded cut.
// Seeking after -i trades speed for frame exact boundaries.
func SegmentArgs(src string, dst string, start float64, duration float64) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4", dst,
	}
}

// KeyframeArgs builds the argument list for a single JPEG still.
func KeyframeArgs(src string, dst string, at float64) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(at),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		dst,
	}
}

// ExtractSegment writes [start, start+duration] of src to dst as mp4.
func (f FFMpeg) ExtractSegment(ctx context.Context, src string, dst string, start float64, duration float64) error {
	return f.run(ctx, SegmentArgs(src, dst, start, duration))
}

// ExtractKeyframe writes the frame at `at` seconds to dst as JPEG.
func (f FFMpeg) ExtractKeyframe(ctx context.Context, src string, dst string, at float64) error {
	return f.run(ctx, KeyframeArgs(src, dst, at))
}

func (f FFMpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
