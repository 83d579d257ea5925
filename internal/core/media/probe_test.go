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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "95.500000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "duration": "95.480000"}
  ],
  "format": {"filename": "in.mp4", "duration": "95.520000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseProbeOutput(t *testing.T) {
	result, err := ParseProbeOutput([]byte(sampleProbe))
	require.NoError(t, err)

	assert.InDelta(t, 95.52, result.DurationSeconds(), 1e-9)
	assert.InDelta(t, 29.97, result.FrameRate(), 0.01)
	assert.True(t, result.HasVideo())
}

func TestProbeDurationFallsBackToStreams(t *testing.T) {
	result := ProbeResult{
		Streams: []ProbeStream{
			{CodecType: "video", Duration: "12.5", RFrameRate: "25"},
			{CodecType: "audio", Duration: "13"},
		},
		Format: ProbeFormat{Duration: "N/A"},
	}
	assert.Equal(t, 13.0, result.DurationSeconds())
	assert.Equal(t, 25.0, result.FrameRate())
}

func TestProbeHandlesMissingMetadata(t *testing.T) {
	result := ProbeResult{
		Streams: []ProbeStream{{CodecType: "audio"}},
	}
	assert.Zero(t, result.DurationSeconds())
	assert.Zero(t, result.FrameRate())
	assert.False(t, result.HasVideo())

	_, err := ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestParseRational(t *testing.T) {
	assert.Equal(t, 25.0, parseRational("25/1"))
	assert.Zero(t, parseRational("0/0"))
	assert.Zero(t, parseRational(""))
	assert.Equal(t, 24.0, parseRational("24"))
}

func TestFFMpegArgs(t *testing.T) {
	args := SegmentArgs("in.mp4", "out.mp4", 8, 10)
	assert.Contains(t, args, "-ss")
	assert.Contains(t, args, "8.000")
	assert.Contains(t, args, "10.000")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	kf := KeyframeArgs("in.mp4", "kf.jpg", 13)
	assert.Equal(t, []string{"-frames:v", "1"}, kf[8:10])
	assert.Equal(t, "13.000", kf[5])
}
