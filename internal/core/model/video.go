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

package model

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus is the processing state of a video.
type VideoStatus string

const (
	VideoUploaded   VideoStatus = "UPLOADED"
	VideoProcessing VideoStatus = "PROCESSING"
	VideoCompleted  VideoStatus = "COMPLETED"
	VideoFailed     VideoStatus = "FAILED"
)

// Video is a source media file known to the system.
type Video struct {
	ID              string      `json:"video_id" bson:"_id"`
	MediaRef        string      `json:"media_ref" bson:"media_ref"`
	Status          VideoStatus `json:"status" bson:"status"`
	DurationSeconds float64     `json:"duration_seconds" bson:"duration_seconds"`
	FrameRate       float64     `json:"frame_rate,omitempty" bson:"frame_rate,omitempty"`
	MIMEType        string      `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
	LastJobID       string      `json:"last_job_id,omitempty" bson:"last_job_id,omitempty"`
	Error           string      `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" bson:"updated_at"`
}

// NewVideoID derives a stable video id from its media reference so repeated
// submissions of the same file land on the same record.
func NewVideoID(mediaRef string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(mediaRef)).String()
}

// NewVideo creates an UPLOADED video.
func NewVideo(id string, mediaRef string, now time.Time) *Video {
	if id == "" {
		id = NewVideoID(mediaRef)
	}
	return &Video{
		ID:        id,
		MediaRef:  mediaRef,
		Status:    VideoUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
