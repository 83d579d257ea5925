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

// Package test provides helpers and fakes shared by the package test suites:
// test configuration loading, sample Pub/Sub payloads, and in-memory stand-ins
// for the analysis engines, object storage, ffmpeg and the task-execution layer.
// Nothing here talks to Google Cloud.
package test

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/cloud"
)

// StateManager caches the test configuration across tests.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
	err    error
}

var state = &StateManager{}

// GetTestUploadMessageText simulates the GCS notification published when a
// video lands in the input bucket.
func GetTestUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "media_input_resources/test-trailer-001.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/media_input_resources/o/test-trailer-001.mp4",
  "name": "test-trailer-001.mp4",
  "bucket": "media_input_resources",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "metadata": { "intent": "find all action scenes and track characters in this movie", "content_type": "movie" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// repoRoot walks up from the working directory to the directory holding go.mod.
func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

// SetupOS points the configuration loader at the repository's configs
// directory and the "test" runtime.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, filepath.Join(repoRoot(), "configs")); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and caches it.
func GetConfig() (*cloud.Config, error) {
	state.once.Do(func() {
		if state.err = SetupOS(); state.err != nil {
			return
		}
		config := cloud.NewConfig()
		state.err = cloud.LoadConfig(config)
		state.config = config
	})
	return state.config, state.err
}
