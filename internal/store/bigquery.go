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

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"google.golang.org/api/iterator"
)

// QryScenesByVideo reads a video's exported scenes back in order.
const QryScenesByVideo = "SELECT * FROM `%s` WHERE video_id = @video_id ORDER BY sequence"

// SceneRow is the flattened BigQuery row of one scene.
type SceneRow struct {
	SceneID     string    `bigquery:"scene_id"`
	VideoID     string    `bigquery:"video_id"`
	JobID       string    `bigquery:"job_id"`
	MediaRef    string    `bigquery:"media_ref"`
	Sequence    int       `bigquery:"sequence"`
	StartTime   float64   `bigquery:"start_time"`
	EndTime     float64   `bigquery:"end_time"`
	Description string    `bigquery:"description"`
	Confidence  float64   `bigquery:"confidence"`
	KeyframeURI string    `bigquery:"keyframe_uri"`
	Tags        []string  `bigquery:"tags"`
	Providers   []string  `bigquery:"providers"`
	Objects     []string  `bigquery:"objects"`
	ExportedAt  time.Time `bigquery:"exported_at"`
}

// NewSceneRow flattens scene for export. Object labels are deduplicated.
func NewSceneRow(video *model.Video, scene model.Scene, now time.Time) *SceneRow {
	labels := make([]string, 0, len(scene.Objects))
	seen := make(map[string]bool)
	for _, o := range scene.Objects {
		if !seen[o.Label] {
			seen[o.Label] = true
			labels = append(labels, o.Label)
		}
	}
	return &SceneRow{
		SceneID:     scene.ID,
		VideoID:     scene.VideoID,
		JobID:       scene.JobID,
		MediaRef:    video.MediaRef,
		Sequence:    scene.Sequence,
		StartTime:   scene.StartTime,
		EndTime:     scene.EndTime,
		Description: scene.Description,
		Confidence:  scene.Confidence,
		KeyframeURI: scene.KeyframeURI,
		Tags:        scene.Tags,
		Providers:   scene.Providers,
		Objects:     labels,
		ExportedAt:  now,
	}
}

// BigQuerySceneExporter streams completed scenes into an analytics table.
type BigQuerySceneExporter struct {
	client  *bigquery.Client
	dataset string
	table   string
}

var _ SceneExporter = (*BigQuerySceneExporter)(nil)

// NewBigQuerySceneExporter targets dataset.table.
func NewBigQuerySceneExporter(client *bigquery.Client, dataset string, table string) *BigQuerySceneExporter {
	return &BigQuerySceneExporter{client: client, dataset: dataset, table: table}
}

// FQN is the table name in standard SQL form, e.g. `project.dataset.table`.
func (e *BigQuerySceneExporter) FQN() string {
	fqn := e.client.Dataset(e.dataset).Table(e.table).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// ExportScenes inserts the scenes. The scene id is used as the insert id so a
// replayed export is deduplicated by BigQuery's best-effort insert dedupe.
func (e *BigQuerySceneExporter) ExportScenes(ctx context.Context, video *model.Video, scenes []model.Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	savers := make([]*bigquery.StructSaver, 0, len(scenes))
	for _, s := range scenes {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   NewSceneRow(video, s, now),
			InsertID: s.ID,
		})
	}
	inserter := e.client.Dataset(e.dataset).Table(e.table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("bigquery insert failed for video %s: %w", video.ID, err)
	}
	return nil
}

// ReadScenes returns the exported rows of a video.
func (e *BigQuerySceneExporter) ReadScenes(ctx context.Context, videoID string) ([]*SceneRow, error) {
	q := e.client.Query(fmt.Sprintf(QryScenesByVideo, e.FQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "video_id", Value: videoID}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	out := make([]*SceneRow, 0)
	for {
		row := &SceneRow{}
		err := itr.Next(row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene row: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}
