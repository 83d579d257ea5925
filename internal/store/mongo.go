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
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	VideosCollection   = "videos"
	JobsCollection     = "jobs"
	ChunksCollection   = "chunks"
	ScenesCollection   = "scenes"
	MemoriesCollection = "video_memories"
)

// activeJobIndex backs the single active job per video rule.
const activeJobIndex = "video_active_job"

// MongoRepository is the MongoDB Repository.
//
// The one-active-job rule is enforced by a unique index on video_id that only
// covers documents with active=true, so two coordinators racing to start a job
// for the same video cannot both win. Status changes filter on the current
// status and progress is written with $max, which makes every write safe to
// replay after a redelivered task.
type MongoRepository struct {
	db *mongo.Database
}

var _ Repository = (*MongoRepository)(nil)

// NewMongoRepository wraps database. Call EnsureIndexes once at startup.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

// EnsureIndexes creates the indexes the repository relies on. It is
// idempotent.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(JobsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "video_id", Value: 1}},
			Options: options.Index().
				SetName(activeJobIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "active", Value: true}}),
		},
		{Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}
	_, err = r.db.Collection(ChunksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "index", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	_, err = r.db.Collection(ScenesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "start_time", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create scene indexes: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, model.ErrStorage, err)
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, what string) (*T, error) {
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("find "+what, err)
	}
	return &out, nil
}

func (r *MongoRepository) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	return findOne[model.Video](ctx, r.db.Collection(VideosCollection), bson.D{{Key: "_id", Value: id}}, "video "+id)
}

func (r *MongoRepository) SaveVideo(ctx context.Context, video *model.Video) error {
	_, err := r.db.Collection(VideosCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: video.ID}}, video, options.Replace().SetUpsert(true))
	if err != nil {
		return storageErr("save video "+video.ID, err)
	}
	return nil
}

func (r *MongoRepository) concurrent(ctx context.Context, videoID string) error {
	holder := ""
	if active, err := r.FindActiveJob(ctx, videoID); err == nil {
		holder = active.ID
	}
	return &model.ConcurrentJobError{VideoID: videoID, JobID: holder}
}

func (r *MongoRepository) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := r.db.Collection(JobsCollection).InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		if _, getErr := r.GetJob(ctx, job.ID); getErr == nil {
			return fmt.Errorf("job %s already exists: %w", job.ID, model.ErrStaleWrite)
		}
		return r.concurrent(ctx, job.VideoID)
	}
	if err != nil {
		return storageErr("create job "+job.ID, err)
	}
	return nil
}

func (r *MongoRepository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return findOne[model.Job](ctx, r.db.Collection(JobsCollection), bson.D{{Key: "_id", Value: id}}, "job "+id)
}

func (r *MongoRepository) FindActiveJob(ctx context.Context, videoID string) (*model.Job, error) {
	return findOne[model.Job](ctx, r.db.Collection(JobsCollection),
		bson.D{{Key: "video_id", Value: videoID}, {Key: "active", Value: true}},
		"active job for video "+videoID)
}

func (r *MongoRepository) ListJobs(ctx context.Context, videoID string) ([]*model.Job, error) {
	cursor, err := r.db.Collection(JobsCollection).Find(ctx,
		bson.D{{Key: "video_id", Value: videoID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	out := make([]*model.Job, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode jobs", err)
	}
	return out, nil
}

// UpdateJob writes every field with $set except progress, which goes through
// $max unless the job is being reset for a retry.
func (r *MongoRepository) UpdateJob(ctx context.Context, job *model.Job, from ...model.JobStatus) error {
	filter := bson.D{{Key: "_id", Value: job.ID}}
	if len(from) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: from}}})
	}

	set := bson.D{
		{Key: "status", Value: job.Status},
		{Key: "active", Value: job.Active},
		{Key: "current_step", Value: job.CurrentStep},
		{Key: "retry_count", Value: job.RetryCount},
		{Key: "max_retries", Value: job.MaxRetries},
		{Key: "plan", Value: job.Plan},
		{Key: "result", Value: job.Result},
		{Key: "error", Value: job.Error},
		{Key: "failed_providers", Value: job.FailedProviders},
		{Key: "non_retryable", Value: job.NonRetryable},
		{Key: "updated_at", Value: job.UpdatedAt},
		{Key: "started_at", Value: job.StartedAt},
		{Key: "finished_at", Value: job.FinishedAt},
	}
	update := bson.D{}
	if job.Status == model.JobRetrying {
		set = append(set, bson.E{Key: "progress", Value: job.Progress})
	} else {
		update = append(update, bson.E{Key: "$max", Value: bson.D{{Key: "progress", Value: job.Progress}}})
	}
	update = append(update, bson.E{Key: "$set", Value: set})

	res, err := r.db.Collection(JobsCollection).UpdateOne(ctx, filter, update)
	if mongo.IsDuplicateKeyError(err) {
		return r.concurrent(ctx, job.VideoID)
	}
	if err != nil {
		return storageErr("update job "+job.ID, err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := r.GetJob(ctx, job.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s not in %v: %w", job.ID, from, model.ErrStaleWrite)
	}
	return nil
}

func (r *MongoRepository) UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	res, err := r.db.Collection(JobsCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: jobID}, {Key: "status", Value: model.JobRunning}}, progressUpdate(update))
	if err != nil {
		return storageErr("update progress "+jobID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("job %s is not running: %w", jobID, model.ErrStaleWrite)
	}
	return nil
}

// progressUpdate builds the update document of UpdateJobProgress. Failed
// providers are set one dotted key at a time so entries recorded by earlier
// flushes survive.
func progressUpdate(update ProgressUpdate) bson.D {
	doc := bson.D{{Key: "$max", Value: bson.D{{Key: "progress", Value: update.Progress}}}}
	set := bson.D{}
	if update.Step != "" {
		set = append(set, bson.E{Key: "current_step", Value: update.Step})
	}
	for _, name := range slices.Sorted(maps.Keys(update.FailedProviders)) {
		set = append(set, bson.E{Key: "failed_providers." + name, Value: update.FailedProviders[name]})
	}
	if len(set) > 0 {
		doc = append(doc, bson.E{Key: "$set", Value: set})
	}
	return doc
}

func (r *MongoRepository) SaveChunks(ctx context.Context, chunks []model.ChunkDescriptor) error {
	if len(chunks) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(chunks))
	for _, c := range chunks {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: c.ChunkID}}).
			SetReplacement(c).
			SetUpsert(true))
	}
	if _, err := r.db.Collection(ChunksCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return storageErr("save chunks", err)
	}
	return nil
}

func (r *MongoRepository) ListChunks(ctx context.Context, videoID string) ([]model.ChunkDescriptor, error) {
	cursor, err := r.db.Collection(ChunksCollection).Find(ctx,
		bson.D{{Key: "video_id", Value: videoID}},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, storageErr("list chunks", err)
	}
	out := make([]model.ChunkDescriptor, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode chunks", err)
	}
	return out, nil
}

// SaveScenes upserts the scenes by id and then removes any scene of the video
// the new set does not contain.
func (r *MongoRepository) SaveScenes(ctx context.Context, videoID string, scenes []model.Scene) error {
	coll := r.db.Collection(ScenesCollection)
	ids := make([]string, 0, len(scenes))
	if len(scenes) > 0 {
		writes := make([]mongo.WriteModel, 0, len(scenes))
		for _, s := range scenes {
			ids = append(ids, s.ID)
			writes = append(writes, mongo.NewReplaceOneModel().
				SetFilter(bson.D{{Key: "_id", Value: s.ID}}).
				SetReplacement(s).
				SetUpsert(true))
		}
		if _, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
			return storageErr("save scenes", err)
		}
	}
	_, err := coll.DeleteMany(ctx, bson.D{
		{Key: "video_id", Value: videoID},
		{Key: "_id", Value: bson.D{{Key: "$nin", Value: ids}}},
	})
	if err != nil {
		return storageErr("prune scenes", err)
	}
	return nil
}

func (r *MongoRepository) ListScenes(ctx context.Context, videoID string) ([]model.Scene, error) {
	cursor, err := r.db.Collection(ScenesCollection).Find(ctx,
		bson.D{{Key: "video_id", Value: videoID}},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
	if err != nil {
		return nil, storageErr("list scenes", err)
	}
	out := make([]model.Scene, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode scenes", err)
	}
	return out, nil
}

func (r *MongoRepository) SaveMemory(ctx context.Context, memory *model.VideoMemory) error {
	_, err := r.db.Collection(MemoriesCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: memory.VideoID}}, memory, options.Replace().SetUpsert(true))
	if err != nil {
		return storageErr("save memory "+memory.VideoID, err)
	}
	return nil
}

func (r *MongoRepository) GetMemory(ctx context.Context, videoID string) (*model.VideoMemory, error) {
	return findOne[model.VideoMemory](ctx, r.db.Collection(MemoriesCollection),
		bson.D{{Key: "_id", Value: videoID}}, "memory for video "+videoID)
}
