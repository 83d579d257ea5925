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

// Package cloud provides components for interacting with Google Cloud services.
// This file initialises and holds every client the orchestrator talks to. It
// acts as the dependency injection container built once at startup.
//
// Logic Flow:
//  1. NewCloudServiceClients is called at application startup with the loaded Config.
//  2. It creates clients for Storage, IAM, Pub/Sub, GenAI, Video Intelligence,
//     BigQuery and MongoDB.
//  3. It builds one PubSubListener per configured subscription (commands are
//     attached later by the workflow wiring), one PubSubDispatcher per topic,
//     and one rate-limited model per configured agent model.
//  4. Everything is bundled into ServiceClients.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"google.golang.org/genai"
)

// ServiceClients is the central container for external connections.
type ServiceClients struct {
	StorageClient           *storage.Client                         // Google Cloud Storage.
	PubsubClient            *pubsub.Client                          // Google Cloud Pub/Sub.
	GenAIClient             *genai.Client                           // Vertex AI generative models.
	BiqQueryClient          *bigquery.Client                        // BigQuery, used for scene export.
	IAMClient               *credentials.IamCredentialsClient       // IAM, signs GCS URLs.
	VideoIntelligenceClient *videointelligence.Client               // Shot, object, label and speech annotation.
	MongoClient             *mongo.Client                           // Job, video, scene and memory documents.
	PubSubListeners         map[string]*PubSubListener              // Keyed by the logical subscription name.
	PubSubDispatchers       map[string]*PubSubDispatcher            // Keyed by the logical subscription name.
	AgentModels             map[string]*QuotaAwareGenerativeAIModel // Keyed by the logical model name.
}

// Close releases every client connection.
func (c *ServiceClients) Close() {
	for _, d := range c.PubSubDispatchers {
		d.Stop()
	}
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BiqQueryClient != nil {
		_ = c.BiqQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
	if c.VideoIntelligenceClient != nil {
		_ = c.VideoIntelligenceClient.Close()
	}
	if c.MongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.MongoClient.Disconnect(ctx)
	}
}

// NewCloudServiceClients initialises all required clients from config.
//
// Inputs:
//   - ctx: The root context.
//   - config: The loaded application configuration.
//
// Outputs:
//   - *ServiceClients: The initialised container.
//   - error: The first client that failed to initialise. Clients created
//     before the failure are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners:   make(map[string]*PubSubListener),
		PubSubDispatchers: make(map[string]*PubSubDispatcher),
		AgentModels:       make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
			cloud = nil
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return cloud, fmt.Errorf("storage client: %w", err)
	}
	if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
		return cloud, fmt.Errorf("iam credentials client: %w", err)
	}
	if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return cloud, fmt.Errorf("pubsub client: %w", err)
	}

	slog.Info("creating genai client", "project", config.Application.GoogleProjectId, "location", config.Application.GoogleLocation)
	if cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Application.GoogleProjectId,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	}); err != nil {
		return cloud, fmt.Errorf("genai client: %w", err)
	}

	if cloud.VideoIntelligenceClient, err = videointelligence.NewClient(ctx); err != nil {
		return cloud, fmt.Errorf("video intelligence client: %w", err)
	}
	if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return cloud, fmt.Errorf("bigquery client: %w", err)
	}
	if cloud.MongoClient, err = NewMongoClient(ctx, config.Mongo); err != nil {
		return cloud, err
	}

	for subKey, values := range config.TopicSubscriptions {
		listener, lErr := NewPubSubListener(cloud.PubsubClient, values.Name, nil, values.Timeout())
		if lErr != nil {
			return cloud, lErr
		}
		cloud.PubSubListeners[subKey] = listener
		if values.Topic != "" {
			cloud.PubSubDispatchers[subKey] = NewPubSubDispatcher(cloud.PubsubClient, values.Topic)
		}
	}

	for amKey, values := range config.AgentModels {
		slog.Debug("configuring agent model", "key", amKey, "model", values.Model)
		model := &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](values.Temperature),
			TopP:              genai.Ptr[float32](values.TopP),
			TopK:              genai.Ptr[float32](values.TopK),
			MaxOutputTokens:   values.MaxTokens,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}},
			SafetySettings:    DefaultSafetySettings,
			ResponseMIMEType:  values.OutputFormat,
		}
		cloud.AgentModels[amKey] = NewQuotaAwareModel(model, values.Model, cloud.GenAIClient.Models, values.RateLimit)
	}

	return cloud, nil
}

// NewMongoClient connects to MongoDB and verifies the connection with a ping.
func NewMongoClient(ctx context.Context, cfg MongoDataSource) (*mongo.Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}
