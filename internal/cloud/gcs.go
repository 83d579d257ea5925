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
// This file covers Cloud Storage: the notification payload GCS publishes to
// Pub/Sub when an object is finalised, gs:// URI helpers, and GCSObjectStore,
// the object storage used for source downloads, chunk segments, keyframes and
// signed playback URLs.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
)

// GCSScheme prefixes every object URI this package produces.
const GCSScheme = "gs://"

// GCSPubSubNotification is the JSON payload of a GCS object notification.
type GCSPubSubNotification struct {
	Kind        string            `json:"kind"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Generation  string            `json:"generation"`
	ContentType string            `json:"contentType"`
	TimeCreated string            `json:"timeCreated"`
	Size        string            `json:"size"`
	MD5Hash     string            `json:"md5Hash"`
	MetaData    map[string]string `json:"metadata"`
}

// GCSObject identifies one object.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI renders the object as gs://bucket/name.
func (o GCSObject) URI() string {
	return fmt.Sprintf("%s%s/%s", GCSScheme, o.Bucket, o.Name)
}

// IsGCSURI reports whether ref points at Cloud Storage.
func IsGCSURI(ref string) bool {
	return strings.HasPrefix(ref, GCSScheme)
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (GCSObject, error) {
	if !IsGCSURI(uri) {
		return GCSObject{}, fmt.Errorf("not a gs:// uri: %q", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, GCSScheme), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return GCSObject{}, fmt.Errorf("gs:// uri missing bucket or object: %q", uri)
	}
	return GCSObject{Bucket: parts[0], Name: parts[1]}, nil
}

// GCSObjectStore is object storage backed by Cloud Storage.
type GCSObjectStore struct {
	client      *storage.Client
	iam         *credentials.IamCredentialsClient
	bucket      string
	signerEmail string
}

// NewGCSObjectStore creates a store writing into bucket. iam and signerEmail
// are only needed for SignedURL.
func NewGCSObjectStore(client *storage.Client, iam *credentials.IamCredentialsClient, bucket string, signerEmail string) *GCSObjectStore {
	return &GCSObjectStore{client: client, iam: iam, bucket: bucket, signerEmail: signerEmail}
}

// Upload copies a local file to key in the store's bucket, overwriting any
// existing object, and returns its gs:// URI.
func (s *GCSObjectStore) Upload(ctx context.Context, localPath string, key string, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return GCSObject{Bucket: s.bucket, Name: key}.URI(), nil
}

// Download copies the object at uri to localPath.
func (s *GCSObjectStore) Download(ctx context.Context, uri string, localPath string) error {
	obj, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	reader, err := s.client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to create GCS reader for %s: %w", uri, err)
	}
	defer reader.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", localPath, err)
	}
	written, err := io.Copy(out, reader)
	closeErr := out.Close()
	if err != nil {
		return fmt.Errorf("copy %s after %d bytes: %w", uri, written, err)
	}
	if closeErr != nil {
		return closeErr
	}
	slog.DebugContext(ctx, "downloaded object", "uri", uri, "path", localPath, "bytes", written)
	return nil
}

// Delete removes the object at uri. A missing object is not an error.
func (s *GCSObjectStore) Delete(ctx context.Context, uri string) error {
	obj, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	err = s.client.Bucket(obj.Bucket).Object(obj.Name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// SignedURL returns a V4 signed GET URL for uri valid for expires. The
// signature is produced by the IAM credentials API on behalf of the
// configured signer service account, so no private key is needed locally.
func (s *GCSObjectStore) SignedURL(ctx context.Context, uri string, expires time.Duration) (string, error) {
	obj, err := ParseGCSURI(uri)
	if err != nil {
		return "", err
	}
	if s.iam == nil || s.signerEmail == "" {
		return "", errors.New("signed urls require an IAM client and signer service account")
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: s.signerEmail,
		SignBytes: func(payload []byte) ([]byte, error) {
			resp, err := s.iam.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.signerEmail),
				Payload: payload,
			})
			if err != nil {
				return nil, err
			}
			return resp.SignedBlob, nil
		},
	}
	u, err := s.client.Bucket(obj.Bucket).SignedURL(obj.Name, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", obj.Bucket, obj.Name, err)
	}
	return u, nil
}
