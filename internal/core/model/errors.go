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
	"errors"
	"fmt"
)

// Validation errors are rejected synchronously before any work is scheduled
// and are never retried.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidChunking   = errors.New("invalid chunking parameters")
	ErrCostLimitExceeded = errors.New("cost limit exceeded")
	ErrConcurrentJob     = errors.New("an active job already exists for this video")
)

// Adapter errors are recorded per provider and never fail a job on their own.
var (
	ErrProviderTimeout     = errors.New("provider did not reach a terminal state")
	ErrProviderFailed      = errors.New("provider analysis failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Chunking and storage errors are fatal to the job and make it retry eligible.
var (
	ErrMediaUnreadable = errors.New("media unreadable")
	ErrStorage         = errors.New("storage error")
)

// State errors.
var (
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrJobCancelled       = errors.New("job cancelled")
	ErrNotFound           = errors.New("not found")
	ErrStaleWrite         = errors.New("record changed concurrently")
)

// ConcurrentJobError reports the job that currently holds a video.
type ConcurrentJobError struct {
	VideoID string
	JobID   string
}

func (e *ConcurrentJobError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("video %s: %s", e.VideoID, ErrConcurrentJob)
	}
	return fmt.Sprintf("video %s: %s (job %s)", e.VideoID, ErrConcurrentJob, e.JobID)
}

func (e *ConcurrentJobError) Unwrap() error { return ErrConcurrentJob }

// CostLimitError carries the estimate that broke the caller's budget.
type CostLimitError struct {
	Estimate float64
	Limit    float64
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("%s: estimate %.4f > limit %.4f", ErrCostLimitExceeded, e.Estimate, e.Limit)
}

func (e *CostLimitError) Unwrap() error { return ErrCostLimitExceeded }

// RetryLimitError distinguishes a permanently failed job from one that can
// still be retried.
type RetryLimitError struct {
	JobID      string
	RetryCount int
	MaxRetries int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("job %s: %s (%d of %d)", e.JobID, ErrRetryLimitExceeded, e.RetryCount, e.MaxRetries)
}

func (e *RetryLimitError) Unwrap() error { return ErrRetryLimitExceeded }

// ProviderError wraps a failure from a named adapter.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidChunking) ||
		errors.Is(err, ErrCostLimitExceeded) ||
		errors.Is(err, ErrConcurrentJob)
}

// IsFatal reports whether err must fail the whole job.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMediaUnreadable) || errors.Is(err, ErrStorage)
}
