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

package providers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// BackoffPolicy bounds a poll loop. A Multiplier of 1 (or less) polls at a
// fixed interval.
type BackoffPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

// FixedPolicy polls every interval, at most attempts times.
func FixedPolicy(attempts int, interval time.Duration) BackoffPolicy {
	return BackoffPolicy{MaxAttempts: attempts, Interval: interval, Multiplier: 1}
}

// Delay returns the wait after the given zero based attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.Interval)
	if p.Multiplier > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt))
	}
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	return time.Duration(delay)
}

// PollFunc checks an external operation once. done ends the loop; an error
// ends it immediately and is returned as is.
type PollFunc func(ctx context.Context) (done bool, err error)

// AwaitWithBackoff calls poll until it reports done, returns an error, ctx
// ends, or the policy's attempts run out. Running out wraps
// model.ErrProviderTimeout.
func AwaitWithBackoff(ctx context.Context, policy BackoffPolicy, poll PollFunc) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		done, err := poll(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d polls", model.ErrProviderTimeout, attempts)
}
