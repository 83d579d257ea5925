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
	"fmt"
	"log/slog"
	"sort"

	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/model"
)

// Registry holds the adapters that could be constructed. It is immutable
// after NewRegistry returns and safe for concurrent use.
type Registry struct {
	adapters map[string]Adapter
	names    []string
}

// NewRegistry constructs every factory. A factory that fails, panics or
// returns a nil adapter is logged and left out; the registry itself never
// fails.
// When two adapters share a name the first one wins.
func NewRegistry(logger *slog.Logger, factories ...Factory) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{adapters: make(map[string]Adapter)}
	for i, factory := range factories {
		if factory == nil {
			continue
		}
		adapter, err := construct(factory)
		if err != nil {
			logger.Warn("adapter unavailable", "factory", i, "error", err)
			continue
		}
		if adapter == nil {
			logger.Warn("adapter factory returned nothing", "factory", i)
			continue
		}
		if _, dup := r.adapters[adapter.Name()]; dup {
			logger.Warn("duplicate adapter ignored", "adapter", adapter.Name())
			continue
		}
		r.adapters[adapter.Name()] = adapter
		r.names = append(r.names, adapter.Name())
	}
	sort.Strings(r.names)
	return r
}

func construct(factory Factory) (adapter Adapter, err error) {
	defer func() {
		if r := recover(); r != nil {
			adapter = nil
			err = fmt.Errorf("%w: factory panicked: %v", model.ErrProviderUnavailable, r)
		}
	}()
	return factory()
}

// Available lists the constructed adapters by name, sorted.
func (r *Registry) Available() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Len is the number of available adapters.
func (r *Registry) Len() int {
	return len(r.names)
}

// Select returns the adapters whose goals are a superset of goals, cheapest
// cost per frame first, ties broken by name. An empty goal set selects
// every adapter.
func (r *Registry) Select(goals ...model.AnalysisGoal) []Adapter {
	out := make([]Adapter, 0, len(r.names))
	for _, name := range r.names {
		a := r.adapters[name]
		if a.Capabilities().Supports(goals...) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Capabilities().CostPerFrame, out[j].Capabilities().CostPerFrame
		if ci != cj {
			return ci < cj
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Capabilities returns every adapter's capability sheet keyed by name.
func (r *Registry) Capabilities() map[string]model.ProviderCapability {
	out := make(map[string]model.ProviderCapability, len(r.names))
	for _, name := range r.names {
		out[name] = r.adapters[name].Capabilities()
	}
	return out
}
