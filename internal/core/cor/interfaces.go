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

// Package cor implements the Chain of Responsibility primitives the analysis
// pipeline is assembled from. Each pipeline step is a Command; a Chain runs
// commands in order over a shared Context, piping each command's CtxOut into
// the next command's CtxIn, and wraps every step in its own trace span.
//
// Interfaces:
//   - Context: the property bag, error map and cleanup registry shared by a run.
//   - Executable: anything with an Execute(Context) method.
//   - Command: an Executable with a name, parameter keys, a tracer, a meter and
//     success/error counters.
//   - Chain: a Command that runs other commands.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CtxIn is the key under which a command finds its primary input.
	CtxIn = "__IN__"
	// CtxOut is the key under which a command leaves its primary output.
	CtxOut = "__OUT__"
)

// Context carries data, errors and cleanup work through a chain run.
// Implementations are safe for concurrent use.
type Context interface {
	SetContext(context context.Context)
	GetContext() context.Context

	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
	// FirstError returns the earliest recorded error, or nil.
	FirstError() error

	// AddTempFile registers a file or directory to remove on Close.
	AddTempFile(file string)
	GetTempFiles() []string
	// AddCleanup registers a function to run on Close, in reverse order.
	AddCleanup(fn func())

	// Close releases every registered temporary resource. It is safe to call
	// more than once.
	Close()
}

// Executable is the minimal unit of work.
type Executable interface {
	Execute(context Context)
}

// Command is a named, instrumented pipeline step.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command composed of other commands.
type Chain interface {
	Command

	AddCommand(command Command) Chain
}
