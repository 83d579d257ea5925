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

// This file defines BaseChain, the Command that runs other commands in
// order over one Context.
package cor

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

// BaseChain runs an ordered list of commands over one Context.
//
// Logic Flow:
//  1. A parent span "<name>_execute" is opened for the whole run.
//  2. For each command a child span is opened; if an earlier command failed
//     the loop stops, so a step never runs on a partial result.
//  3. A cancelled Go context stops the chain and is recorded as an error.
//  4. Executable commands run with the child span's context attached; a command
//     that is not executable is recorded as an error.
//  5. The command's CtxOut becomes the next command's CtxIn.
type BaseChain struct {
	BaseCommand
	commands []Command
}

// NewBaseChain creates an empty chain.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

// AddCommand appends command to the chain.
func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// Commands returns the chain's commands in execution order.
func (c *BaseChain) Commands() []Command {
	return c.commands
}

// IsExecutable only requires a Go context; the commands check their own inputs.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()

	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()

	for _, command := range c.commands {
		commandContext, commandSpan := c.Tracer.Start(outerCtx, command.GetName())

		if chCtx.HasErrors() {
			commandSpan.SetStatus(codes.Error, "previous error on chain; skipping execution")
			commandSpan.End()
			break
		}

		if err := outerCtx.Err(); err != nil {
			chCtx.AddError(command.GetName(), fmt.Errorf("chain %s stopped before %s: %w", c.GetName(), command.GetName(), err))
			commandSpan.SetStatus(codes.Error, "context done")
			commandSpan.End()
			break
		}

		if command.IsExecutable(chCtx) {
			chCtx.SetContext(commandContext)
			command.Execute(chCtx)
			chCtx.SetContext(outerCtx)
		} else {
			chCtx.AddError(command.GetName(), fmt.Errorf("command not executable: %s", command.GetName()))
		}

		if chCtx.HasErrors() {
			commandSpan.SetStatus(codes.Error, "error during or after command execution")
		} else {
			commandSpan.SetStatus(codes.Ok, "command completed successfully")
		}
		commandSpan.End()

		outputValue := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if outputValue != nil {
			chCtx.Add(CtxIn, outputValue)
		}
		chCtx.Remove(CtxOut)
	}

	chCtx.SetContext(parentCtx)
	if !chCtx.HasErrors() {
		c.Succeed(chCtx)
		chainSpan.SetStatus(codes.Ok, "chain completed successfully")
	} else {
		if c.ErrorCounter != nil {
			c.ErrorCounter.Add(parentCtx, 1)
		}
		chainSpan.SetStatus(codes.Error, "chain failed to execute")
	}
}
