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
// This file defines the receiving half of the task-execution layer: a
// Pub/Sub listener that hands every message to a cor.Command.
//
// Logic Flow:
//  1. A PubSubListener is created for a subscription; a Command is attached.
//  2. Listen starts a goroutine that blocks in subscription.Receive.
//  3. The publisher's trace context is read from the message attributes, so
//     each message's span joins the trace of the request that dispatched it.
//     The message then gets a fresh cor.Context holding the payload (CtxIn),
//     the delivery attempt and the wall-clock deadline.
//  4. The message is acked when the command succeeds, or when the command
//     marks the failure as permanent (DropMessageParam). Otherwise it is
//     nacked and Pub/Sub redelivers it under the subscription's retry
//     policy, which gives at-least-once execution.
package cloud

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-media-orchestrator/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// Context keys the listener populates for its command.
const (
	DeliveryAttemptParam = "__DELIVERY_ATTEMPT__" // int, 1 for the first delivery.
	MessageIDParam       = "__MESSAGE_ID__"       // string.
	// DropMessageParam is set to true by a command whose failure must not be
	// redelivered (malformed payloads, exhausted delivery attempts).
	DropMessageParam = "__DROP_MESSAGE__"
)

// PubSubListener connects a subscription to a processing command.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
	timeout      time.Duration
}

// NewPubSubListener creates a listener for subscriptionID.
//
// Inputs:
//   - pubsubClient: An authenticated Pub/Sub client.
//   - subscriptionID: The subscription to receive from.
//   - command: The command to run per message; may be attached later with SetCommand.
//   - timeout: Wall-clock ceiling per delivery; zero disables it.
func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	command cor.Command,
	timeout time.Duration,
) (*PubSubListener, error) {
	return &PubSubListener{
		client:       pubsubClient,
		subscription: pubsubClient.Subscription(subscriptionID),
		command:      command,
		timeout:      timeout,
	}, nil
}

// SetCommand attaches the command if none has been set yet.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Listen starts receiving in a background goroutine until ctx is cancelled.
func (m *PubSubListener) Listen(ctx context.Context) {
	slog.Info("listening", "subscription", m.subscription.ID())

	go func() {
		tracer := otel.Tracer("message-listener")

		err := m.subscription.Receive(ctx, func(recvCtx context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(messageContext(recvCtx, msg.Attributes), "receive-message")
			defer span.End()
			span.SetAttributes(
				attribute.String("subscription", m.subscription.ID()),
				attribute.String("message_id", msg.ID),
			)

			runCtx := spanCtx
			if m.timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(spanCtx, m.timeout)
				defer cancel()
			}

			attempt := 1
			if msg.DeliveryAttempt != nil {
				attempt = *msg.DeliveryAttempt
			}

			chainCtx := cor.NewBaseContext()
			defer chainCtx.Close()
			chainCtx.SetContext(runCtx)
			chainCtx.Add(cor.CtxIn, string(msg.Data))
			chainCtx.Add(DeliveryAttemptParam, attempt)
			chainCtx.Add(MessageIDParam, msg.ID)

			m.command.Execute(chainCtx)

			if !chainCtx.HasErrors() {
				span.SetStatus(codes.Ok, "success")
				msg.Ack()
				return
			}

			for key, e := range chainCtx.GetErrors() {
				slog.ErrorContext(spanCtx, "error executing chain", "step", key, "error", e, "message_id", msg.ID, "attempt", attempt)
			}
			span.SetStatus(codes.Error, "failed")
			if drop, _ := chainCtx.Get(DropMessageParam).(bool); drop {
				msg.Ack()
				return
			}
			msg.Nack()
		})

		if err != nil {
			slog.Error("error receiving data", "subscription", m.subscription.ID(), "error", err)
		}
	}()
}

// messageContext returns ctx carrying the trace context found in a message's
// attributes. Messages without one start a new trace.
func messageContext(ctx context.Context, attributes map[string]string) context.Context {
	if len(attributes) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(attributes))
}
