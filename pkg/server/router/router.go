// AEEP - Agent-to-Agent Economic Exchange Protocol
// Copyright (C) 2025 X811-project
//
// This file is part of AEEP.
//
// AEEP is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AEEP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with AEEP. If not, see <https://www.gnu.org/licenses/>.

// Package router moves authenticated envelopes between agents. Every
// accepted envelope lands in the durable message queue; a live push
// stream, when present, gets a best-effort copy. The queue is
// authoritative: only a poll marks a row delivered.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
)

// MessageExpiry bounds queue growth when the envelope carries no
// expires field of its own.
const MessageExpiry = 24 * time.Hour

// Receipt is returned to the sender of an accepted envelope.
type Receipt struct {
	MessageID             string `json:"message_id"`
	Status                string `json:"status"`
	RecipientAvailability string `json:"recipient_availability"`
}

// Router queues envelopes and fans them out to push subscribers.
type Router struct {
	store   store.Store
	streams *StreamManager
	now     func() time.Time
}

// New builds a router over the store with its own stream manager.
func New(s store.Store) *Router {
	return &Router{store: s, streams: NewStreamManager(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source; used by tests.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// Streams exposes the push stream manager for the HTTP layer.
func (r *Router) Streams() *StreamManager {
	return r.streams
}

// Deliver persists an authenticated envelope for its recipient and, if
// the recipient holds a live push stream, broadcasts a copy. Push
// failures are absorbed here; the caller only sees queue errors.
func (r *Router) Deliver(ctx context.Context, env *envelope.Envelope) (*Receipt, error) {
	recipient, err := r.store.GetAgentByDID(ctx, env.To)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.Newf(errcode.RecipientNotFound, "recipient %s is not registered", env.To)
	}
	if err != nil {
		return nil, err
	}

	now := r.now()
	expires := now.Add(MessageExpiry)
	if t, ok, err := env.ExpiresTime(); ok && err == nil {
		expires = t
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errcode.New(errcode.MalformedEnvelope, "envelope does not serialize")
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		Type:      string(env.Type),
		FromDID:   env.From,
		ToDID:     env.To,
		Envelope:  raw,
		CreatedAt: now,
		ExpiresAt: expires,
		Status:    store.MessageQueued,
	}
	if err := r.store.EnqueueMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesQueued.Inc()

	r.streams.Broadcast(recipient.ID, raw)

	return &Receipt{
		MessageID:             msg.ID,
		Status:                string(store.MessageQueued),
		RecipientAvailability: string(recipient.Availability),
	}, nil
}

// Poll drains the queue for a DID. Returned rows are marked delivered
// atomically by the store, so a second poll comes back empty. Stored
// envelopes that no longer decode are marked failed and skipped.
func (r *Router) Poll(ctx context.Context, toDID string) ([]*envelope.Envelope, error) {
	rows, err := r.store.PollMessages(ctx, toDID)
	if err != nil {
		return nil, err
	}

	out := make([]*envelope.Envelope, 0, len(rows))
	for _, row := range rows {
		var env envelope.Envelope
		if err := json.Unmarshal(row.Envelope, &env); err != nil {
			_ = r.store.MarkMessageFailed(ctx, row.ID, "stored envelope does not decode: "+err.Error())
			continue
		}
		out = append(out, &env)
	}
	metrics.MessagesDelivered.Add(float64(len(out)))
	return out, nil
}

// SweepExpired removes messages past their expiry. Idempotent.
func (r *Router) SweepExpired(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpiredMessages(ctx, r.now())
	if n > 0 {
		metrics.SweepExpired.WithLabelValues("message").Add(float64(n))
	}
	return n, err
}
