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

// Package store is the single source of truth for all persistent protocol
// state. Every mutation is individually atomic; uniqueness constraints
// (DID, nonce, idempotency key, capability pair) serialize racing writers,
// and interaction transitions use compare-and-update on status.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrConflict is returned when a compare-and-update saw another writer.
	ErrConflict = errors.New("store: concurrent modification")
)

// DiscoveryFilter narrows and pages agent discovery. Zero values mean
// "no filter"; MinTrust applies only when HasMinTrust is set.
type DiscoveryFilter struct {
	Capability   string
	MinTrust     float64
	HasMinTrust  bool
	Status       AgentStatus
	Availability Availability
	Limit        int
	Offset       int
}

const (
	// DefaultDiscoveryLimit pages discovery when the caller gives none.
	DefaultDiscoveryLimit = 20
	// MaxDiscoveryLimit caps a caller-supplied page size.
	MaxDiscoveryLimit = 100
)

// AgentStore persists agents and serves discovery.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByDID(ctx context.Context, did string) (*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) error
	// DiscoverAgents returns matches ordered by trust score descending.
	DiscoverAgents(ctx context.Context, f DiscoveryFilter) ([]*Agent, error)
	CountAgents(ctx context.Context) (int, error)
	// MarkStaleAgentsUnknown flips availability to unknown for agents not
	// seen since cutoff. Idempotent.
	MarkStaleAgentsUnknown(ctx context.Context, cutoff time.Time) (int, error)
}

// CapabilityStore persists the services agents offer.
type CapabilityStore interface {
	// ReplaceCapabilities swaps an agent's capability set atomically.
	ReplaceCapabilities(ctx context.Context, agentID string, caps []*Capability) error
	ListCapabilities(ctx context.Context, agentID string) ([]*Capability, error)
}

// InteractionStore persists negotiations. UpdateInteraction is the
// per-row serialization point of the state machine.
type InteractionStore interface {
	CreateInteraction(ctx context.Context, in *Interaction) error
	GetInteraction(ctx context.Context, id string) (*Interaction, error)
	GetInteractionByHash(ctx context.Context, hash string) (*Interaction, error)
	GetInteractionByIdempotencyKey(ctx context.Context, key string) (*Interaction, error)
	// LatestInteractionFor returns the most recently updated interaction in
	// the given status where did is initiator or provider.
	LatestInteractionFor(ctx context.Context, status InteractionStatus, did string) (*Interaction, error)
	// UpdateInteraction applies mutate under a status guard: if the row's
	// current status differs from expect, ErrConflict is returned and
	// nothing changes. The mutated row is returned on success.
	UpdateInteraction(ctx context.Context, id string, expect InteractionStatus, mutate func(*Interaction) error) (*Interaction, error)
	ListInteractionsByStatus(ctx context.Context, status InteractionStatus) ([]*Interaction, error)
	CountInteractionsByStatus(ctx context.Context, statuses ...InteractionStatus) (int, error)
	// SetInteractionBatchID stamps the anchoring batch onto a row; this is
	// the only mutation permitted on terminal rows.
	SetInteractionBatchID(ctx context.Context, interactionHash string, batchID int64) error
}

// MessageStore is the delivery queue.
type MessageStore interface {
	EnqueueMessage(ctx context.Context, m *Message) error
	// PollMessages returns all queued messages for a DID in created order
	// and atomically marks them delivered.
	PollMessages(ctx context.Context, toDID string) ([]*Message, error)
	MarkMessageFailed(ctx context.Context, id, lastError string) error
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int, error)
}

// NonceStore is the replay barrier; insertion of a seen nonce fails with
// ErrDuplicate.
type NonceStore interface {
	InsertNonce(ctx context.Context, n *NonceRecord) error
	DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error)
}

// BatchStore persists anchoring batches.
type BatchStore interface {
	// CreateBatch assigns b.ID.
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id int64) (*Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error)
	UpdateBatch(ctx context.Context, id int64, status BatchStatus, txHash string) error
	CountBatches(ctx context.Context) (int, error)
}

// ProofStore persists per-leaf inclusion proofs.
type ProofStore interface {
	SaveProof(ctx context.Context, p *Proof) error
	GetProof(ctx context.Context, interactionHash string) (*Proof, error)
}

// Store is the full persistence surface of the server.
type Store interface {
	AgentStore
	CapabilityStore
	InteractionStore
	MessageStore
	NonceStore
	BatchStore
	ProofStore
}
