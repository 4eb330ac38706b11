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

package store

import (
	"encoding/json"
	"time"
)

// AgentStatus is the lifecycle state of a registered DID.
type AgentStatus string

const (
	AgentActive      AgentStatus = "active"
	AgentRevoked     AgentStatus = "revoked"
	AgentDeactivated AgentStatus = "deactivated"
)

// Availability is the heartbeat-driven liveness of an agent.
type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityBusy    Availability = "busy"
	AvailabilityOffline Availability = "offline"
	AvailabilityUnknown Availability = "unknown"
)

// ValidAvailability reports whether a is one of the four states.
func ValidAvailability(a Availability) bool {
	switch a {
	case AvailabilityOnline, AvailabilityBusy, AvailabilityOffline, AvailabilityUnknown:
		return true
	}
	return false
}

// Agent owns exactly one DID. The id is the DID suffix.
type Agent struct {
	ID               string
	DID              string
	Status           AgentStatus
	Availability     Availability
	LastSeenAt       time.Time
	Name             string
	Description      string
	Endpoint         string
	PaymentAddress   string
	TrustScore       float64
	InteractionCount int
	SuccessfulCount  int
	FailedCount      int
	DisputeCount     int
	DIDDocument      json.RawMessage
	AgentCard        json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Capability is one named service an agent offers; (AgentID, Name) is
// unique.
type Capability struct {
	AgentID     string
	Name        string
	Description string
	Metadata    json.RawMessage
}

// InteractionStatus is a node of the negotiation graph.
type InteractionStatus string

const (
	StatusPending   InteractionStatus = "pending"
	StatusOffered   InteractionStatus = "offered"
	StatusAccepted  InteractionStatus = "accepted"
	StatusDelivered InteractionStatus = "delivered"
	StatusVerified  InteractionStatus = "verified"
	StatusCompleted InteractionStatus = "completed"
	StatusExpired   InteractionStatus = "expired"
	StatusRejected  InteractionStatus = "rejected"
	StatusDisputed  InteractionStatus = "disputed"
	StatusFailed    InteractionStatus = "failed"
)

// Terminal reports whether s admits no further transition (batch_id
// assignment excepted).
func (s InteractionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Outcome records how a terminal interaction ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
	OutcomeDispute  Outcome = "dispute"
)

// Interaction is the server-side record of one negotiation.
type Interaction struct {
	ID              string
	InteractionHash string
	InitiatorDID    string
	ProviderDID     string
	Capability      string
	Status          InteractionStatus
	Outcome         Outcome
	PaymentTxHash   string
	PaymentAmount   float64
	BatchID         int64 // 0 until anchored
	RequestPayload  json.RawMessage
	OfferPayload    json.RawMessage
	ResultPayload   json.RawMessage
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageStatus is the delivery state of a queued envelope.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Message is a stored envelope awaiting delivery.
type Message struct {
	ID          string
	Type        string
	FromDID     string
	ToDID       string
	Envelope    json.RawMessage
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      MessageStatus
	DeliveredAt *time.Time
	RetryCount  int
	LastError   string
}

// NonceRecord pins an accepted envelope nonce for the replay window.
type NonceRecord struct {
	Nonce     string
	DID       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BatchStatus is the anchoring state of a merkle batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSubmitted BatchStatus = "submitted"
	BatchConfirmed BatchStatus = "confirmed"
	BatchFailed    BatchStatus = "failed"
)

// Batch is one anchoring unit.
type Batch struct {
	ID               int64
	MerkleRoot       string
	InteractionCount int
	TxHash           string
	Status           BatchStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Proof is the per-leaf inclusion path of an anchored interaction.
type Proof struct {
	InteractionHash string
	BatchID         int64
	LeafHash        string
	Siblings        []string
	CreatedAt       time.Time
}
