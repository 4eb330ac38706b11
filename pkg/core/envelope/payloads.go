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

package envelope

// RequestPayload opens a negotiation. The idempotency key dedupes
// repeated sends; the acceptance policy is stored, not enforced.
type RequestPayload struct {
	TaskType         string         `json:"task_type"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	MaxBudget        float64        `json:"max_budget"`
	Currency         string         `json:"currency,omitempty"`
	Deadline         int64          `json:"deadline,omitempty"`
	AcceptancePolicy string         `json:"acceptance_policy,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key"`
}

// OfferPayload prices a pending request. Amounts are decimal strings;
// the fee and total must satisfy the 2.5% fee rule to six decimals.
type OfferPayload struct {
	RequestID   string         `json:"request_id,omitempty"`
	Price       string         `json:"price"`
	ProtocolFee string         `json:"protocol_fee"`
	TotalCost   string         `json:"total_cost"`
	Currency    string         `json:"currency,omitempty"`
	Terms       map[string]any `json:"terms,omitempty"`
}

// AcceptPayload accepts an offer, binding it by hash.
type AcceptPayload struct {
	OfferID   string `json:"offer_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	OfferHash string `json:"offer_hash"`
}

// RejectPayload declines an offer with a reason code.
type RejectPayload struct {
	OfferID   string `json:"offer_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ResultPayload delivers the task output, bound by hash.
type ResultPayload struct {
	RequestID  string         `json:"request_id,omitempty"`
	ResultHash string         `json:"result_hash"`
	Data       map[string]any `json:"data,omitempty"`
}

// VerifyPayload confirms or disputes a delivered result.
type VerifyPayload struct {
	RequestID   string `json:"request_id,omitempty"`
	ResultHash  string `json:"result_hash,omitempty"`
	Verified    bool   `json:"verified"`
	DisputeCode string `json:"dispute_code,omitempty"`
}

// PaymentPayload settles a verified interaction.
type PaymentPayload struct {
	RequestID string  `json:"request_id,omitempty"`
	TxHash    string  `json:"tx_hash"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
}

// PaymentFailedPayload signals settlement failure.
type PaymentFailedPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// HeartbeatPayload refreshes an agent's availability.
type HeartbeatPayload struct {
	Availability string `json:"availability"`
	Capacity     int    `json:"capacity,omitempty"`
	TTL          int    `json:"ttl,omitempty"`
}
