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

package envelope_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/keys"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env, err := envelope.New(envelope.KindRequest, "did:aeep:alice", "did:aeep:bob", envelope.RequestPayload{
		TaskType:       "financial-analysis",
		MaxBudget:      0.05,
		Currency:       "ETH",
		IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	require.NoError(t, env.Sign(priv))
	require.NoError(t, env.VerifySignature(pub))
}

func TestVerify_RejectsTampering(t *testing.T) {
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env, err := envelope.New(envelope.KindHeartbeat, "did:aeep:alice", "did:aeep:server",
		envelope.HeartbeatPayload{Availability: "online"})
	require.NoError(t, err)
	require.NoError(t, env.Sign(priv))

	tampered := *env
	tampered.To = "did:aeep:mallory"
	require.Error(t, tampered.VerifySignature(pub))

	tampered = *env
	tampered.Payload = json.RawMessage(`{"availability":"offline"}`)
	require.Error(t, tampered.VerifySignature(pub))

	otherPub, _, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.Error(t, env.VerifySignature(otherPub))
}

func TestVerify_SignatureCoversKeyOrderInvariantPayload(t *testing.T) {
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env, err := envelope.New(envelope.KindVerify, "did:aeep:a", "did:aeep:b",
		envelope.VerifyPayload{Verified: true, ResultHash: "h"})
	require.NoError(t, err)
	require.NoError(t, env.Sign(priv))

	// Re-ordering payload keys must not break verification.
	reordered := *env
	reordered.Payload = json.RawMessage(`{"verified":true,"result_hash":"h"}`)
	require.NoError(t, reordered.VerifySignature(pub))
}

func TestValidate_MissingFields(t *testing.T) {
	env := &envelope.Envelope{Type: envelope.KindRequest}
	require.Error(t, env.Validate())

	env, err := envelope.New("x811/bogus", "did:aeep:a", "did:aeep:b", map[string]any{})
	require.NoError(t, err)
	require.Error(t, env.Validate())
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	_, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env, err := envelope.New(envelope.KindRequest, "did:aeep:a", "did:aeep:b",
		envelope.RequestPayload{TaskType: "t", MaxBudget: 1, IdempotencyKey: "k"})
	require.NoError(t, err)
	require.NoError(t, env.Sign(priv))

	h1, err := env.CanonicalHash()
	require.NoError(t, err)
	h2, err := env.CanonicalHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestKind_Negotiation(t *testing.T) {
	assert.True(t, envelope.KindRequest.Negotiation())
	assert.True(t, envelope.KindPaymentFailed.Negotiation())
	assert.False(t, envelope.KindHeartbeat.Negotiation())
	assert.True(t, envelope.KindHeartbeat.Valid())
}
