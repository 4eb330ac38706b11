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

package auth_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/core/did"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/core/keys"
	"github.com/x811-project/aeep/pkg/server/auth"
	"github.com/x811-project/aeep/pkg/server/store"
)

func seedAgent(t *testing.T, s *store.Memory, didStr string, status store.AgentStatus) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	doc, err := json.Marshal(did.NewDocument(didStr, pub, nil))
	require.NoError(t, err)
	require.NoError(t, s.CreateAgent(context.Background(), &store.Agent{
		ID: did.AgentID(didStr), DID: didStr, Status: status, DIDDocument: doc,
	}))
	return priv
}

func signedEnvelope(t *testing.T, priv ed25519.PrivateKey, from string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.KindHeartbeat, from, "did:aeep:server",
		envelope.HeartbeatPayload{Availability: "online"})
	require.NoError(t, err)
	require.NoError(t, env.Sign(priv))
	return env
}

func TestVerifyEnvelope_AcceptThenReplay(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	priv := seedAgent(t, s, "did:aeep:alice", store.AgentActive)
	v := auth.NewVerifier(s)

	env := signedEnvelope(t, priv, "did:aeep:alice")
	require.NoError(t, v.VerifyEnvelope(ctx, env, nil))

	err := v.VerifyEnvelope(ctx, env, nil)
	assert.True(t, errcode.HasCode(err, errcode.NonceReused))
}

func TestVerifyEnvelope_ClockSkewBoundary(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	priv := seedAgent(t, s, "did:aeep:alice", store.AgentActive)

	created := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Exactly five minutes late: accepted.
	v := auth.NewVerifier(s).WithClock(func() time.Time { return created.Add(auth.MaxClockSkew) })
	env := signedEnvelope(t, priv, "did:aeep:alice")
	env.Created = created.Format(time.RFC3339)
	require.NoError(t, env.Sign(priv))
	require.NoError(t, v.VerifyEnvelope(ctx, env, nil))

	// A second past the window: rejected.
	v = auth.NewVerifier(s).WithClock(func() time.Time { return created.Add(auth.MaxClockSkew + time.Second) })
	env2 := signedEnvelope(t, priv, "did:aeep:alice")
	env2.Created = created.Format(time.RFC3339)
	require.NoError(t, env2.Sign(priv))
	err := v.VerifyEnvelope(ctx, env2, nil)
	assert.True(t, errcode.HasCode(err, errcode.ClockSkew))

	// Future-dated beyond the window is symmetric.
	v = auth.NewVerifier(s).WithClock(func() time.Time { return created.Add(-auth.MaxClockSkew - time.Second) })
	env3 := signedEnvelope(t, priv, "did:aeep:alice")
	env3.Created = created.Format(time.RFC3339)
	require.NoError(t, env3.Sign(priv))
	err = v.VerifyEnvelope(ctx, env3, nil)
	assert.True(t, errcode.HasCode(err, errcode.ClockSkew))
}

func TestVerifyEnvelope_BadSignature(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedAgent(t, s, "did:aeep:alice", store.AgentActive)
	_, otherPriv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env := signedEnvelope(t, otherPriv, "did:aeep:alice")
	err = auth.NewVerifier(s).VerifyEnvelope(ctx, env, nil)
	assert.True(t, errcode.HasCode(err, errcode.InvalidSignature))
}

func TestVerifyEnvelope_DIDStatusGate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	revokedPriv := seedAgent(t, s, "did:aeep:revoked", store.AgentRevoked)
	deactPriv := seedAgent(t, s, "did:aeep:gone", store.AgentDeactivated)
	v := auth.NewVerifier(s)

	err := v.VerifyEnvelope(ctx, signedEnvelope(t, revokedPriv, "did:aeep:revoked"), nil)
	assert.True(t, errcode.HasCode(err, errcode.DIDRevoked))

	err = v.VerifyEnvelope(ctx, signedEnvelope(t, deactPriv, "did:aeep:gone"), nil)
	assert.True(t, errcode.HasCode(err, errcode.DIDDeactivated))
}

func TestVerifyEnvelope_Bootstrap(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	v := auth.NewVerifier(s)
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	env := signedEnvelope(t, priv, "did:aeep:newcomer")
	err = v.VerifyEnvelope(ctx, env, nil)
	assert.True(t, errcode.HasCode(err, errcode.DIDNotFound), "unregistered without bootstrap key")

	env2 := signedEnvelope(t, priv, "did:aeep:newcomer")
	require.NoError(t, v.VerifyEnvelope(ctx, env2, pub), "registration call supplies the key")
}

func TestVerifyEnvelope_MalformedShape(t *testing.T) {
	err := auth.NewVerifier(store.NewMemory()).VerifyEnvelope(context.Background(), &envelope.Envelope{}, nil)
	assert.True(t, errcode.HasCode(err, errcode.MalformedEnvelope))
}

func TestVerifyPollAccess(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	priv := seedAgent(t, s, "did:aeep:alice", store.AgentActive)
	v := auth.NewVerifier(s)

	_, err := v.VerifyPollAccess(ctx, "ghost", "did:aeep:ghost", "")
	assert.True(t, errcode.HasCode(err, errcode.AgentNotFound))

	_, err = v.VerifyPollAccess(ctx, "alice", "did:aeep:mallory", "")
	assert.True(t, errcode.HasCode(err, errcode.NotOwner))

	agent, err := v.VerifyPollAccess(ctx, "alice", "did:aeep:alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", agent.ID)

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "did:aeep:alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(priv)
	require.NoError(t, err)
	_, err = v.VerifyPollAccess(ctx, "alice", "", token)
	require.NoError(t, err)

	_, wrongPriv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "did:aeep:alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(wrongPriv)
	require.NoError(t, err)
	_, err = v.VerifyPollAccess(ctx, "alice", "", forged)
	assert.True(t, errcode.HasCode(err, errcode.InvalidSignature))
}
