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

// Package auth runs every inbound envelope through the authentication
// pipeline: shape, timestamp skew, key resolution, DID status gate,
// signature verification, and finally the nonce insertion barrier. The
// nonce insert is the commit point; of two racing envelopes with the
// same nonce exactly one passes.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/did"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
)

const (
	// MaxClockSkew is the permitted |server_now - envelope.created|.
	MaxClockSkew = 5 * time.Minute
	// NonceTTL is the replay protection window.
	NonceTTL = 24 * time.Hour
)

// Verifier is the authentication pipeline.
type Verifier struct {
	store store.Store
	sf    singleflight.Group
	now   func() time.Time
}

// NewVerifier builds a pipeline over the store.
func NewVerifier(s store.Store) *Verifier {
	return &Verifier{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source; used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyEnvelope runs the full pipeline. bootstrapKey is the public key
// supplied in a registration body, consulted only when the sender's DID
// is not yet registered; pass nil for all other calls.
func (v *Verifier) VerifyEnvelope(ctx context.Context, env *envelope.Envelope, bootstrapKey ed25519.PublicKey) error {
	if err := v.verify(ctx, env, bootstrapKey); err != nil {
		metrics.EnvelopesRejected.WithLabelValues(string(errcode.From(err).Code)).Inc()
		return err
	}
	metrics.EnvelopesAccepted.WithLabelValues(string(env.Type)).Inc()
	return nil
}

func (v *Verifier) verify(ctx context.Context, env *envelope.Envelope, bootstrapKey ed25519.PublicKey) error {
	if err := env.Validate(); err != nil {
		return err
	}

	created, err := env.CreatedTime()
	if err != nil {
		return errcode.New(errcode.MalformedEnvelope, "created is not a valid timestamp")
	}
	now := v.now()
	skew := now.Sub(created)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return errcode.Newf(errcode.ClockSkew, "envelope timestamp is %s away from server time", skew.Round(time.Millisecond))
	}

	pub, err := v.resolveKey(ctx, env.From, bootstrapKey)
	if err != nil {
		return err
	}

	if err := env.VerifySignature(pub); err != nil {
		return err
	}

	// Commit point: replay loses here even under concurrency.
	err = v.store.InsertNonce(ctx, &store.NonceRecord{
		Nonce:     env.Nonce,
		DID:       env.From,
		CreatedAt: now,
		ExpiresAt: now.Add(NonceTTL),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return errcode.Newf(errcode.NonceReused, "nonce %s was already accepted", env.Nonce)
	}
	return err
}

// resolveKey loads the sender's Ed25519 verification key. Concurrent
// resolutions of the same DID share one store read.
func (v *Verifier) resolveKey(ctx context.Context, fromDID string, bootstrapKey ed25519.PublicKey) (ed25519.PublicKey, error) {
	res, err, _ := v.sf.Do("resolve:"+fromDID, func() (any, error) {
		agent, err := v.store.GetAgentByDID(ctx, fromDID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil // unregistered; bootstrap may apply
		}
		if err != nil {
			return nil, err
		}
		return agent, nil
	})
	if err != nil {
		return nil, err
	}

	if res == nil {
		if len(bootstrapKey) == ed25519.PublicKeySize {
			return bootstrapKey, nil
		}
		return nil, errcode.Newf(errcode.DIDNotFound, "DID %s is not registered", fromDID)
	}

	agent := res.(*store.Agent)
	switch agent.Status {
	case store.AgentActive:
	case store.AgentRevoked:
		return nil, errcode.Newf(errcode.DIDRevoked, "DID %s is revoked", fromDID)
	case store.AgentDeactivated:
		return nil, errcode.Newf(errcode.DIDDeactivated, "DID %s is deactivated", fromDID)
	default:
		return nil, errcode.Newf(errcode.DIDNotFound, "DID %s has unknown status", fromDID)
	}

	var doc did.Document
	if err := json.Unmarshal(agent.DIDDocument, &doc); err != nil {
		return nil, errcode.New(errcode.InvalidSignature, "stored DID document is unreadable")
	}
	return doc.Ed25519Key()
}
